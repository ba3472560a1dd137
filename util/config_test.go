package util

import (
	"os"
	"testing"
)

func TestConfigConstants(t *testing.T) {
	if Name != "loxodon" {
		t.Errorf("Expected Name 'loxodon', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  domain: example.com
  openFederation: true
  scoreBonus: 15
  scorePenalty: 30
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}

	if config.Conf.Domain != "example.com" {
		t.Errorf("Expected Domain 'example.com', got '%s'", config.Conf.Domain)
	}

	if !config.Conf.OpenFederation {
		t.Error("Expected OpenFederation to be true")
	}

	if config.Conf.ScoreBonus != 15 {
		t.Errorf("Expected ScoreBonus 15, got %d", config.Conf.ScoreBonus)
	}

	if config.Conf.ScorePenalty != 30 {
		t.Errorf("Expected ScorePenalty 30, got %d", config.Conf.ScorePenalty)
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 8080
  domain: example.com
  openFederation: true
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	os.Setenv("LOXODON_HOST", "0.0.0.0")
	os.Setenv("LOXODON_HTTPPORT", "3000")
	os.Setenv("LOXODON_DOMAIN", "override.example")
	os.Setenv("LOXODON_OPEN_FEDERATION", "false")
	defer func() {
		os.Unsetenv("LOXODON_HOST")
		os.Unsetenv("LOXODON_HTTPPORT")
		os.Unsetenv("LOXODON_DOMAIN")
		os.Unsetenv("LOXODON_OPEN_FEDERATION")
	}()

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "0.0.0.0" {
		t.Errorf("Expected env override Host '0.0.0.0', got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 3000 {
		t.Errorf("Expected env override HttpPort 3000, got %d", config.Conf.HttpPort)
	}
	if config.Conf.Domain != "override.example" {
		t.Errorf("Expected env override Domain 'override.example', got '%s'", config.Conf.Domain)
	}
	if config.Conf.OpenFederation {
		t.Error("Expected env override OpenFederation to be false")
	}
}

func TestApplyConfDefaults(t *testing.T) {
	c := &AppConfig{}
	applyConfDefaults(c)

	if c.Conf.ScoreBonus != 10 {
		t.Errorf("Expected default ScoreBonus 10, got %d", c.Conf.ScoreBonus)
	}
	if c.Conf.ScorePenalty != 20 {
		t.Errorf("Expected default ScorePenalty 20, got %d", c.Conf.ScorePenalty)
	}
	if c.Conf.ScorePenalty <= c.Conf.ScoreBonus {
		t.Error("Expected the penalty step to outweigh the bonus step")
	}
	if c.Conf.DeliveryBatch != 50 {
		t.Errorf("Expected default DeliveryBatch 50, got %d", c.Conf.DeliveryBatch)
	}
	if c.Conf.DeliveryIntervalSec != 10 {
		t.Errorf("Expected default DeliveryIntervalSec 10, got %d", c.Conf.DeliveryIntervalSec)
	}
	if c.Conf.PruneIntervalSec != 600 {
		t.Errorf("Expected default PruneIntervalSec 600, got %d", c.Conf.PruneIntervalSec)
	}
	if c.Conf.PruneStrikes != 3 {
		t.Errorf("Expected default PruneStrikes 3, got %d", c.Conf.PruneStrikes)
	}
}

func TestApplyConfDefaultsKeepsExplicitValues(t *testing.T) {
	c := &AppConfig{}
	c.Conf.ScoreBonus = 5
	c.Conf.PruneStrikes = 7
	applyConfDefaults(c)

	if c.Conf.ScoreBonus != 5 {
		t.Errorf("Expected explicit ScoreBonus 5 to survive, got %d", c.Conf.ScoreBonus)
	}
	if c.Conf.PruneStrikes != 7 {
		t.Errorf("Expected explicit PruneStrikes 7 to survive, got %d", c.Conf.PruneStrikes)
	}
}
