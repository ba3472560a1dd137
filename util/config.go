package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "loxodon"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host                string
		HttpPort            int    `yaml:"httpPort"`
		Domain              string `yaml:"domain"`
		OpenFederation      bool   `yaml:"openFederation"`
		ScoreBonus          int    `yaml:"scoreBonus"`
		ScorePenalty        int    `yaml:"scorePenalty"`
		DeliveryBatch       int    `yaml:"deliveryBatch"`
		DeliveryIntervalSec int    `yaml:"deliveryIntervalSec"`
		PruneIntervalSec    int    `yaml:"pruneIntervalSec"`
		PruneStrikes        int    `yaml:"pruneStrikes"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("LOXODON_HOST")
	envHttpPort := os.Getenv("LOXODON_HTTPPORT")
	envDomain := os.Getenv("LOXODON_DOMAIN")
	envOpenFederation := os.Getenv("LOXODON_OPEN_FEDERATION")
	envScoreBonus := os.Getenv("LOXODON_SCORE_BONUS")
	envScorePenalty := os.Getenv("LOXODON_SCORE_PENALTY")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envDomain != "" {
		c.Conf.Domain = envDomain
	}

	if envOpenFederation == "true" {
		c.Conf.OpenFederation = true
	}

	if envOpenFederation == "false" {
		c.Conf.OpenFederation = false
	}

	if envScoreBonus != "" {
		v, err := strconv.Atoi(envScoreBonus)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.ScoreBonus = v
	}

	if envScorePenalty != "" {
		v, err := strconv.Atoi(envScorePenalty)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.ScorePenalty = v
	}

	applyConfDefaults(c)

	return c, nil
}

// applyConfDefaults fills zero values that would break the background workers
func applyConfDefaults(c *AppConfig) {
	if c.Conf.ScoreBonus <= 0 {
		c.Conf.ScoreBonus = 10
	}
	if c.Conf.ScorePenalty <= 0 {
		c.Conf.ScorePenalty = 20
	}
	if c.Conf.DeliveryBatch <= 0 {
		c.Conf.DeliveryBatch = 50
	}
	if c.Conf.DeliveryIntervalSec <= 0 {
		c.Conf.DeliveryIntervalSec = 10
	}
	if c.Conf.PruneIntervalSec <= 0 {
		c.Conf.PruneIntervalSec = 600
	}
	if c.Conf.PruneStrikes <= 0 {
		c.Conf.PruneStrikes = 3
	}
}
