package web

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loxodon/activitypub"
	"loxodon/db"
	"loxodon/domain"
	"loxodon/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// testResolver answers actor lookups from the test database
type testResolver struct {
	database *db.DB
}

func (r *testResolver) ResolveOrFetch(actorURL string) (*domain.Actor, error) {
	err, actor := r.database.ReadActorByURL(actorURL)
	if err != nil || actor == nil {
		return nil, fmt.Errorf("actor %s not found", actorURL)
	}
	return actor, nil
}

func testWebConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Domain = "local.example"
	conf.Conf.OpenFederation = true
	return conf
}

// newTestServer wires a Server against an in-memory database. The inbox
// manager is not started, enqueued batches just sit in the channel.
func newTestServer(t *testing.T) (*Server, *db.DB) {
	gin.SetMode(gin.TestMode)

	database, err := db.NewDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	server := NewServer(testWebConf(), database, &testResolver{database: database}, activitypub.NewInboxManager(nil))
	return server, database
}

// storeWebActor stores a local actor with a generated keypair
func storeWebActor(t *testing.T, database *db.DB, name string) *domain.Actor {
	keypair := util.GeneratePemKeypair()
	actor := &domain.Actor{
		Id:             uuid.New(),
		URL:            "https://local.example/users/" + name,
		PreferredName:  name,
		InboxURI:       "https://local.example/users/" + name + "/inbox",
		SharedInboxURI: "https://local.example/inbox",
		FollowersURI:   "https://local.example/users/" + name + "/followers",
		PublicKeyPem:   keypair.Public,
		PrivateKeyPem:  keypair.Private,
		LastFetchedAt:  time.Now(),
	}
	if err := database.CreateActor(actor); err != nil {
		t.Fatalf("Failed to store actor: %v", err)
	}
	return actor
}

// storeWebRemoteActor stores a remote actor with its keypair so tests can
// sign inbox requests as that actor
func storeWebRemoteActor(t *testing.T, database *db.DB, name, host string) (*domain.Actor, *util.RsaKeyPair) {
	server := &domain.Server{
		Id:                uuid.New(),
		Host:              host,
		FederationAllowed: true,
		CreatedAt:         time.Now(),
	}
	if err := database.CreateServer(server); err != nil {
		t.Fatalf("Failed to store server: %v", err)
	}

	keypair := util.GeneratePemKeypair()
	actor := &domain.Actor{
		Id:            uuid.New(),
		URL:           "https://" + host + "/users/" + name,
		PreferredName: name,
		InboxURI:      "https://" + host + "/users/" + name + "/inbox",
		PublicKeyPem:  keypair.Public,
		ServerId:      &server.Id,
		LastFetchedAt: time.Now(),
	}
	if err := database.CreateActor(actor); err != nil {
		t.Fatalf("Failed to store remote actor: %v", err)
	}
	return actor, keypair
}

// inboxEngine builds a minimal engine with just the shared inbox route
func inboxEngine(server *Server) *gin.Engine {
	g := gin.New()
	g.POST("/inbox", func(c *gin.Context) {
		server.HandleInbox(c, nil)
	})
	return g
}

func TestHandleInboxMalformedBody(t *testing.T) {
	server, _ := newTestServer(t)
	g := inboxEngine(server)

	req := httptest.NewRequest("POST", "/inbox", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", w.Code)
	}
}

func TestHandleInboxUnsignedRequest(t *testing.T) {
	server, _ := newTestServer(t)
	g := inboxEngine(server)

	body := []byte(`{"id": "https://remote.example/activities/1", "type": "Follow", "actor": "https://remote.example/users/bob"}`)
	req := httptest.NewRequest("POST", "/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unsigned request, got %d", w.Code)
	}
}

func TestHandleInboxUnknownSigner(t *testing.T) {
	server, _ := newTestServer(t)
	g := inboxEngine(server)

	keypair := util.GeneratePemKeypair()
	privateKey, err := activitypub.ParsePrivateKey(keypair.Private)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	body := []byte(`{"id": "https://remote.example/activities/1", "type": "Follow", "actor": "https://remote.example/users/ghost"}`)
	req := httptest.NewRequest("POST", "/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "local.example")

	// Signed by an actor the resolver cannot find
	if err := activitypub.SignRequest(req, privateKey, "https://remote.example/users/ghost#main-key", body); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unknown signer, got %d", w.Code)
	}
}

func TestHandleInboxAcceptsSignedRequest(t *testing.T) {
	server, database := newTestServer(t)
	g := inboxEngine(server)

	bob, keypair := storeWebRemoteActor(t, database, "bob", "remote.example")
	privateKey, err := activitypub.ParsePrivateKey(keypair.Private)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	body := []byte(fmt.Sprintf(`{
		"id": "https://remote.example/follows/1",
		"type": "Follow",
		"actor": "%s",
		"object": "https://local.example/users/alice"
	}`, bob.URL))

	req := httptest.NewRequest("POST", "/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "local.example")

	if err := activitypub.SignRequest(req, privateKey, bob.URL+"#main-key", body); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202 for a validly signed request, got %d", w.Code)
	}
}

func TestHandleInboxWrongKeySignature(t *testing.T) {
	server, database := newTestServer(t)
	g := inboxEngine(server)

	bob, _ := storeWebRemoteActor(t, database, "bob", "remote.example")

	// Sign with a key that does not match bob's stored public key
	otherKeypair := util.GeneratePemKeypair()
	privateKey, err := activitypub.ParsePrivateKey(otherKeypair.Private)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	body := []byte(fmt.Sprintf(`{"id": "https://remote.example/activities/1", "type": "Follow", "actor": "%s"}`, bob.URL))
	req := httptest.NewRequest("POST", "/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "local.example")

	if err := activitypub.SignRequest(req, privateKey, bob.URL+"#main-key", body); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for forged signature, got %d", w.Code)
	}
}
