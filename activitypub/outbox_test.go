package activitypub

import (
	"encoding/json"
	"testing"

	"loxodon/db"
	"loxodon/domain"
	"loxodon/util"
)

func newTestOutbox(t *testing.T, conf *util.AppConfig) (*db.DB, *Outbox, *FollowService) {
	database := setupFederationDB(t)
	t.Cleanup(func() { database.Close() })

	resolver := &storeResolver{database: database}
	follows := NewFollowService(database, conf)
	dispatcher := NewDispatcher(database)
	outbox := NewOutbox(database, dispatcher, follows, resolver, conf)
	return database, outbox, follows
}

func TestSendAcceptQueuesDelivery(t *testing.T) {
	database, outbox, _ := newTestOutbox(t, testConf())

	alice := storeLocalActor(t, database, "alice")
	bob := storeRemoteActor(t, database, "bob", "remote.example")

	if err := outbox.SendAccept(alice, bob, "https://remote.example/follows/1"); err != nil {
		t.Fatalf("SendAccept failed: %v", err)
	}

	err, jobs := database.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	if len(*jobs) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(*jobs))
	}

	job := (*jobs)[0]
	if job.InboxURI != bob.InboxURI {
		t.Errorf("Expected delivery to the follower's direct inbox, got '%s'", job.InboxURI)
	}

	var payload struct {
		Type   string `json:"type"`
		Actor  string `json:"actor"`
		Object struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"object"`
	}
	if err := json.Unmarshal([]byte(job.ActivityJSON), &payload); err != nil {
		t.Fatalf("Failed to parse queued payload: %v", err)
	}
	if payload.Type != "Accept" {
		t.Errorf("Expected Accept payload, got '%s'", payload.Type)
	}
	if payload.Actor != alice.URL {
		t.Errorf("Expected actor '%s', got '%s'", alice.URL, payload.Actor)
	}
	if payload.Object.ID != "https://remote.example/follows/1" || payload.Object.Type != "Follow" {
		t.Errorf("Expected the original Follow as object, got %+v", payload.Object)
	}
}

func TestSendFollowCreatesPendingEdge(t *testing.T) {
	database, outbox, _ := newTestOutbox(t, testConf())

	alice := storeLocalActor(t, database, "alice")
	bob := storeRemoteActor(t, database, "bob", "remote.example")

	if err := outbox.SendFollow(alice, bob.URL); err != nil {
		t.Fatalf("SendFollow failed: %v", err)
	}

	err, follow := database.ReadFollowByActors(alice.Id, bob.Id)
	if err != nil {
		t.Fatalf("ReadFollowByActors failed: %v", err)
	}
	if follow.State != domain.FollowStatePending {
		t.Errorf("Expected pending edge until the remote Accept, got '%s'", follow.State)
	}

	err, count := database.CountPendingDeliveries()
	if err != nil {
		t.Fatalf("CountPendingDeliveries failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 queued Follow delivery, got %d", count)
	}
}

func TestSendFollowTwiceReusesURI(t *testing.T) {
	database, outbox, _ := newTestOutbox(t, testConf())

	alice := storeLocalActor(t, database, "alice")
	bob := storeRemoteActor(t, database, "bob", "remote.example")

	if err := outbox.SendFollow(alice, bob.URL); err != nil {
		t.Fatalf("First SendFollow failed: %v", err)
	}
	err, first := database.ReadFollowByActors(alice.Id, bob.Id)
	if err != nil {
		t.Fatalf("ReadFollowByActors failed: %v", err)
	}

	if err := outbox.SendFollow(alice, bob.URL); err != nil {
		t.Fatalf("Second SendFollow failed: %v", err)
	}

	// Still one edge with the original URI; the retry re-delivers it
	err, second := database.ReadFollowByActors(alice.Id, bob.Id)
	if err != nil {
		t.Fatalf("ReadFollowByActors failed: %v", err)
	}
	if second.URI != first.URI {
		t.Errorf("Expected the original follow URI to be reused, got '%s'", second.URI)
	}

	err, jobs := database.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	for _, job := range *jobs {
		var payload struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(job.ActivityJSON), &payload); err != nil {
			t.Fatalf("Failed to parse queued payload: %v", err)
		}
		if payload.ID != first.URI {
			t.Errorf("Expected re-delivery of '%s', got '%s'", first.URI, payload.ID)
		}
	}
}

func TestSendUndoFollowRemovesEdge(t *testing.T) {
	database, outbox, _ := newTestOutbox(t, testConf())

	alice := storeLocalActor(t, database, "alice")
	bob := storeRemoteActor(t, database, "bob", "remote.example")

	if err := outbox.SendFollow(alice, bob.URL); err != nil {
		t.Fatalf("SendFollow failed: %v", err)
	}
	if err := outbox.SendUndoFollow(alice, bob.URL); err != nil {
		t.Fatalf("SendUndoFollow failed: %v", err)
	}

	err, gone := database.ReadFollowByActors(alice.Id, bob.Id)
	if err == nil || gone != nil {
		t.Error("Expected edge to be removed after Undo")
	}

	// Follow delivery plus Undo delivery
	err, count := database.CountPendingDeliveries()
	if err != nil {
		t.Fatalf("CountPendingDeliveries failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 queued deliveries, got %d", count)
	}

	// Undoing a follow that never existed is a no-op
	if err := outbox.SendUndoFollow(alice, bob.URL); err != nil {
		t.Errorf("SendUndoFollow on missing edge must be a no-op, got: %v", err)
	}
}

func TestSendCreateNotePublic(t *testing.T) {
	database, outbox, follows := newTestOutbox(t, testConf())

	alice := storeLocalActor(t, database, "alice")
	bob := storeRemoteActor(t, database, "bob", "remote.example")
	carol := storeRemoteActor(t, database, "carol", "remote.example")

	// Both followers sit behind the same shared inbox
	for i, follower := range []*domain.Actor{bob, carol} {
		follow, _, err := follows.CreateRequested(follower.Id, alice.Id, follower.URL+"/follows/1")
		if err != nil {
			t.Fatalf("CreateRequested %d failed: %v", i, err)
		}
		if err := follows.Accept(follow.URI); err != nil {
			t.Fatalf("Accept %d failed: %v", i, err)
		}
	}

	if err := outbox.SendCreateNote(alice, "hello world", true); err != nil {
		t.Fatalf("SendCreateNote failed: %v", err)
	}

	// One deduplicated job for the shared inbox
	err, jobs := database.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatalf("ReadPendingDeliveries failed: %v", err)
	}
	if len(*jobs) != 1 {
		t.Fatalf("Expected 1 deduplicated delivery, got %d", len(*jobs))
	}

	var payload struct {
		To []string `json:"to"`
		CC []string `json:"cc"`
	}
	if err := json.Unmarshal([]byte((*jobs)[0].ActivityJSON), &payload); err != nil {
		t.Fatalf("Failed to parse queued payload: %v", err)
	}
	if len(payload.To) != 1 || payload.To[0] != PublicAudienceURI {
		t.Errorf("Expected public to, got %v", payload.To)
	}
	if len(payload.CC) != 1 || payload.CC[0] != alice.FollowersURI {
		t.Errorf("Expected followers cc, got %v", payload.CC)
	}

	// The local activity record exists
	err, recent := database.ReadRecentActivities(10)
	if err != nil {
		t.Fatalf("ReadRecentActivities failed: %v", err)
	}
	if len(*recent) != 1 || !(*recent)[0].Local {
		t.Errorf("Expected 1 local activity record, got %+v", recent)
	}
}

func TestSendCreateNoteNonPublic(t *testing.T) {
	database, outbox, follows := newTestOutbox(t, testConf())

	alice := storeLocalActor(t, database, "alice")
	bob := storeRemoteActor(t, database, "bob", "remote.example")

	follow, _, err := follows.CreateRequested(bob.Id, alice.Id, "https://remote.example/follows/1")
	if err != nil {
		t.Fatalf("CreateRequested failed: %v", err)
	}
	if err := follows.Accept(follow.URI); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	if err := outbox.SendCreateNote(alice, "just for us", false); err != nil {
		t.Fatalf("SendCreateNote failed: %v", err)
	}

	// Non-public: the record exists locally but nothing is broadcast
	err, count := database.CountPendingDeliveries()
	if err != nil {
		t.Fatalf("CountPendingDeliveries failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no broadcast for non-public note, got %d jobs", count)
	}

	err, recent := database.ReadRecentActivities(10)
	if err != nil {
		t.Fatalf("ReadRecentActivities failed: %v", err)
	}
	if len(*recent) != 1 {
		t.Fatalf("Expected the note to be stored locally, got %d records", len(*recent))
	}

	var payload struct {
		To []string `json:"to"`
		CC []string `json:"cc"`
	}
	if err := json.Unmarshal([]byte((*recent)[0].RawJSON), &payload); err != nil {
		t.Fatalf("Failed to parse stored payload: %v", err)
	}
	if len(payload.To) != 0 || len(payload.CC) != 0 {
		t.Errorf("Expected empty to/cc on non-public note, got to=%v cc=%v", payload.To, payload.CC)
	}
}
