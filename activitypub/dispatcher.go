package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"loxodon/db"
	"loxodon/domain"

	"github.com/google/uuid"
)

// Dispatcher fans outbound activities into the delivery queue. Its
// contract ends at "job enqueued"; the delivery worker owns execution,
// retry and backoff. Nothing here blocks on network I/O.
type Dispatcher struct {
	database *db.DB
}

func NewDispatcher(database *db.DB) *Dispatcher {
	return &Dispatcher{database: database}
}

// UnicastTo schedules exactly one signed delivery job
func (d *Dispatcher) UnicastTo(activity interface{}, byActor *domain.Actor, toInboxURI string) error {
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return d.enqueue(string(body), byActor, toInboxURI)
}

// BroadcastTo schedules one signed delivery job per unique inbox URI.
// Shared inboxes repeated across followers collapse to a single job, a
// server with N local followers gets one HTTP call, not N.
func (d *Dispatcher) BroadcastTo(activity interface{}, byActor *domain.Actor, toInboxURIs []string) error {
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	seen := make(map[string]bool, len(toInboxURIs))
	scheduled := 0
	for _, uri := range toInboxURIs {
		if uri == "" || seen[uri] {
			continue
		}
		seen[uri] = true
		if err := d.enqueue(string(body), byActor, uri); err != nil {
			log.Printf("Dispatcher: Failed to queue delivery to %s: %v", uri, err)
			continue
		}
		scheduled++
	}

	log.Printf("Dispatcher: Queued %d deliveries for %s", scheduled, byActor.URL)
	return nil
}

func (d *Dispatcher) enqueue(activityJSON string, byActor *domain.Actor, toInboxURI string) error {
	job := &domain.DeliveryJob{
		Id:              uuid.New(),
		InboxURI:        toInboxURI,
		ActivityJSON:    activityJSON,
		SigningActorURL: byActor.URL,
		Attempts:        0,
		NextRetryAt:     time.Now(),
		CreatedAt:       time.Now(),
	}
	return d.database.EnqueueDelivery(job)
}
