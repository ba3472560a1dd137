package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"loxodon/db"
	"loxodon/domain"
	"loxodon/util"

	"github.com/google/uuid"
)

// actorCacheTTL is how long a cached remote actor stays fresh
const actorCacheTTL = 24 * time.Hour

// ActorResponse represents the JSON structure of a federated actor document
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Followers         string      `json:"followers"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// ActorResolver resolves actor URLs to durable actor records. Local URLs
// are answered from the store; remote ones are served from the cache and
// refetched when stale, creating the origin server row on first contact.
type ActorResolver struct {
	database *db.DB
	conf     *util.AppConfig
	client   *http.Client
}

func NewActorResolver(database *db.DB, conf *util.AppConfig) *ActorResolver {
	return &ActorResolver{
		database: database,
		conf:     conf,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *ActorResolver) ResolveOrFetch(actorURL string) (*domain.Actor, error) {
	host, err := util.ExtractHost(actorURL)
	if err != nil {
		return nil, err
	}

	if host == r.conf.Conf.Domain {
		err, actor := r.database.ReadActorByURL(actorURL)
		if err != nil || actor == nil {
			return nil, fmt.Errorf("local actor %s not found", actorURL)
		}
		return actor, nil
	}

	// Check cache first
	err, cached := r.database.ReadActorByURL(actorURL)
	if err == nil && cached != nil {
		if time.Since(cached.LastFetchedAt) < actorCacheTTL {
			return cached, nil
		}
	}

	return r.fetchRemoteActor(actorURL, host, cached)
}

// fetchRemoteActor fetches an actor document, records its origin server
// and stores or refreshes the cached actor
func (r *ActorResolver) fetchRemoteActor(actorURL, host string, cached *domain.Actor) (*domain.Actor, error) {
	req, err := http.NewRequest("GET", actorURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var doc ActorResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	// Validate required fields
	if doc.ID == "" || doc.Inbox == "" || doc.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor %s missing required fields", actorURL)
	}

	server, err := r.ensureServer(host)
	if err != nil {
		return nil, err
	}

	actor := &domain.Actor{
		Id:             uuid.New(),
		URL:            doc.ID,
		PreferredName:  doc.PreferredUsername,
		InboxURI:       doc.Inbox,
		SharedInboxURI: doc.Endpoints.SharedInbox,
		FollowersURI:   doc.Followers,
		PublicKeyPem:   doc.PublicKey.PublicKeyPem,
		ServerId:       &server.Id,
		LastFetchedAt:  time.Now(),
	}

	if cached != nil {
		actor.Id = cached.Id
		if err := r.database.UpdateActor(actor); err != nil {
			return nil, fmt.Errorf("failed to refresh remote actor: %w", err)
		}
		return actor, nil
	}

	if err := r.database.CreateActor(actor); err != nil {
		// Lost a race with another fetch, read the stored row
		err, stored := r.database.ReadActorByURL(doc.ID)
		if err != nil || stored == nil {
			return nil, fmt.Errorf("failed to store remote actor: %w", err)
		}
		return stored, nil
	}

	return actor, nil
}

// ensureServer fetches or creates the server row for a remote host.
// New origins federate by default.
func (r *ActorResolver) ensureServer(host string) (*domain.Server, error) {
	err, server := r.database.ReadServerByHost(host)
	if err == nil && server != nil {
		return server, nil
	}

	server = &domain.Server{
		Id:                uuid.New(),
		Host:              host,
		FederationAllowed: true,
		CreatedAt:         time.Now(),
	}
	if err := r.database.CreateServer(server); err != nil {
		err, existing := r.database.ReadServerByHost(host)
		if err != nil || existing == nil {
			return nil, fmt.Errorf("failed to store server %s: %w", host, err)
		}
		return existing, nil
	}
	return server, nil
}
