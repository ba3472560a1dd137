package domain

import (
	"github.com/google/uuid"
	"time"
)

// FollowState is the lifecycle state of an ActorFollow edge
type FollowState string

const (
	FollowStatePending  FollowState = "pending"
	FollowStateAccepted FollowState = "accepted"
	FollowStateRejected FollowState = "rejected"
)

// Follow score bounds, new edges start at ScoreBase
const (
	ScoreBase = 100
	ScoreMin  = 0
	ScoreMax  = 1000
)

// Actor represents a federated identity, local or remote.
// A nil ServerId means the actor is local and authoritative.
type Actor struct {
	Id             uuid.UUID
	URL            string // stable ActivityPub id, globally unique
	PreferredName  string
	InboxURI       string
	SharedInboxURI string // optional, empty when the origin has none
	FollowersURI   string
	PublicKeyPem   string
	PrivateKeyPem  string // only set for local actors
	ServerId       *uuid.UUID
	LastFetchedAt  time.Time
}

// Local reports whether the actor belongs to this instance
func (a *Actor) Local() bool {
	return a.ServerId == nil
}

// BestInbox prefers the shared inbox when the origin server has one
func (a *Actor) BestInbox() string {
	if a.SharedInboxURI != "" {
		return a.SharedInboxURI
	}
	return a.InboxURI
}

// Server represents a remote origin, identified by host
type Server struct {
	Id                uuid.UUID
	Host              string
	FederationAllowed bool
	CreatedAt         time.Time
}

// ActorFollow is the directed follow edge between two actors.
// At most one edge exists per (ActorId, TargetActorId) pair.
type ActorFollow struct {
	Id            uuid.UUID
	ActorId       uuid.UUID // the follower
	TargetActorId uuid.UUID // the actor being followed
	URI           string    // URL of the Follow activity itself, unique
	State         FollowState
	Score         int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActivityRecord is the durable log entry for an inbound or outbound
// activity, keyed by activity URI for replay deduplication
type ActivityRecord struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, etc.
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Local        bool // true if originated from this server
	CreatedAt    time.Time
}

// DeliveryJob is one scheduled signed POST in the delivery queue
type DeliveryJob struct {
	Id              uuid.UUID
	InboxURI        string
	ActivityJSON    string // the complete activity to deliver
	SigningActorURL string
	Attempts        int
	NextRetryAt     time.Time
	CreatedAt       time.Time
}

// DeliveryOutcome is the transient result of one signed POST.
// It is consumed by the health tracker and never persisted.
type DeliveryOutcome struct {
	URI     string
	Success bool
	At      time.Time
}
