package activitypub

import (
	"fmt"
	"log"
	"time"

	"loxodon/db"
	"loxodon/domain"
	"loxodon/util"

	"github.com/google/uuid"
)

// FollowService owns the lifecycle of ActorFollow edges:
// pending -> accepted | rejected, any state -> deleted via Undo or
// health pruning. There is no way back to pending; a re-follow after an
// Undo creates a fresh edge. The service performs no network I/O.
type FollowService struct {
	database *db.DB
	conf     *util.AppConfig
}

func NewFollowService(database *db.DB, conf *util.AppConfig) *FollowService {
	return &FollowService{database: database, conf: conf}
}

// CreateRequested records a new pending edge for a Follow activity.
// An existing edge for the pair is returned untouched, replayed Follows
// must not create duplicates.
func (s *FollowService) CreateRequested(followerId, targetId uuid.UUID, followURI string) (*domain.ActorFollow, bool, error) {
	err, existing := s.database.ReadFollowByActors(followerId, targetId)
	if err == nil && existing != nil {
		return existing, false, nil
	}

	now := time.Now()
	follow := &domain.ActorFollow{
		Id:            uuid.New(),
		ActorId:       followerId,
		TargetActorId: targetId,
		URI:           followURI,
		State:         domain.FollowStatePending,
		Score:         domain.ScoreBase,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.database.CreateFollow(follow); err != nil {
		return nil, false, fmt.Errorf("failed to create follow: %w", err)
	}
	return follow, true, nil
}

// Accept transitions a pending edge to accepted. Accepted and rejected
// edges stay where they are, replays are no-ops.
func (s *FollowService) Accept(followURI string) error {
	return s.transition(followURI, domain.FollowStateAccepted)
}

// Reject transitions a pending edge to rejected. The edge is retained so
// a replayed Reject is an idempotent no-op.
func (s *FollowService) Reject(followURI string) error {
	return s.transition(followURI, domain.FollowStateRejected)
}

// Undo removes the edge for a Follow activity URI. A missing edge is an
// idempotent no-op.
func (s *FollowService) Undo(followURI string) error {
	err, follow := s.database.ReadFollowByURI(followURI)
	if err != nil || follow == nil {
		return nil
	}
	return s.database.DeleteFollowByURI(followURI)
}

// ApplyDeliveryOutcome bumps the score of every edge reached through the
// outcome's inbox: toward MAX on success, toward MIN on failure. The
// penalty step is larger than the bonus step by default, failures cost
// more than successes earn back.
func (s *FollowService) ApplyDeliveryOutcome(outcome domain.DeliveryOutcome) error {
	delta := s.conf.Conf.ScoreBonus
	if !outcome.Success {
		delta = -s.conf.Conf.ScorePenalty
	}
	return s.database.UpdateFollowScoreByInbox(outcome.URI, delta, domain.ScoreMin, domain.ScoreMax)
}

// RemoveByInbox deletes every edge whose follower is reached through the
// given inbox. Used by the health pruner.
func (s *FollowService) RemoveByInbox(inboxURI string) (int64, error) {
	err, removed := s.database.DeleteFollowsByInbox(inboxURI)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *FollowService) transition(followURI string, state domain.FollowState) error {
	err, follow := s.database.ReadFollowByURI(followURI)
	if err != nil || follow == nil {
		return ErrUnknownReference
	}

	if follow.State == state {
		return nil
	}

	if follow.State != domain.FollowStatePending {
		// accepted and rejected are terminal
		log.Printf("Follow: Ignoring %s -> %s transition for %s", follow.State, state, followURI)
		return nil
	}

	return s.database.UpdateFollowState(followURI, state)
}
