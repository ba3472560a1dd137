package activitypub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"loxodon/db"
	"loxodon/domain"
	"loxodon/util"

	"github.com/google/uuid"
)

// Resolver turns an actor URL into a durable actor record, fetching and
// caching it remotely when unknown
type Resolver interface {
	ResolveOrFetch(actorURL string) (*domain.Actor, error)
}

// ProcessContext carries the verification context established by the
// inbound HTTP layer
type ProcessContext struct {
	SignatureActor *domain.Actor
	InboxActor     *domain.Actor
}

// ActivityProcessor validates an inbound activity, resolves its actor and
// dispatches it to the handler for its type. Handlers are idempotent under
// replay: the same activity applied twice leaves the same durable state.
type ActivityProcessor struct {
	database      *db.DB
	resolver      Resolver
	follows       *FollowService
	outbox        *Outbox
	conf          *util.AppConfig
	localActorURL string
}

func NewActivityProcessor(database *db.DB, resolver Resolver, follows *FollowService, outbox *Outbox, conf *util.AppConfig, localActorURL string) *ActivityProcessor {
	return &ActivityProcessor{
		database:      database,
		resolver:      resolver,
		follows:       follows,
		outbox:        outbox,
		conf:          conf,
		localActorURL: localActorURL,
	}
}

func (p *ActivityProcessor) Process(activity *Activity, ctx ProcessContext) error {
	if ctx.SignatureActor == nil {
		return fmt.Errorf("%w: missing signature actor", ErrMalformed)
	}

	// Guard against spoofed local loops: an activity signed by our own
	// server actor, or by an actor without a known origin server, never
	// reaches a handler.
	if ctx.SignatureActor.URL == p.localActorURL || ctx.SignatureActor.Local() {
		return fmt.Errorf("%w: activity signed by local actor %s", ErrConflict, ctx.SignatureActor.URL)
	}

	if activity.ID == "" || activity.Actor == "" {
		return fmt.Errorf("%w: activity missing id or actor", ErrMalformed)
	}

	actor, err := p.resolver.ResolveOrFetch(activity.Actor)
	if err != nil {
		return fmt.Errorf("failed to resolve actor %s: %w", activity.Actor, err)
	}

	switch KnownType(activity.Type) {
	case ActivityFollow:
		return p.processFollow(activity, actor)
	case ActivityAccept:
		return p.processAccept(activity, actor)
	case ActivityReject:
		return p.processReject(activity, actor)
	case ActivityUndo:
		return p.processUndo(activity, actor)
	case ActivityCreate:
		return p.processCreate(activity, actor)
	case ActivityUpdate:
		return p.processUpdate(activity, actor)
	case ActivityDelete:
		return p.processDelete(activity, actor)
	case ActivityLike:
		return p.processLike(activity, actor)
	case ActivityAnnounce:
		return p.processAnnounce(activity, actor)
	case ActivityUnknown:
		// forward compatibility: peers may speak newer vocabulary
		log.Printf("Inbox: Ignoring activity of unknown type %q", activity.Type)
		return nil
	}

	return nil
}

// processFollow creates the pending edge and answers with Accept or
// Reject depending on local policy. The acceptance state change is
// synchronous; only the answer's delivery is asynchronous.
func (p *ActivityProcessor) processFollow(activity *Activity, actor *domain.Actor) error {
	targetURL := activity.ObjectURI()
	if targetURL == "" {
		return fmt.Errorf("%w: Follow without object", ErrMalformed)
	}

	err, target := p.database.ReadActorByURL(targetURL)
	if err != nil || target == nil {
		return fmt.Errorf("%w: Follow target %s not found", ErrMalformed, targetURL)
	}
	if !target.Local() {
		return fmt.Errorf("%w: Follow target %s is not local", ErrMalformed, targetURL)
	}

	follow, created, err := p.follows.CreateRequested(actor.Id, target.Id, activity.ID)
	if err != nil {
		return err
	}
	if !created && follow.State == domain.FollowStateAccepted {
		return nil
	}

	if !p.serverAllowed(actor) {
		if err := p.follows.Reject(follow.URI); err != nil {
			return err
		}
		log.Printf("Inbox: Rejected follow %s, federation disallowed for origin", follow.URI)
		return p.outbox.SendReject(target, actor, follow.URI)
	}

	if !p.conf.Conf.OpenFederation {
		// manual approval: edge stays pending until an admin decides
		log.Printf("Inbox: Follow %s pending manual approval", follow.URI)
		return nil
	}

	if err := p.follows.Accept(follow.URI); err != nil {
		return err
	}
	log.Printf("Inbox: Accepted follow from %s to %s", actor.URL, target.URL)
	return p.outbox.SendAccept(target, actor, follow.URI)
}

func (p *ActivityProcessor) processAccept(activity *Activity, actor *domain.Actor) error {
	followURI := activity.ObjectURI()
	err, follow := p.database.ReadFollowByURI(followURI)
	if err != nil || follow == nil {
		return fmt.Errorf("%w: Accept for %s", ErrUnknownReference, followURI)
	}

	// only the followed actor may accept
	if follow.TargetActorId != actor.Id {
		return fmt.Errorf("%w: %s accepting a follow aimed at someone else", ErrForbidden, actor.URL)
	}

	return p.follows.Accept(followURI)
}

func (p *ActivityProcessor) processReject(activity *Activity, actor *domain.Actor) error {
	followURI := activity.ObjectURI()
	err, follow := p.database.ReadFollowByURI(followURI)
	if err != nil || follow == nil {
		return fmt.Errorf("%w: Reject for %s", ErrUnknownReference, followURI)
	}

	if follow.TargetActorId != actor.Id {
		return fmt.Errorf("%w: %s rejecting a follow aimed at someone else", ErrForbidden, actor.URL)
	}

	return p.follows.Reject(followURI)
}

func (p *ActivityProcessor) processUndo(activity *Activity, actor *domain.Actor) error {
	obj, err := activity.embedded()
	if err != nil {
		return fmt.Errorf("%w: unparseable Undo object", ErrMalformed)
	}

	switch KnownType(obj.Type) {
	case ActivityFollow:
		err, follow := p.database.ReadFollowByURI(obj.ID)
		if err != nil || follow == nil {
			// already gone, replayed Undo
			return nil
		}
		if follow.ActorId != actor.Id {
			return fmt.Errorf("%w: %s undoing a follow it does not own", ErrForbidden, actor.URL)
		}
		log.Printf("Inbox: Removing follow %s on Undo from %s", obj.ID, actor.URL)
		return p.follows.Undo(obj.ID)

	case ActivityLike, ActivityAnnounce:
		err, record := p.database.ReadActivityByURI(obj.ID)
		if err != nil || record == nil {
			return nil
		}
		if record.ActorURI != actor.URL {
			return fmt.Errorf("%w: %s undoing an activity it does not own", ErrForbidden, actor.URL)
		}
		return p.database.DeleteActivity(record.Id)
	}

	log.Printf("Inbox: Ignoring Undo of %q", obj.Type)
	return nil
}

func (p *ActivityProcessor) processCreate(activity *Activity, actor *domain.Actor) error {
	obj, err := activity.embedded()
	if err != nil || obj.ID == "" {
		return fmt.Errorf("%w: Create without object id", ErrMalformed)
	}

	if obj.AttributedTo != "" && obj.AttributedTo != actor.URL {
		return fmt.Errorf("%w: %s creating an object attributed to %s", ErrForbidden, actor.URL, obj.AttributedTo)
	}

	// replay dedup on the activity URI
	if err, existing := p.database.ReadActivityByURI(activity.ID); err == nil && existing != nil {
		return nil
	}

	return p.recordActivity(activity, obj.ID)
}

func (p *ActivityProcessor) processUpdate(activity *Activity, actor *domain.Actor) error {
	obj, err := activity.embedded()
	if err != nil || obj.ID == "" {
		return fmt.Errorf("%w: Update without object id", ErrMalformed)
	}

	if obj.Type == "Person" || obj.Type == "Application" || obj.Type == "Service" {
		if obj.ID != actor.URL {
			return fmt.Errorf("%w: %s updating profile of %s", ErrForbidden, actor.URL, obj.ID)
		}
		return p.applyActorUpdate(activity, actor)
	}

	err, record := p.database.ReadActivityByObjectURI(obj.ID)
	if err != nil || record == nil {
		log.Printf("Inbox: Object %s not known, ignoring Update", obj.ID)
		return nil
	}
	if record.ActorURI != actor.URL {
		return fmt.Errorf("%w: %s updating an object owned by %s", ErrForbidden, actor.URL, record.ActorURI)
	}

	record.RawJSON = rawJSON(activity)
	record.ObjectURI = obj.ID
	return p.database.UpdateActivity(record)
}

// applyActorUpdate copies the profile document embedded in an Update onto
// the cached actor row. The signature already proved the sender controls
// this profile, so the embedded object is authoritative: a cache refetch
// would race the remote's own propagation and can serve the old document.
func (p *ActivityProcessor) applyActorUpdate(activity *Activity, actor *domain.Actor) error {
	var doc ActorResponse
	if err := json.Unmarshal(activity.Object, &doc); err != nil {
		return fmt.Errorf("%w: unparseable actor document", ErrMalformed)
	}

	if doc.PreferredUsername != "" {
		actor.PreferredName = doc.PreferredUsername
	}
	if doc.Inbox != "" {
		actor.InboxURI = doc.Inbox
	}
	if doc.Endpoints.SharedInbox != "" {
		actor.SharedInboxURI = doc.Endpoints.SharedInbox
	}
	if doc.Followers != "" {
		actor.FollowersURI = doc.Followers
	}
	if doc.PublicKey.PublicKeyPem != "" {
		actor.PublicKeyPem = doc.PublicKey.PublicKeyPem
	}
	actor.LastFetchedAt = time.Now()

	log.Printf("Inbox: Updated profile of %s", actor.URL)
	return p.database.UpdateActor(actor)
}

func (p *ActivityProcessor) processDelete(activity *Activity, actor *domain.Actor) error {
	objectURI := activity.ObjectURI()
	if objectURI == "" {
		return fmt.Errorf("%w: Delete without object", ErrMalformed)
	}

	if objectURI == actor.URL {
		// the actor deleted itself: drop it with all edges and activities
		log.Printf("Inbox: Actor %s deleted their account", actor.URL)
		if err := p.database.DeleteActivitiesByActor(actor.URL); err != nil {
			return err
		}
		return p.database.DeleteActorByURL(actor.URL)
	}

	err, record := p.database.ReadActivityByObjectURI(objectURI)
	if err != nil || record == nil {
		return nil
	}
	if record.ActorURI != actor.URL {
		return fmt.Errorf("%w: %s deleting an object owned by %s", ErrForbidden, actor.URL, record.ActorURI)
	}
	return p.database.DeleteActivity(record.Id)
}

func (p *ActivityProcessor) processLike(activity *Activity, actor *domain.Actor) error {
	return p.recordRemoteReaction(activity, actor)
}

func (p *ActivityProcessor) processAnnounce(activity *Activity, actor *domain.Actor) error {
	return p.recordRemoteReaction(activity, actor)
}

// recordRemoteReaction stores a Like or Announce after checking the
// activity was minted on the sending actor's own origin
func (p *ActivityProcessor) recordRemoteReaction(activity *Activity, actor *domain.Actor) error {
	if activity.ObjectURI() == "" {
		return fmt.Errorf("%w: %s without object", ErrMalformed, activity.Type)
	}

	activityHost, err := util.ExtractHost(activity.ID)
	if err != nil {
		return fmt.Errorf("%w: bad activity id", ErrMalformed)
	}
	actorHost, err := util.ExtractHost(actor.URL)
	if err != nil {
		return fmt.Errorf("%w: bad actor url", ErrMalformed)
	}
	if activityHost != actorHost {
		return fmt.Errorf("%w: %s sent an activity minted on %s", ErrForbidden, actor.URL, activityHost)
	}

	if err, existing := p.database.ReadActivityByURI(activity.ID); err == nil && existing != nil {
		return nil
	}

	return p.recordActivity(activity, activity.ObjectURI())
}

// serverAllowed checks the federation flag of the actor's origin server.
// An actor whose origin was never recorded is allowed; the resolver
// creates server rows on fetch, so this only happens in tests.
func (p *ActivityProcessor) serverAllowed(actor *domain.Actor) bool {
	host, err := util.ExtractHost(actor.URL)
	if err != nil {
		return false
	}
	err, server := p.database.ReadServerByHost(host)
	if err != nil || server == nil {
		return true
	}
	return server.FederationAllowed
}

func (p *ActivityProcessor) recordActivity(activity *Activity, objectURI string) error {
	return p.database.CreateActivity(&domain.ActivityRecord{
		Id:           uuid.New(),
		ActivityURI:  activity.ID,
		ActivityType: activity.Type,
		ActorURI:     activity.Actor,
		ObjectURI:    objectURI,
		RawJSON:      rawJSON(activity),
		Local:        false,
		CreatedAt:    time.Now(),
	})
}
