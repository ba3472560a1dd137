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

// Outbox builds outgoing activities and hands them to the dispatcher
type Outbox struct {
	database   *db.DB
	dispatcher *Dispatcher
	follows    *FollowService
	resolver   Resolver
	conf       *util.AppConfig
}

func NewOutbox(database *db.DB, dispatcher *Dispatcher, follows *FollowService, resolver Resolver, conf *util.AppConfig) *Outbox {
	return &Outbox{
		database:   database,
		dispatcher: dispatcher,
		follows:    follows,
		resolver:   resolver,
		conf:       conf,
	}
}

func (o *Outbox) activityId() string {
	return fmt.Sprintf("https://%s/activities/%s", o.conf.Conf.Domain, uuid.New().String())
}

// SendAccept answers a Follow with an Accept, delivered to the follower's inbox
func (o *Outbox) SendAccept(by *domain.Actor, follower *domain.Actor, followURI string) error {
	return o.sendFollowResponse("Accept", by, follower, followURI)
}

// SendReject answers a Follow with a Reject
func (o *Outbox) SendReject(by *domain.Actor, follower *domain.Actor, followURI string) error {
	return o.sendFollowResponse("Reject", by, follower, followURI)
}

func (o *Outbox) sendFollowResponse(responseType string, by *domain.Actor, follower *domain.Actor, followURI string) error {
	response := map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       o.activityId(),
		"type":     responseType,
		"actor":    by.URL,
		"object": map[string]interface{}{
			"id":     followURI,
			"type":   "Follow",
			"actor":  follower.URL,
			"object": by.URL,
		},
	}

	return o.dispatcher.UnicastTo(response, by, follower.InboxURI)
}

// SendFollow subscribes a local actor to a remote one: records a pending
// edge and schedules the Follow activity for delivery. The edge stays
// pending until the remote Accept comes back through the inbox.
func (o *Outbox) SendFollow(by *domain.Actor, remoteActorURL string) error {
	remote, err := o.resolver.ResolveOrFetch(remoteActorURL)
	if err != nil {
		return fmt.Errorf("failed to fetch remote actor: %w", err)
	}

	followID := o.activityId()
	follow, created, err := o.follows.CreateRequested(by.Id, remote.Id, followID)
	if err != nil {
		return err
	}
	if !created {
		// already following or pending, re-deliver the original activity
		followID = follow.URI
	}

	activity := map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       followID,
		"type":     "Follow",
		"actor":    by.URL,
		"object":   remote.URL,
	}

	return o.dispatcher.UnicastTo(activity, by, remote.InboxURI)
}

// SendUndoFollow retracts a follow: delivers the Undo and removes the edge
func (o *Outbox) SendUndoFollow(by *domain.Actor, remoteActorURL string) error {
	remote, err := o.resolver.ResolveOrFetch(remoteActorURL)
	if err != nil {
		return fmt.Errorf("failed to fetch remote actor: %w", err)
	}

	err, follow := o.database.ReadFollowByActors(by.Id, remote.Id)
	if err != nil || follow == nil {
		return nil
	}

	activity := map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       o.activityId(),
		"type":     "Undo",
		"actor":    by.URL,
		"object": map[string]interface{}{
			"id":     follow.URI,
			"type":   "Follow",
			"actor":  by.URL,
			"object": remote.URL,
		},
	}

	if err := o.dispatcher.UnicastTo(activity, by, remote.InboxURI); err != nil {
		return err
	}
	return o.follows.Undo(follow.URI)
}

// SendCreateNote publishes a note from a local actor. Public notes are
// broadcast to follower inboxes with public to/cc; non-public notes get
// empty audience and are not broadcast at all.
func (o *Outbox) SendCreateNote(by *domain.Actor, content string, isPublic bool) error {
	noteId := fmt.Sprintf("https://%s/notes/%s", o.conf.Conf.Domain, uuid.New().String())
	createId := o.activityId()
	published := time.Now().Format(time.RFC3339)

	audience := BuildAudience(by.FollowersURI, isPublic)

	activity := map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        createId,
		"type":      "Create",
		"actor":     by.URL,
		"published": published,
		"to":        audience.To,
		"cc":        audience.CC,
		"object": map[string]interface{}{
			"id":           noteId,
			"type":         "Note",
			"attributedTo": by.URL,
			"content":      content,
			"published":    published,
			"to":           audience.To,
			"cc":           audience.CC,
		},
	}

	record := &domain.ActivityRecord{
		Id:           uuid.New(),
		ActivityURI:  createId,
		ActivityType: "Create",
		ActorURI:     by.URL,
		ObjectURI:    noteId,
		RawJSON:      util.PrettyPrint(activity),
		Local:        true,
		CreatedAt:    time.Now(),
	}
	if err := o.database.CreateActivity(record); err != nil {
		return fmt.Errorf("failed to store local activity: %w", err)
	}

	if !isPublic {
		// unicast-only semantics: no follower broadcast for non-public
		return nil
	}

	err, followers := o.database.ReadAcceptedFollowers(by.Id)
	if err != nil {
		log.Printf("Outbox: Failed to get followers: %v", err)
		return nil
	}
	if followers == nil || len(*followers) == 0 {
		return nil
	}

	inboxes := make([]string, 0, len(*followers))
	for _, follower := range *followers {
		inboxes = append(inboxes, follower.BestInbox())
	}

	return o.dispatcher.BroadcastTo(activity, by, inboxes)
}
