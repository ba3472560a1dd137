package activitypub

import (
	"encoding/json"
)

const ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"

// The closed set of activity types this engine understands. Anything else
// falls through to ActivityUnknown and is ignored, so new vocabulary from
// peers never breaks processing.
type ActivityType string

const (
	ActivityFollow   ActivityType = "Follow"
	ActivityAccept   ActivityType = "Accept"
	ActivityReject   ActivityType = "Reject"
	ActivityUndo     ActivityType = "Undo"
	ActivityCreate   ActivityType = "Create"
	ActivityUpdate   ActivityType = "Update"
	ActivityDelete   ActivityType = "Delete"
	ActivityLike     ActivityType = "Like"
	ActivityAnnounce ActivityType = "Announce"
	ActivityUnknown  ActivityType = ""
)

var knownActivityTypes = map[ActivityType]bool{
	ActivityFollow:   true,
	ActivityAccept:   true,
	ActivityReject:   true,
	ActivityUndo:     true,
	ActivityCreate:   true,
	ActivityUpdate:   true,
	ActivityDelete:   true,
	ActivityLike:     true,
	ActivityAnnounce: true,
}

// KnownType maps a wire type string onto the closed set,
// returning ActivityUnknown for anything unrecognized
func KnownType(t string) ActivityType {
	if knownActivityTypes[ActivityType(t)] {
		return ActivityType(t)
	}
	return ActivityUnknown
}

// Activity is the generic federation message envelope. The object is kept
// raw; handlers re-parse it into the shape their type needs.
type Activity struct {
	Context   interface{}     `json:"@context,omitempty"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Object    json.RawMessage `json:"object,omitempty"`
	Target    string          `json:"target,omitempty"`
	To        []string        `json:"to,omitempty"`
	CC        []string        `json:"cc,omitempty"`
	Published string          `json:"published,omitempty"`
}

// ObjectURI extracts the object's id whether the object is a plain URI
// string (Follow, Undo with a reference) or an embedded object (Create,
// Update). Returns "" when neither applies.
func (a *Activity) ObjectURI() string {
	if len(a.Object) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(a.Object, &asString); err == nil {
		return asString
	}

	var asObject struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(a.Object, &asObject); err == nil {
		return asObject.ID
	}

	return ""
}

// embeddedObject is the part of a nested object the handlers care about
type embeddedObject struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Actor        string `json:"actor"`
	Object       string `json:"object"`
	AttributedTo string `json:"attributedTo"`
	Content      string `json:"content"`
	Published    string `json:"published"`
}

// embedded parses the activity object as a nested object. A plain string
// object yields only the ID field.
func (a *Activity) embedded() (*embeddedObject, error) {
	if len(a.Object) == 0 {
		return &embeddedObject{}, nil
	}

	var asString string
	if err := json.Unmarshal(a.Object, &asString); err == nil {
		return &embeddedObject{ID: asString}, nil
	}

	var obj embeddedObject
	if err := json.Unmarshal(a.Object, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// rawJSON re-serializes the envelope for the durable activity log
func rawJSON(a *Activity) string {
	b, err := json.Marshal(a)
	if err != nil {
		return ""
	}
	return string(b)
}

// ParseInbound decodes an inbox request body into the batch of activities
// it carries: either a single activity or a Collection/OrderedCollection.
// Batch order is preserved, it is the processing order.
func ParseInbound(body []byte) ([]Activity, error) {
	var envelope struct {
		Type         string            `json:"type"`
		Items        []json.RawMessage `json:"items"`
		OrderedItems []json.RawMessage `json:"orderedItems"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}

	items := envelope.OrderedItems
	if items == nil {
		items = envelope.Items
	}

	if envelope.Type != "Collection" && envelope.Type != "OrderedCollection" || items == nil {
		var single Activity
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, err
		}
		return []Activity{single}, nil
	}

	activities := make([]Activity, 0, len(items))
	for _, item := range items {
		var activity Activity
		if err := json.Unmarshal(item, &activity); err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}
	return activities, nil
}
