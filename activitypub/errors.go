package activitypub

import "errors"

// Processing error taxonomy. All of these are terminal at the processor:
// the activity is dropped and logged, nothing propagates to the sender.
var (
	// ErrMalformed marks an activity that fails schema validation
	ErrMalformed = errors.New("malformed activity")

	// ErrConflict marks a self-addressed or locally-looped activity
	ErrConflict = errors.New("conflicting activity origin")

	// ErrUnknownReference marks an Accept/Reject/Undo referencing a
	// follow that does not exist
	ErrUnknownReference = errors.New("unknown follow reference")

	// ErrForbidden marks an actor mutating an object it does not own
	ErrForbidden = errors.New("actor does not own object")
)
