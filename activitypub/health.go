package activitypub

import (
	"sync"
)

// inboxWindow keeps the two most recent delivery outcomes for one inbox.
// Bounded on purpose: O(1) memory per destination, no history.
type inboxWindow struct {
	previousFailed bool
	latestFailed   bool
}

// FollowHealthTracker tracks delivery outcomes per destination inbox URI.
// A destination is unhealthy only when both of its last two deliveries
// failed, so one flaky request never triggers an auto-unfollow. The map is
// written by concurrent delivery workers and must stay behind the mutex.
type FollowHealthTracker struct {
	mu      sync.Mutex
	inboxes map[string]*inboxWindow
}

func NewFollowHealthTracker() *FollowHealthTracker {
	return &FollowHealthTracker{
		inboxes: make(map[string]*inboxWindow),
	}
}

// UpdateHealth records one batch of delivery outcomes
func (t *FollowHealthTracker) UpdateHealth(successURIs []string, failureURIs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, uri := range successURIs {
		t.record(uri, false)
	}
	for _, uri := range failureURIs {
		t.record(uri, true)
	}
}

// IsUnhealthy reports whether the last two deliveries to the inbox both
// failed. A single failure is never enough.
func (t *FollowHealthTracker) IsUnhealthy(uri string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	window, ok := t.inboxes[uri]
	if !ok {
		return false
	}
	return window.previousFailed && window.latestFailed
}

// BadInboxes returns a snapshot of all currently unhealthy inbox URIs
func (t *FollowHealthTracker) BadInboxes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var bad []string
	for uri, window := range t.inboxes {
		if window.previousFailed && window.latestFailed {
			bad = append(bad, uri)
		}
	}
	return bad
}

// Forget drops the tracked state of an inbox, used after its follows
// have been pruned
func (t *FollowHealthTracker) Forget(uri string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inboxes, uri)
}

func (t *FollowHealthTracker) record(uri string, failed bool) {
	window, ok := t.inboxes[uri]
	if !ok {
		window = &inboxWindow{}
		t.inboxes[uri] = window
	}
	window.previousFailed = window.latestFailed
	window.latestFailed = failed
}
