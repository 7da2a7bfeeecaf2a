package pipeline

import "sync"

// CancelRegistry carries cooperative cancellation flags keyed by session id.
// Cancellation is checked after retrieval, after every streamed delta and at
// phase boundaries; in-flight calls to external capabilities are not
// interrupted, only subsequent work is skipped.
type CancelRegistry struct {
	mu        sync.Mutex
	cancelled map[string]struct{}
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancelled: make(map[string]struct{})}
}

// Cancel marks the session for cancellation.
func (r *CancelRegistry) Cancel(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled[sessionID] = struct{}{}
}

// Cancelled reports whether the session has been cancelled.
func (r *CancelRegistry) Cancelled(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancelled[sessionID]
	return ok
}

// Clear removes the flag once a run has terminated.
func (r *CancelRegistry) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancelled, sessionID)
}
