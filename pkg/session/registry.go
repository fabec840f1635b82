package session

import (
	"errors"
	"sync"
)

var ErrNotFound = errors.New("session: not found")

// Registry maps an active call ID to its Session. It is shared between the
// worker pool and every relay connection, so all access goes through the
// mutex.
//
// The registry is correct only within one process: a relay connection for a
// session created in another process will not find it. Scaling beyond one
// process means replacing this with a shared external store, ideally with a
// TTL as a safety net against sessions orphaned by crashes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Put registers sess under callID, replacing any previous entry so that at
// most one session exists per call at any instant.
func (r *Registry) Put(callID string, sess *Session) {
	r.mu.Lock()
	r.sessions[callID] = sess
	r.mu.Unlock()
}

func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[callID]
	return sess, ok
}

func (r *Registry) Has(callID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[callID]
	return ok
}

// Delete removes callID. Deleting an absent entry is a no-op.
func (r *Registry) Delete(callID string) {
	r.mu.Lock()
	delete(r.sessions, callID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
