// Package stream manages live subscriptions on behalf of connected front
// ends. Every acquisition is tracked against its owning session so that a
// session teardown releases every listener it opened; nothing is left
// delivering updates into dead UI state.
package stream

import "sync"

// Registry tracks cancellable subscription handles keyed by session and
// path.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]map[string]func()
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]map[string]func())}
}

// Acquire records cancel as the live handle for (sessionID, path). A
// previous handle on the same key is released first.
func (r *Registry) Acquire(sessionID, path string, cancel func()) {
	r.mu.Lock()
	prev := func() {}
	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]func())
	} else if old, ok := r.sessions[sessionID][path]; ok {
		prev = old
	}
	r.sessions[sessionID][path] = cancel
	r.mu.Unlock()
	prev()
}

// Release cancels and forgets a single subscription.
func (r *Registry) Release(sessionID, path string) {
	r.mu.Lock()
	cancel, ok := r.sessions[sessionID][path]
	if ok {
		delete(r.sessions[sessionID], path)
		if len(r.sessions[sessionID]) == 0 {
			delete(r.sessions, sessionID)
		}
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// ReleaseAll cancels every subscription the session holds. Called on
// session end; calling it twice is harmless.
func (r *Registry) ReleaseAll(sessionID string) {
	r.mu.Lock()
	handles := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	for _, cancel := range handles {
		cancel()
	}
}

// Count reports live subscriptions for a session.
func (r *Registry) Count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[sessionID])
}
