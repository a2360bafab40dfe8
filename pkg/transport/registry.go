package transport

import "sync"

// Registry tracks the live sessions spawned by a listener. It holds
// non-owning references: a session removes itself when it terminates,
// and closing the listener leaves registered sessions running. CloseAll
// exists for coordinated shutdown and must be called explicitly.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Add registers the session and removes it again once it terminates.
func (r *Registry) Add(s Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	go func() {
		<-s.Done()
		r.Remove(s.ID())
	}()
}

// Remove deregisters the session with the given ID.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get returns the registered session with the given ID.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Snapshot returns the currently registered sessions. The slice is a
// copy; sessions may terminate while the caller iterates.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every registered session. Each close triggers the
// session's own deregistration.
func (r *Registry) CloseAll() {
	for _, s := range r.Snapshot() {
		_ = s.Close()
	}
}
