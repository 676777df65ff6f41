package web

import (
	"sync"

	"github.com/dwisurya/fieldvisit/internal/capture"
)

// sessionRegistry maps session IDs to sessions so follow-up requests can find
// them. Terminal sessions stay resolvable until cancelled or replaced; the
// pipeline itself only tracks the active one.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*capture.Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*capture.Session)}
}

func (r *sessionRegistry) add(s *capture.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

func (r *sessionRegistry) get(id string) *capture.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
