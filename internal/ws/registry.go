package ws

import (
	"sync"
	"time"
)

// Session binds one live connection to a user identity for the
// connection's lifetime. AvatarColor is the snapshot captured at bind
// time; messages sent on this connection carry it regardless of later
// changes to the user record.
type Session struct {
	ConnID      string
	UserID      string
	Username    string
	AvatarColor string
	BoundAt     time.Time
}

// Registry is the connection-to-identity binding authority. A user may
// hold several concurrent sessions (reconnects are not deduplicated);
// each connection holds at most one binding.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Bind registers a session for the connection, overwriting any prior
// binding for the same connection ID.
func (r *Registry) Bind(connID, userID, username, avatarColor string) *Session {
	s := &Session{
		ConnID:      connID,
		UserID:      userID,
		Username:    username,
		AvatarColor: avatarColor,
		BoundAt:     time.Now(),
	}
	r.mu.Lock()
	r.sessions[connID] = s
	r.mu.Unlock()
	return s
}

// Unbind removes and returns the binding for the connection, or false
// if none existed.
func (r *Registry) Unbind(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	if ok {
		delete(r.sessions, connID)
	}
	return s, ok
}

// Get returns the binding for the connection, or false if unbound.
func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// IsBound reports whether the connection has a binding.
func (r *Registry) IsBound(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[connID]
	return ok
}

// Active returns the IDs of all bound connections. Order is unspecified.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of bound connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
