package core

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrAlreadyAuthenticated is returned when a connection tries to bind an
	// identity twice.
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	// ErrNotRegistered is returned when operating on an unknown connection.
	ErrNotRegistered = errors.New("connection not registered")
)

// Identity is the authenticated account bound to a connection.
type Identity struct {
	UserID   int64
	Username string
	IsAdmin  bool
}

// session holds either nothing or a complete identity; there is no partially
// authenticated state.
type session struct {
	authed   bool
	identity Identity
}

// Registry tracks every live connection and the identity bound to it, if
// any. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Client]*session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*Client]*session)}
}

// Register adds a connection in the unauthenticated state. Registering the
// same client twice is a no-op.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[c]; ok {
		return
	}
	r.sessions[c] = &session{}
}

// Authenticate binds an identity to a registered connection. The transition
// is one-way: a second call fails with ErrAlreadyAuthenticated and leaves
// the original identity in place.
func (r *Registry) Authenticate(c *Client, id Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[c]
	if !ok {
		return ErrNotRegistered
	}
	if s.authed {
		return ErrAlreadyAuthenticated
	}
	s.authed = true
	s.identity = id
	return nil
}

// Unregister removes a connection and reports whether it was authenticated.
// Unknown connections report false, so calling it twice is safe.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[c]
	if !ok {
		return false
	}
	delete(r.sessions, c)
	return s.authed
}

// Identity returns the identity bound to the connection, if authenticated.
func (r *Registry) Identity(c *Client) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[c]
	if !ok || !s.authed {
		return Identity{}, false
	}
	return s.identity, true
}

// Connections returns a snapshot of every registered connection, including
// unauthenticated ones.
func (r *Registry) Connections() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.sessions))
	for c := range r.sessions {
		clients = append(clients, c)
	}
	return clients
}

// OnlineUsernames returns the deduplicated usernames of authenticated
// connections, sorted case-insensitively with a bytewise tie-break.
func (r *Registry) OnlineUsernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.sessions))
	names := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.authed {
			continue
		}
		if _, ok := seen[s.identity.Username]; ok {
			continue
		}
		seen[s.identity.Username] = struct{}{}
		names = append(names, s.identity.Username)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := strings.ToLower(names[i]), strings.ToLower(names[j])
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
