// Package presence tracks which users are currently connected and through
// which socket connection they can be reached.
//
// A user is reachable through at most one connection at a time: a later
// Join for the same user replaces the earlier mapping (last join wins), which
// is how a client that reconnects on a fresh socket takes over delivery.
// Entries are volatile and rebuilt from scratch on process restart.
//
// The relay run loop is the only writer. Readers such as the HTTP "who is
// online" endpoint may call Online concurrently, so the maps are guarded by
// an RWMutex.
package presence

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry maps user IDs to their active connection ID and back.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]string // user -> active connection
	byConn map[string]string // connection -> user it joined as
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Join records connID as the active connection for userID and marks the user
// online. It returns the online set after the change, ready to broadcast.
//
// If connID had previously joined as a different user, that user is taken
// offline unless they already moved to another connection.
func (r *Registry) Join(userID, connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok && prev != userID && r.byUser[prev] == connID {
		delete(r.byUser, prev)
	}
	r.byConn[connID] = userID
	r.byUser[userID] = connID
	return r.onlineLocked()
}

// Lookup returns the active connection for userID. Unknown users report
// ok=false; callers treat that as "recipient offline".
func (r *Registry) Lookup(userID string) (connID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok = r.byUser[userID]
	return connID, ok
}

// Leave forgets connID. It reports the user the connection had joined as and
// whether the online set changed.
//
// A connection that never joined is a no-op (changed=false). A stale
// connection, whose user has since joined elsewhere, is forgotten without
// touching the newer mapping, so the user stays online.
func (r *Registry) Leave(connID string) (userID string, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)
	if r.byUser[userID] != connID {
		return userID, false
	}
	delete(r.byUser, userID)
	return userID, true
}

// Online returns a sorted snapshot of the online user IDs.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

// IsOnline reports whether userID currently has an active connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) onlineLocked() []string {
	out := lo.Keys(r.byUser)
	slices.Sort(out)
	return out
}
