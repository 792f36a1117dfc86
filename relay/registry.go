package relay

import (
	"sync"

	"chat-relay/contract"
	"chat-relay/domain"
)

// entry holds the open connections of one identity. Its own lock serializes
// mutations of that identity without blocking unrelated identities.
type entry struct {
	mu    sync.RWMutex
	conns map[string]contract.Connection
}

// Registry is the process-wide session table mapping an identity key to the
// set of its currently open connections. It is the only piece of shared
// mutable state in the relay and is passed by handle to every component that
// needs it.
//
// Locking is two-level: the registry lock guards the entries and owners maps,
// each entry lock guards that identity's connection set. The registry lock is
// held only for map surgery, never across deliveries.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*entry
	owners  map[string]int64 // session id -> identity key
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[int64]*entry),
		owners:  make(map[string]int64),
	}
}

// Register adds a connection under the identity's entry, creating the entry
// if absent. Registering the same pair twice leaves the connection present
// exactly once.
func (r *Registry) Register(identity domain.Identity, conn contract.Connection) {
	r.mu.Lock()
	e, ok := r.entries[identity.ID]
	if !ok {
		e = &entry{conns: make(map[string]contract.Connection)}
		r.entries[identity.ID] = e
	}
	r.owners[conn.ID()] = identity.ID
	r.mu.Unlock()

	e.mu.Lock()
	e.conns[conn.ID()] = conn
	e.mu.Unlock()
}

// Unregister removes the connection from whichever entry holds it; unknown
// connections are a no-op. An entry left empty is dropped to prevent the
// table from growing with every identity ever seen.
func (r *Registry) Unregister(conn contract.Connection) {
	r.mu.Lock()
	key, ok := r.owners[conn.ID()]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.owners, conn.ID())
	e := r.entries[key]
	r.mu.Unlock()

	if e == nil {
		return
	}

	e.mu.Lock()
	delete(e.conns, conn.ID())
	empty := len(e.conns) == 0
	e.mu.Unlock()

	if !empty {
		return
	}

	// Re-check under the registry lock: a concurrent Register may have
	// repopulated the entry, or recorded its ownership and not yet added its
	// connection. Owners is written before the connection set, so a pending
	// registration is visible here and must keep the entry alive.
	r.mu.Lock()
	if cur, ok := r.entries[key]; ok && cur == e && !r.keyOwned(key) {
		cur.mu.RLock()
		if len(cur.conns) == 0 {
			delete(r.entries, key)
		}
		cur.mu.RUnlock()
	}
	r.mu.Unlock()
}

// keyOwned reports whether any session still claims the identity key.
// Caller holds r.mu.
func (r *Registry) keyOwned(key int64) bool {
	for _, owner := range r.owners {
		if owner == key {
			return true
		}
	}
	return false
}

// ConnectionsFor returns a snapshot of the identity's open connections,
// possibly empty. A lookup racing an unregister may miss that connection;
// it never yields a handle that was already removed.
func (r *Registry) ConnectionsFor(id int64) []contract.Connection {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()

	if e == nil {
		return nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	snapshot := make([]contract.Connection, 0, len(e.conns))
	for _, conn := range e.conns {
		snapshot = append(snapshot, conn)
	}
	return snapshot
}

// Sessions counts the open connections across all identities.
func (r *Registry) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
