package stream

import (
	"sync"

	"gymstream/domain"
)

// Registry owns the authoritative set of live connections. It is purely
// in-memory and scoped to one process; no operation performs I/O under the
// lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add inserts the connection by id, last write wins.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
}

// Remove closes the connection if present and deletes it. Removing an
// unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if ok {
		c.Close()
	}
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Filter returns the connections an event scoped by f must reach: same
// tenant, and either the filter names no location, or the connection
// subscribed tenant-wide, or the locations match. Dispatch is governed by
// the connection's scope, not strict equality.
func (r *Registry) Filter(f domain.EventFilter) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c.OrgID != f.OrgID {
			continue
		}
		if f.LocationID != nil && c.LocationID != nil && *c.LocationID != *f.LocationID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByOrg reports live connections per tenant, for diagnostics.
func (r *Registry) CountByOrg() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.conns))
	for _, c := range r.conns {
		out[c.OrgID]++
	}
	return out
}
