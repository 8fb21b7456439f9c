package registry

import (
	"sync"

	"github.com/roomloop/relay/pkg/protocol"
)

type entry struct {
	name string
	ws   protocol.EventWriter
}

// Registry maps live connections to display names in both directions. Display
// names are unauthenticated, so a re-registration under an already-held name
// steals it: last write wins.
type Registry struct {
	mu      sync.RWMutex
	conns   map[protocol.ConnID]*entry
	byName  map[string]protocol.ConnID
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[protocol.ConnID]*entry),
		byName: make(map[string]protocol.ConnID),
	}
}

// Attach records a live connection before it has a display name.
func (r *Registry) Attach(connID protocol.ConnID, ws protocol.EventWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = &entry{ws: ws}
}

// Register binds a display name to a connection. Idempotent; overwrites any
// prior name for that connection.
func (r *Registry) Register(connID protocol.ConnID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return
	}
	if e.name != "" && r.byName[e.name] == connID {
		delete(r.byName, e.name)
	}
	e.name = name
	if name != "" {
		r.byName[name] = connID
	}
}

// Resolve returns the connection currently holding a display name. A false
// result is a valid negative, not a failure.
func (r *Registry) Resolve(name string) (protocol.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.byName[name]
	return connID, ok
}

func (r *Registry) NameOf(connID protocol.ConnID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok || e.name == "" {
		return "", false
	}
	return e.name, true
}

func (r *Registry) WriterOf(connID protocol.ConnID) (protocol.EventWriter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return e.ws, true
}

// Detach removes the connection and its name index entry. Must run before the
// transport identifier can be reused.
func (r *Registry) Detach(connID protocol.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return
	}
	if e.name != "" && r.byName[e.name] == connID {
		delete(r.byName, e.name)
	}
	delete(r.conns, connID)
}
