package relay

import (
	"net"
	"sync"

	"github.com/pairlink/pairlink-go/pkg/device"
)

// Conn is the connection surface the relay needs from a client.
// *transport.ServerConn satisfies it; tests use in-memory fakes.
type Conn interface {
	Send(data []byte) error
	Close() error
	RemoteAddr() net.Addr
	ConnID() string
}

type registryEntry struct {
	conn  Conn
	class device.Class
}

// Registry maps device IDs to their live connections. A device has at
// most one live connection; registering again supersedes and closes
// the previous one. Purely in-memory, lost on restart.
type Registry struct {
	mu      sync.Mutex
	entries map[string]registryEntry

	// order holds device IDs in first-registration order, so
	// FirstOfClass is deterministic. Re-registration keeps the
	// original position.
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]registryEntry),
	}
}

// Put binds deviceID to conn, closing any previous connection bound to
// the same ID. Returns the superseded connection, or nil.
func (r *Registry) Put(deviceID string, class device.Class, conn Conn) Conn {
	r.mu.Lock()
	old, existed := r.entries[deviceID]
	r.entries[deviceID] = registryEntry{conn: conn, class: class}
	if !existed {
		r.order = append(r.order, deviceID)
	}
	r.mu.Unlock()

	// Close outside the lock: closing unblocks the old connection's
	// read loop, whose cleanup calls back into the registry.
	if existed && old.conn != conn {
		_ = old.conn.Close()
		return old.conn
	}
	return nil
}

// Get returns the live connection for deviceID.
func (r *Registry) Get(deviceID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[deviceID]
	return entry.conn, ok
}

// Remove unbinds deviceID. Removing an unknown ID is a no-op.
// Reports whether a binding was removed.
func (r *Registry) Remove(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[deviceID]; !ok {
		return false
	}
	r.removeLocked(deviceID)
	return true
}

// RemoveConn unbinds deviceID only while it is still bound to conn, so
// the deferred cleanup of a superseded connection cannot evict its
// replacement. Reports whether a binding was removed.
func (r *Registry) RemoveConn(deviceID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[deviceID]
	if !ok || entry.conn != conn {
		return false
	}
	r.removeLocked(deviceID)
	return true
}

// FirstOfClass returns the earliest-registered device of the given
// class and its connection. The same device keeps winning the lookup
// until it disconnects.
func (r *Registry) FirstOfClass(class device.Class) (string, Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if entry, ok := r.entries[id]; ok && entry.class == class {
			return id, entry.conn, true
		}
	}
	return "", nil, false
}

// Snapshot returns a copy of the registered device IDs in
// first-registration order.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Len returns the number of live bindings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *Registry) removeLocked(deviceID string) {
	delete(r.entries, deviceID)
	for i, id := range r.order {
		if id == deviceID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
