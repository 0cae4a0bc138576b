package registry

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/firewatch/fire-relay/internal/domain/emergency"
)

// Handle identifies one live connection. It is valid only for the lifetime of
// that connection and is never reused for another one.
type Handle string

// Conn is the minimal surface of a bidirectional message channel the registry
// and broadcast engine need. *websocket.Conn satisfies it via a thin wrapper.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Registry tracks live client and admin connections and links transient
// handles to stable identities. It is owned by the relay hub goroutine and
// must only be used from there; that single-context ownership is what removes
// the need for internal locking.
type Registry struct {
	clients map[Handle]Conn
	admins  map[Handle]Conn

	// identities binds a transient handle to its stable identity while the
	// owning connection is open.
	identities map[Handle]emergency.StableID

	names    map[emergency.StableID]string
	tokens   map[emergency.StableID]string
	statuses map[emergency.StableID]emergency.UserStatusRecord
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		clients:    make(map[Handle]Conn),
		admins:     make(map[Handle]Conn),
		identities: make(map[Handle]emergency.StableID),
		names:      make(map[emergency.StableID]string),
		tokens:     make(map[emergency.StableID]string),
		statuses:   make(map[emergency.StableID]emergency.UserStatusRecord),
	}
}

// RegisterClient adds a client connection to the live set and returns its handle.
func (r *Registry) RegisterClient(conn Conn) Handle {
	handle := newHandle()
	r.clients[handle] = conn

	return handle
}

// RegisterAdmin adds an admin connection to the live set and returns its handle.
func (r *Registry) RegisterAdmin(conn Conn) Handle {
	handle := newHandle()
	r.admins[handle] = conn

	return handle
}

// BindIdentity links a handle to a stable identity and records the display
// name and push token under that identity. It is last-write-wins: a newer
// registration for the same identity overwrites prior name/token state and
// steals the identity from any previously bound handle.
func (r *Registry) BindIdentity(handle Handle, id emergency.StableID, name, token string) {
	// Latest registration wins: unbind the identity from any older handle.
	for boundHandle, boundID := range r.identities {
		if boundID == id && boundHandle != handle {
			delete(r.identities, boundHandle)
		}
	}

	r.identities[handle] = id
	r.names[id] = name

	if token != "" {
		r.tokens[id] = token
	} else {
		delete(r.tokens, id)
	}
}

// Unregister atomically drops a connection from the live sets, drops its
// identity binding and deletes the status record and push token of that
// identity. This is how stale state never outlives a disconnected client.
// It reports whether the handle was known.
func (r *Registry) Unregister(handle Handle) bool {
	_, isClient := r.clients[handle]
	_, isAdmin := r.admins[handle]

	if !isClient && !isAdmin {
		return false
	}

	delete(r.clients, handle)
	delete(r.admins, handle)

	if id, ok := r.identities[handle]; ok {
		delete(r.identities, handle)
		delete(r.names, id)
		delete(r.tokens, id)
		delete(r.statuses, id)
	}

	return true
}

// IdentityOf returns the stable identity bound to a handle, if any.
func (r *Registry) IdentityOf(handle Handle) (emergency.StableID, bool) {
	id, ok := r.identities[handle]

	return id, ok
}

// DisplayName returns the registered display name of an identity, if any.
func (r *Registry) DisplayName(id emergency.StableID) (string, bool) {
	name, ok := r.names[id]

	return name, ok
}

// SetStatus stores the status label for the identity bound to the handle and
// returns the resulting record. It fails when the handle has no identity yet.
func (r *Registry) SetStatus(handle Handle, status string, now time.Time) (emergency.StableID, emergency.UserStatusRecord, bool) {
	id, ok := r.identities[handle]
	if !ok {
		return "", emergency.UserStatusRecord{}, false
	}

	name, ok := r.names[id]
	if !ok {
		name = "Unknown User"
	}

	record := emergency.UserStatusRecord{
		Status:    status,
		Name:      name,
		Timestamp: emergency.Timestamp(now),
	}
	r.statuses[id] = record

	return id, record, true
}

// ClientCount returns the number of live client connections.
func (r *Registry) ClientCount() int {
	return len(r.clients)
}

// AdminCount returns the number of live admin connections.
func (r *Registry) AdminCount() int {
	return len(r.admins)
}

// StatusSnapshot returns a copy of the live user status map.
func (r *Registry) StatusSnapshot() map[emergency.StableID]emergency.UserStatusRecord {
	snapshot := make(map[emergency.StableID]emergency.UserStatusRecord, len(r.statuses))
	for id, record := range r.statuses {
		snapshot[id] = record
	}

	return snapshot
}

// PushTokens returns the current push tokens deduplicated by value.
// The result is sorted to keep dispatch batches deterministic.
func (r *Registry) PushTokens() []string {
	seen := make(map[string]struct{}, len(r.tokens))
	tokens := make([]string, 0, len(r.tokens))

	for _, token := range r.tokens {
		if _, ok := seen[token]; ok {
			continue
		}

		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}

	sort.Strings(tokens)

	return tokens
}

// Clients returns a snapshot of the live client connection set, safe to
// iterate while the registry is mutated by delivery failures.
func (r *Registry) Clients() map[Handle]Conn {
	return copyConns(r.clients)
}

// Admins returns a snapshot of the live admin connection set.
func (r *Registry) Admins() map[Handle]Conn {
	return copyConns(r.admins)
}

// Conn returns the connection behind a handle regardless of role.
func (r *Registry) Conn(handle Handle) (Conn, bool) {
	if conn, ok := r.clients[handle]; ok {
		return conn, true
	}

	conn, ok := r.admins[handle]

	return conn, ok
}

func copyConns(source map[Handle]Conn) map[Handle]Conn {
	snapshot := make(map[Handle]Conn, len(source))
	for handle, conn := range source {
		snapshot[handle] = conn
	}

	return snapshot
}

func newHandle() Handle {
	return Handle(uuid.NewString())
}
