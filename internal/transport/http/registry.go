package http

import (
	"sync"
	"time"

	"livequiz/internal/domain"
)

// Conn is an outbound channel to one connected client.
type Conn interface {
	ID() string
	// Send enqueues msg without blocking. It reports false when the client
	// is gone or too slow to keep up.
	Send(msg []byte) bool
}

// Registry maps session codes to the connections that should receive their
// broadcasts. It is a cache over the session store: the store decides who is
// admin and who is an active participant, and Reconcile drops what the
// store no longer backs.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	now   func() time.Time
}

type room struct {
	admin        *entry
	participants map[string]*entry
}

type entry struct {
	conn  Conn
	since time.Time
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room), now: time.Now}
}

func (r *Registry) roomLocked(code string) *room {
	rm, ok := r.rooms[code]
	if !ok {
		rm = &room{participants: make(map[string]*entry)}
		r.rooms[code] = rm
	}
	return rm
}

// SetAdmin makes c the admin connection of code and returns the connection it
// replaced, if any.
func (r *Registry) SetAdmin(code string, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.roomLocked(code)
	var previous Conn
	if rm.admin != nil && rm.admin.conn.ID() != c.ID() {
		previous = rm.admin.conn
	}
	rm.admin = &entry{conn: c, since: r.now()}
	return previous
}

// RemoveAdmin clears the admin slot if connID still holds it.
func (r *Registry) RemoveAdmin(code, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[code]
	if !ok || rm.admin == nil || rm.admin.conn.ID() != connID {
		return false
	}
	rm.admin = nil
	r.pruneLocked(code, rm)
	return true
}

func (r *Registry) AddParticipant(code string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roomLocked(code).participants[c.ID()] = &entry{conn: c, since: r.now()}
}

func (r *Registry) RemoveParticipant(code, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[code]
	if !ok {
		return false
	}
	if _, ok := rm.participants[connID]; !ok {
		return false
	}
	delete(rm.participants, connID)
	r.pruneLocked(code, rm)
	return true
}

// Broadcast sends msg to every participant of code, and to the admin when
// includeAdmin is set. It returns the number of connections that accepted it.
func (r *Registry) Broadcast(code string, msg []byte, includeAdmin bool) int {
	r.mu.RLock()
	rm, ok := r.rooms[code]
	if !ok {
		r.mu.RUnlock()
		return 0
	}
	targets := make([]Conn, 0, len(rm.participants)+1)
	for _, e := range rm.participants {
		targets = append(targets, e.conn)
	}
	if includeAdmin && rm.admin != nil {
		targets = append(targets, rm.admin.conn)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.Send(msg) {
			sent++
		}
	}
	return sent
}

// SendAdmin delivers msg to the admin connection of code, if one is registered.
func (r *Registry) SendAdmin(code string, msg []byte) bool {
	r.mu.RLock()
	var admin Conn
	if rm, ok := r.rooms[code]; ok && rm.admin != nil {
		admin = rm.admin.conn
	}
	r.mu.RUnlock()
	if admin == nil {
		return false
	}
	return admin.Send(msg)
}

// Codes lists the sessions with at least one registered connection.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.rooms))
	for code := range r.rooms {
		codes = append(codes, code)
	}
	return codes
}

// Counts reports how many admin and participant connections are registered.
func (r *Registry) Counts() (admins, participants int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rm := range r.rooms {
		if rm.admin != nil {
			admins++
		}
		participants += len(rm.participants)
	}
	return admins, participants
}

// Drop forgets every connection of code.
func (r *Registry) Drop(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, code)
}

// Reconcile removes entries that session, read at asOf, no longer backs: an
// admin that is not the session's admin connection and participants that are
// not active under their connection. Entries registered after asOf are kept,
// since the snapshot may predate their join. It returns the IDs it removed.
func (r *Registry) Reconcile(session domain.Session, asOf time.Time) []string {
	active := make(map[string]bool, len(session.Participants))
	for _, p := range session.Participants {
		if p.IsActive {
			active[p.ConnectionID] = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[session.Code]
	if !ok {
		return nil
	}
	var dropped []string
	if rm.admin != nil && rm.admin.since.Before(asOf) && rm.admin.conn.ID() != session.AdminConnectionID {
		dropped = append(dropped, rm.admin.conn.ID())
		rm.admin = nil
	}
	for id, e := range rm.participants {
		if e.since.Before(asOf) && !active[id] {
			dropped = append(dropped, id)
			delete(rm.participants, id)
		}
	}
	r.pruneLocked(session.Code, rm)
	return dropped
}

func (r *Registry) pruneLocked(code string, rm *room) {
	if rm.admin == nil && len(rm.participants) == 0 {
		delete(r.rooms, code)
	}
}
