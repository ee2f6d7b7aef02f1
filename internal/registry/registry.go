// Package registry implements PeerRegistry and RoomManager (§4.2): a
// process-wide map from peer id to signaling session, and a map from room id
// to its ordered membership.
//
// Grounded on github.com/Honorable-Knights-of-the-Roundtable/roundtable's
// pkg/signalling.PeerIdentifier for peer identity, generalized to the
// session-map-plus-room-map shape described in §3/§4.2. All access is
// serialized by a mutex rather than the teacher's single-threaded event loop,
// since the signaling hub here handles many concurrent goroutine-per-session
// readers (§6, gorilla/websocket sessions).
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
)

var (
	ErrAlreadyRegistered = errors.New("peer id already registered")
	ErrNotFound          = errors.New("peer id not found")
	ErrAlreadyInRoom     = errors.New("peer is already a member of a room")
	ErrRoomNotFound      = errors.New("room not found")
)

// Session is the minimal capability the registry needs from a signaling
// session: something addressable that can be handed back to callers for
// message delivery. The signaling package's *Client satisfies this.
type Session interface {
	PeerID() string
}

// Member is one room participant: their role and their signaling session.
type Member struct {
	Role    Role
	Session Session
}

// Room is an in-memory chat/broadcast room (§3). Zero-member rooms do not
// exist: RoomManager.RemovePeer deletes a room when its last member leaves.
type Room struct {
	ID      string
	mu      sync.RWMutex
	members map[string]Member
	// order preserves join order for deterministic participant listings.
	order []string
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make(map[string]Member),
	}
}

// Members returns a snapshot of the room's membership keyed by peer id; the
// map carries no order (MembersOrdered gives join order).
func (r *Room) Members() map[string]Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Member, len(r.members))
	for k, v := range r.members {
		out[k] = v
	}
	return out
}

// MembersOrdered returns peer ids in join order.
func (r *Room) MembersOrdered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Member looks up a single member by peer id.
func (r *Room) Member(peerID string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[peerID]
	return m, ok
}

// Size returns the current member count.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) add(peerID string, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.members[peerID]; !exists {
		r.order = append(r.order, peerID)
	}
	r.members[peerID] = m
}

// remove deletes peerID from the room and reports whether the room is now
// empty (and should be destroyed by the caller, RoomManager).
func (r *Room) remove(peerID string) (wasLast bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[peerID]; !ok {
		return len(r.members) == 0
	}
	delete(r.members, peerID)
	for i, id := range r.order {
		if id == peerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return len(r.members) == 0
}

// PeerRegistry maps peer id to signaling session, and tracks current room
// membership (a peer is in at most one room, per §3's invariant).
type PeerRegistry struct {
	mu          sync.RWMutex
	sessions    map[string]Session
	peerToRoom  map[string]string
	sessionToID map[Session]string
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		sessions:    make(map[string]Session),
		peerToRoom:  make(map[string]string),
		sessionToID: make(map[Session]string),
	}
}

// Register binds peerID to session. Fails if peerID is already bound to a
// live session (§4.1: "duplicate registration of an in-use id fails").
func (p *PeerRegistry) Register(peerID string, session Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.sessions[peerID]; exists {
		return ErrAlreadyRegistered
	}
	p.sessions[peerID] = session
	p.sessionToID[session] = peerID
	return nil
}

// Count reports the number of peers currently registered.
func (p *PeerRegistry) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Resolve looks up the session currently registered for peerID.
func (p *PeerRegistry) Resolve(peerID string) (Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[peerID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// UnregisterBySession removes whatever peer id is currently bound to
// session, returning that peer id (empty if the session was never
// registered).
func (p *PeerRegistry) UnregisterBySession(session Session) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	peerID, ok := p.sessionToID[session]
	if !ok {
		return ""
	}
	delete(p.sessionToID, session)
	delete(p.sessions, peerID)
	delete(p.peerToRoom, peerID)
	return peerID
}

// RoomOf returns the room id the peer currently belongs to, if any.
func (p *PeerRegistry) RoomOf(peerID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.peerToRoom[peerID]
	return id, ok
}

func (p *PeerRegistry) setRoom(peerID, roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peerToRoom[peerID] = roomID
}

func (p *PeerRegistry) clearRoom(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peerToRoom, peerID)
}

// RoomManager owns the collision-free creation, joining, and garbage
// collection of rooms (§4.2).
type RoomManager struct {
	registry *PeerRegistry

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRoomManager(registry *PeerRegistry) *RoomManager {
	return &RoomManager{
		registry: registry,
		rooms:    make(map[string]*Room),
	}
}

// generateRoomID returns a random, collision-free 128-bit hex room id, as
// required by §4.2's "generated ids use a 128-bit random source".
func generateRoomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// CreateOrJoin implements create-or-join-room (§4.1/§6): idempotent, any role
// may create. If roomID is empty, a fresh id is generated. Returns the room
// and whether this call created it.
func (rm *RoomManager) CreateOrJoin(roomID string, peerID string, role Role, session Session) (*Room, bool, error) {
	if existingRoom, ok := rm.registry.RoomOf(peerID); ok {
		return nil, false, errAlreadyInDifferentRoom(existingRoom, roomID)
	}

	rm.mu.Lock()
	created := false
	if roomID == "" {
		for {
			id, err := generateRoomID()
			if err != nil {
				rm.mu.Unlock()
				return nil, false, err
			}
			if _, exists := rm.rooms[id]; !exists {
				roomID = id
				break
			}
		}
	}
	room, exists := rm.rooms[roomID]
	if !exists {
		room = newRoom(roomID)
		rm.rooms[roomID] = room
		created = true
	}
	rm.mu.Unlock()

	room.add(peerID, Member{Role: role, Session: session})
	rm.registry.setRoom(peerID, roomID)
	return room, created, nil
}

// Join implements plain join-room: fails with ErrRoomNotFound if roomID is
// unknown (§4.1: join-room requires an existing room, unlike
// create-or-join-room).
func (rm *RoomManager) Join(roomID string, peerID string, role Role, session Session) (*Room, error) {
	if existingRoom, ok := rm.registry.RoomOf(peerID); ok {
		return nil, errAlreadyInDifferentRoom(existingRoom, roomID)
	}

	rm.mu.RLock()
	room, exists := rm.rooms[roomID]
	rm.mu.RUnlock()
	if !exists {
		return nil, ErrRoomNotFound
	}

	room.add(peerID, Member{Role: role, Session: session})
	rm.registry.setRoom(peerID, roomID)
	return room, nil
}

// Room looks up a room by id without mutating membership.
func (rm *RoomManager) Room(roomID string) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	r, ok := rm.rooms[roomID]
	return r, ok
}

// RoomCount returns the number of currently non-empty rooms, which is an
// invariant checked in §8: "Room count equals the number of distinct room ids
// currently containing at least one peer".
func (rm *RoomManager) RoomCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

// RemovePeer removes peerID from whatever room it belongs to (if any). If
// that was the room's last member, the room is destroyed and wasLast is
// true.
func (rm *RoomManager) RemovePeer(peerID string) (room *Room, wasLast bool) {
	roomID, ok := rm.registry.RoomOf(peerID)
	if !ok {
		return nil, false
	}

	rm.mu.RLock()
	r, exists := rm.rooms[roomID]
	rm.mu.RUnlock()
	if !exists {
		rm.registry.clearRoom(peerID)
		return nil, false
	}

	wasLast = r.remove(peerID)
	rm.registry.clearRoom(peerID)

	if wasLast {
		rm.mu.Lock()
		delete(rm.rooms, roomID)
		rm.mu.Unlock()
	}

	return r, wasLast
}

type roomConflictError struct {
	current, requested string
}

func (e *roomConflictError) Error() string {
	return "peer already in room " + e.current + ", cannot join " + e.requested
}

func errAlreadyInDifferentRoom(current, requested string) error {
	return &roomConflictError{current: current, requested: requested}
}
