package signaling

import (
	"log/slog"

	"github.com/openstudio/openstudio/internal/logging"
	"github.com/openstudio/openstudio/internal/metrics"
	"github.com/openstudio/openstudio/internal/registry"
)

// Hub is the process-wide signaling coordinator (§4.1). It owns the
// PeerRegistry/RoomManager and dispatches every inbound Message to the
// handler for its Type, replying to or relaying from the originating
// Client.
//
// Grounded on Adityaadpandey-sfu-go's internal/signaling.Hub for the
// accept-dispatch-broadcast shape; the authority rules on mute and the
// room lifecycle are this spec's own (§4.1, §6), with no teacher
// equivalent since the teacher never multiplexes more than one peer
// per signaling exchange.
type Hub struct {
	logger   *slog.Logger
	registry *registry.PeerRegistry
	rooms    *registry.RoomManager
	metrics  *metrics.Registry
}

func NewHub(logger *slog.Logger, metrics *metrics.Registry) *Hub {
	reg := registry.NewPeerRegistry()
	return &Hub{
		logger:   logging.ChildOrDefault(logger),
		registry: reg,
		rooms:    registry.NewRoomManager(reg),
		metrics:  metrics,
	}
}

// Registry exposes the hub's PeerRegistry for read-only reporting (e.g. the
// /health endpoint's peer count); callers must not mutate it directly.
func (h *Hub) Registry() *registry.PeerRegistry {
	return h.registry
}

// Bind wires a freshly accepted Client's callbacks into the hub. Call before
// starting the client's ReadPump/WritePump goroutines.
func (h *Hub) Bind(c *Client) {
	c.OnMessage = h.handle
	c.OnDisconnect = h.handleDisconnect
}

func (h *Hub) handle(c *Client, msg Message) {
	switch msg.Type {
	case TypeRegister:
		h.handleRegister(c, msg)
	case TypePing:
		c.Send(Message{Type: TypePong, Timestamp: msg.Timestamp})
	case TypeCreateRoom:
		h.handleCreateRoom(c, msg)
	case TypeJoinRoom:
		h.handleJoinRoom(c, msg)
	case TypeCreateOrJoinRoom:
		h.handleCreateOrJoinRoom(c, msg)
	case TypeOffer, TypeAnswer, TypeICECandidate:
		h.handleRelay(c, msg)
	case TypeMute:
		h.handleMute(c, msg)
	default:
		h.sendError(c, "unknown message type: "+string(msg.Type))
	}
}

func (h *Hub) handleRegister(c *Client, msg Message) {
	if c.Registered() {
		h.sendError(c, "session already registered")
		return
	}
	if msg.PeerID == "" {
		h.sendError(c, "register requires peer_id")
		return
	}
	if err := h.registry.Register(msg.PeerID, c); err != nil {
		h.sendError(c, err.Error())
		return
	}
	c.setPeerID(msg.PeerID)
	h.metrics.IncPeerRegistered()
	c.Send(Message{Type: TypeRegistered, PeerID: msg.PeerID})
	h.logger.Debug("peer registered", "peerID", msg.PeerID)
}

// handleCreateRoom implements create-room: the caller becomes host of a
// freshly generated room. Unlike create-or-join-room, it never joins an
// existing room.
func (h *Hub) handleCreateRoom(c *Client, msg Message) {
	if !h.requireRegistered(c) {
		return
	}
	room, _, err := h.rooms.CreateOrJoin("", c.PeerID(), registry.RoleHost, c)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	h.metrics.IncRoomCreated()
	c.setRoomID(room.ID)
	c.Send(Message{Type: TypeRoomCreated, RoomID: room.ID, HostID: c.PeerID(), Created: true})
}

// handleJoinRoom implements join-room: fails if the room does not already
// exist (§4.1).
func (h *Hub) handleJoinRoom(c *Client, msg Message) {
	if !h.requireRegistered(c) {
		return
	}
	role := msg.Role
	if role == "" {
		role = registry.RoleGuest
	}
	if !role.Valid() {
		h.sendError(c, "invalid role: "+string(msg.Role))
		return
	}
	if msg.RoomID == "" {
		h.sendError(c, "join-room requires room_id")
		return
	}

	room, err := h.rooms.Join(msg.RoomID, c.PeerID(), role, c)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	c.setRoomID(room.ID)
	h.replyRoomJoined(c, room)
	h.broadcastPeerJoined(room, c.PeerID(), role)
}

// handleCreateOrJoinRoom implements create-or-join-room: idempotent, any
// role may create (§4.1).
func (h *Hub) handleCreateOrJoinRoom(c *Client, msg Message) {
	if !h.requireRegistered(c) {
		return
	}
	role := msg.Role
	if role == "" {
		role = registry.RoleGuest
	}
	if !role.Valid() {
		h.sendError(c, "invalid role: "+string(msg.Role))
		return
	}

	room, created, err := h.rooms.CreateOrJoin(msg.RoomID, c.PeerID(), role, c)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	c.setRoomID(room.ID)
	if created {
		h.metrics.IncRoomCreated()
		c.Send(Message{Type: TypeRoomCreated, RoomID: room.ID, HostID: c.PeerID(), Created: true})
		return
	}
	h.replyRoomJoined(c, room)
	h.broadcastPeerJoined(room, c.PeerID(), role)
}

func (h *Hub) replyRoomJoined(c *Client, room *registry.Room) {
	participants := make([]Participant, 0, room.Size())
	for _, peerID := range room.MembersOrdered() {
		m, ok := room.Member(peerID)
		if !ok {
			continue
		}
		participants = append(participants, Participant{PeerID: peerID, Role: m.Role})
	}
	c.Send(Message{Type: TypeRoomJoined, RoomID: room.ID, Participants: participants})
}

func (h *Hub) broadcastPeerJoined(room *registry.Room, peerID string, role registry.Role) {
	for _, memberID := range room.MembersOrdered() {
		if memberID == peerID {
			continue
		}
		m, ok := room.Member(memberID)
		if !ok {
			continue
		}
		if client, ok := m.Session.(*Client); ok {
			client.Send(Message{Type: TypePeerJoined, PeerID: peerID, RoomID: room.ID, Role: role})
		}
	}
}

// handleRelay implements the unicast relay for offer/answer/ice-candidate
// (§4.1, §6): from must match the sender, to must resolve to a registered
// peer in the same room.
func (h *Hub) handleRelay(c *Client, msg Message) {
	if !h.requireRegistered(c) {
		return
	}
	if msg.From != "" && msg.From != c.PeerID() {
		h.sendError(c, "spoofed from: expected "+c.PeerID())
		return
	}
	msg.From = c.PeerID()

	if msg.To == "" {
		h.sendError(c, "relay requires to")
		return
	}

	targetSession, err := h.registry.Resolve(msg.To)
	if err != nil {
		h.sendError(c, "unknown target peer: "+msg.To)
		return
	}
	target, ok := targetSession.(*Client)
	if !ok {
		h.sendError(c, "unknown target peer: "+msg.To)
		return
	}

	senderRoom, _ := h.registry.RoomOf(c.PeerID())
	targetRoom, _ := h.registry.RoomOf(msg.To)
	if senderRoom == "" || senderRoom != targetRoom {
		h.sendError(c, "target peer is not in your room")
		return
	}

	target.Send(msg)
}

// handleMute implements the mute broadcast with authority enforcement
// (§4.1): a producer-authority mute requires host or ops role; a
// self-authority mute must target the sender.
func (h *Hub) handleMute(c *Client, msg Message) {
	if !h.requireRegistered(c) {
		return
	}
	roomID := c.RoomID()
	if roomID == "" {
		h.sendError(c, "mute requires room membership")
		return
	}
	room, ok := h.rooms.Room(roomID)
	if !ok {
		h.sendError(c, "room no longer exists")
		return
	}

	senderMember, ok := room.Member(c.PeerID())
	if !ok {
		h.sendError(c, "not a member of this room")
		return
	}

	switch msg.Authority {
	case "producer":
		if !senderMember.Role.CanActAsProducer() {
			h.sendError(c, "producer authority requires host or ops role")
			return
		}
	case "self", "":
		msg.Authority = "self"
		if msg.PeerID != c.PeerID() {
			h.sendError(c, "self authority can only target the sender")
			return
		}
	default:
		h.sendError(c, "invalid mute authority: "+msg.Authority)
		return
	}

	h.metrics.ObserveMute(msg.Authority, msg.Muted)

	out := Message{Type: TypeMute, PeerID: msg.PeerID, Muted: msg.Muted, Authority: msg.Authority, RoomID: roomID}
	for _, memberID := range room.MembersOrdered() {
		m, ok := room.Member(memberID)
		if !ok {
			continue
		}
		if client, ok := m.Session.(*Client); ok {
			client.Send(out)
		}
	}
}

func (h *Hub) handleDisconnect(c *Client) {
	peerID := c.PeerID()
	if peerID == "" {
		return
	}
	// Leave the room before unregistering: UnregisterBySession also drops
	// the peer's room mapping, which RemovePeer needs to find the room.
	room, wasLast := h.rooms.RemovePeer(peerID)
	h.registry.UnregisterBySession(c)
	if wasLast {
		h.metrics.IncRoomDestroyed()
	}
	if room == nil {
		return
	}
	for _, memberID := range room.MembersOrdered() {
		m, ok := room.Member(memberID)
		if !ok {
			continue
		}
		if client, ok := m.Session.(*Client); ok {
			client.Send(Message{Type: TypePeerLeft, PeerID: peerID, RoomID: room.ID})
		}
	}
	h.logger.Debug("peer disconnected", "peerID", peerID, "roomDestroyed", wasLast)
}

func (h *Hub) requireRegistered(c *Client) bool {
	if c.Registered() {
		return true
	}
	h.sendError(c, "register required before this message type")
	return false
}

func (h *Hub) sendError(c *Client, reason string) {
	c.Send(Message{Type: TypeError, Message: reason})
}
