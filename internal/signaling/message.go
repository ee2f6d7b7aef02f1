package signaling

import "github.com/openstudio/openstudio/internal/registry"

// MessageType enumerates the wire-protocol message types recognized by the
// hub (§6).
type MessageType string

const (
	TypeRegister        MessageType = "register"
	TypeRegistered       MessageType = "registered"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
	TypeCreateRoom       MessageType = "create-room"
	TypeRoomCreated      MessageType = "room-created"
	TypeJoinRoom         MessageType = "join-room"
	TypeRoomJoined       MessageType = "room-joined"
	TypeCreateOrJoinRoom MessageType = "create-or-join-room"
	TypeOffer            MessageType = "offer"
	TypeAnswer           MessageType = "answer"
	TypeICECandidate     MessageType = "ice-candidate"
	TypeMute             MessageType = "mute"
	TypeWelcome          MessageType = "welcome"
	TypePeerJoined       MessageType = "peer-joined"
	TypePeerLeft         MessageType = "peer-left"
	TypeError            MessageType = "error"
)

// Participant describes one room member as surfaced in room-joined (§6).
type Participant struct {
	PeerID string `json:"peer_id"`
	Role   registry.Role `json:"role"`
}

// Message is the single multiplexed envelope used for every signaling frame
// (§6). Only the fields relevant to Type are populated; the rest are left at
// their zero value and omitted on the wire via `omitempty`.
//
// A flat envelope (rather than a nested json.RawMessage payload per type) is
// used here because the protocol's message shapes are small and largely
// share fields (from/to/peer_id); this mirrors the directness of the
// teacher's SignallingOffer/SignallingAnswer structs, scaled up to a single
// multiplexed type as required by a persistent session (§4.1) rather than
// one struct per HTTP endpoint.
type Message struct {
	Type MessageType `json:"type"`

	// register / registered / error
	PeerID  string `json:"peer_id,omitempty"`
	Message string `json:"message,omitempty"`

	// ping / pong
	Timestamp int64 `json:"timestamp,omitempty"`

	// create-room / create-or-join-room / room-created / room-joined
	RoomID  string        `json:"room_id,omitempty"`
	Role    registry.Role `json:"role,omitempty"`
	HostID  string        `json:"host_id,omitempty"`
	Created bool          `json:"created,omitempty"`

	// join-room / room-joined
	Participants []Participant `json:"participants,omitempty"`

	// offer / answer / ice-candidate
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	SDP       any    `json:"sdp,omitempty"`
	Candidate any    `json:"candidate,omitempty"`

	// mute
	Muted     bool   `json:"muted,omitempty"`
	Authority string `json:"authority,omitempty"`
}
