package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 19 // 512KB, SDP payloads can be large
	sendBufferSize = 64
)

// Client is one full-duplex signaling session (§4.1). It is anonymous
// (peerID == "") until it sends a register message.
//
// The read/write pump split and ping/pong keepalive follow
// Adityaadpandey-sfu-go's internal/signaling.Client, which is the idiomatic
// Go shape for a persistent text-framed WebSocket session; the teacher
// codebase's equivalent (WebRTCConnectionManager.listenForSessionOffers) is a
// one-shot HTTP POST/response and does not model the persistent duplex
// session this spec requires.
type Client struct {
	conn *websocket.Conn
	send chan Message

	logger *slog.Logger

	mu       sync.RWMutex
	peerID   string
	role     string
	roomID   string
	sequence uint64 // not read or written anywhere; session state is derived from peerID and roomID

	closeOnce sync.Once
	closed    atomic.Bool

	// OnMessage is invoked for every frame read off the wire, with the
	// client that received it.
	OnMessage func(*Client, Message)
	// OnDisconnect is invoked once the read pump exits for any reason.
	OnDisconnect func(*Client)
}

func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan Message, sendBufferSize),
		logger: logger,
	}
}

// PeerID satisfies registry.Session.
func (c *Client) PeerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerID
}

func (c *Client) setPeerID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerID = id
}

func (c *Client) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Client) setRoomID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = id
}

// Registered reports whether register has succeeded for this session.
func (c *Client) Registered() bool {
	return c.PeerID() != ""
}

// Send enqueues msg for delivery. It never blocks indefinitely: if the
// client's send buffer is full, the message is dropped and logged, which in
// practice only happens for a slow or dead connection about to be reaped.
func (c *Client) Send(msg Message) {
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("signaling client send buffer full, dropping message", "peerID", c.PeerID(), "type", msg.Type)
	}
}

// Close idempotently closes the send channel, which causes WritePump to send
// a close frame and return.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

// ReadPump reads frames off the WebSocket connection until it errors or the
// connection closes, dispatching each to OnMessage. Malformed framing (§7,
// Protocol errors) is reported back to the sender as an error message and the
// session continues; only a transport-level I/O failure closes the session.
func (c *Client) ReadPump() {
	defer func() {
		if c.OnDisconnect != nil {
			c.OnDisconnect(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("signaling session closed unexpectedly", "peerID", c.PeerID(), "err", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(Message{Type: TypeError, Message: "malformed message: " + err.Error()})
			continue
		}

		if c.OnMessage != nil {
			c.OnMessage(c, msg)
		}
	}
}

// WritePump drains the send channel to the wire and sends periodic pings to
// keep the connection alive and detect dead peers.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("signaling write failed", "peerID", c.PeerID(), "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
