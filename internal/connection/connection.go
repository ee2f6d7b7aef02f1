// Package connection implements the per-peer ConnectionCoordinator (§4.3):
// Perfect Negotiation over a full mesh, with retry-with-backoff on
// transport failure.
//
// No teacher file models mesh Perfect Negotiation — Roundtable's
// WebRTCConnectionManager is a fixed offerer/answerer split with no
// collision handling. The polite/impolite state machine and retry-backoff
// loop are this spec's own (§4.3, §5.2), built in the teacher's idiom:
// slog child loggers, a single mutex serializing shared state (matching
// §5's single-threaded control event loop), and time.AfterFunc-driven
// retries following the pattern of the teacher's own heartbeat timers in
// internal/peer/peer.go.
package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/openstudio/openstudio/internal/logging"
	"github.com/openstudio/openstudio/internal/metrics"
	"github.com/openstudio/openstudio/internal/transport"
)

// Status mirrors the ConnectionState.status enumeration (§3).
type Status string

const (
	StatusDisconnected    Status = "disconnected"
	StatusWaiting         Status = "waiting"
	StatusConnecting      Status = "connecting"
	StatusConnected       Status = "connected"
	StatusFailed          Status = "failed"
	StatusFailedPermanent Status = "failed-permanent"
)

const (
	localStreamPollInterval = 100 * time.Millisecond
	localStreamPollTimeout  = 10 * time.Second

	retryInitialDelay = 2 * time.Second
	retryMaxDelay     = 8 * time.Second
	retryMaxAttempts  = 3
)

var ErrUnknownPeer = errors.New("connection: no state for remote peer")

// Outbox is how the coordinator delivers signaling traffic; cmd/studio
// implements it over its signaling WebSocket connection (wsOutbox).
type Outbox interface {
	SendOffer(remotePeerID string, sdp webrtc.SessionDescription)
	SendAnswer(remotePeerID string, sdp webrtc.SessionDescription)
	SendCandidate(remotePeerID string, candidate webrtc.ICECandidateInit)
}

type peerState struct {
	transport    *transport.MediaTransport
	polite       bool
	status       Status
	makingOffer  bool
	ignoreOffer  bool
	retryCount   int
	retryTimer   *time.Timer
	heartbeatRTT time.Duration
}

// Coordinator is the ConnectionCoordinator for one local peer: it owns one
// MediaTransport per remote peer and drives Perfect Negotiation across all
// of them (§4.3).
type Coordinator struct {
	logger       *slog.Logger
	localPeerID  string
	api          *webrtc.API
	iceConfig    webrtc.Configuration
	outbox       Outbox
	metrics      *metrics.Registry
	localStream  func() bool // reports whether local microphone capture is ready

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	peers map[string]*peerState

	// OnMicrophoneTrack fires on the first remote track from a peer (§3:
	// StreamSlot ordering contract — first is microphone).
	OnMicrophoneTrack func(remotePeerID string, track *webrtc.TrackRemote)
	// OnReturnFeedTrack fires on the second remote track from a peer.
	OnReturnFeedTrack func(remotePeerID string, track *webrtc.TrackRemote)
	// OnStatusChange fires whenever a remote peer's ConnectionState.status
	// changes, for UI/metrics surfacing (§7).
	OnStatusChange func(remotePeerID string, status Status)
	// OnHeartbeatRTT fires whenever a link's heartbeat channel measures a
	// fresh latency (the one-way delta reported by the transport), for UI
	// surfacing alongside Status.
	OnHeartbeatRTT func(remotePeerID string, latency time.Duration)
}

// New creates a Coordinator for localPeerID. localStreamReady is polled to
// decide when it's safe to initiate outbound connections (§4.3); pass nil if
// local media is always ready (e.g. in tests).
func New(localPeerID string, api *webrtc.API, iceConfig webrtc.Configuration, outbox Outbox, localStreamReady func() bool, logger *slog.Logger, m *metrics.Registry) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		logger:      logging.ChildOrDefault(logger).With("localPeerID", localPeerID),
		localPeerID: localPeerID,
		api:         api,
		iceConfig:   iceConfig,
		outbox:      outbox,
		metrics:     m,
		localStream: localStreamReady,
		ctx:         ctx,
		cancel:      cancel,
		peers:       make(map[string]*peerState),
	}
}

// polite reports whether the local peer defers to remotePeerID on offer
// collisions (§4.3: lexicographically smaller id is polite).
func (c *Coordinator) polite(remotePeerID string) bool {
	return c.localPeerID < remotePeerID
}

func (c *Coordinator) setStatus(remotePeerID string, st *peerState, status Status) {
	st.status = status
	c.metrics.ObserveConnectionState(string(status))
	if c.OnStatusChange != nil {
		go c.OnStatusChange(remotePeerID, status)
	}
}

// ensureState returns the peerState for remotePeerID, creating its
// MediaTransport if this is the first time it's seen. Caller must hold c.mu.
func (c *Coordinator) ensureState(remotePeerID string) (*peerState, error) {
	if st, ok := c.peers[remotePeerID]; ok {
		return st, nil
	}
	t, err := c.newTransport(remotePeerID)
	if err != nil {
		return nil, err
	}
	st := &peerState{
		transport: t,
		polite:    c.polite(remotePeerID),
		status:    StatusDisconnected,
	}
	c.peers[remotePeerID] = st

	// The heartbeat channel is made by one side only (peerfactory.go's
	// offering-peer convention); here that's the impolite peer, since it's
	// also the side that always initiates the first offer (§4.3).
	if !st.polite {
		if err := t.OpenHeartbeatChannel(); err != nil {
			c.logger.Warn("failed to open heartbeat channel", "remotePeerID", remotePeerID, "err", err)
		}
	}

	return st, nil
}

func (c *Coordinator) newTransport(remotePeerID string) (*transport.MediaTransport, error) {
	t, err := transport.New(c.api, c.iceConfig, remotePeerID, c.logger)
	if err != nil {
		return nil, err
	}
	t.OnLocalCandidate = func(cand webrtc.ICECandidateInit) {
		c.outbox.SendCandidate(remotePeerID, cand)
	}
	t.OnHeartbeatRTT = func(latency time.Duration) {
		c.mu.Lock()
		st, ok := c.peers[remotePeerID]
		if ok {
			st.heartbeatRTT = latency
		}
		c.mu.Unlock()
		if ok && c.OnHeartbeatRTT != nil {
			c.OnHeartbeatRTT(remotePeerID, latency)
		}
	}
	t.OnRemoteTrack = func(tr *webrtc.TrackRemote, isFirstTrack bool) {
		c.mu.Lock()
		_, ok := c.peers[remotePeerID]
		c.mu.Unlock()
		if !ok {
			return
		}
		// isFirstTrack is computed by transport before it updates the slot,
		// so it reflects arrival order directly rather than being inferred
		// from post-update state (§3: first track is microphone, second is
		// return feed).
		if isFirstTrack {
			if c.OnMicrophoneTrack != nil {
				c.OnMicrophoneTrack(remotePeerID, tr)
			}
			return
		}
		if c.OnReturnFeedTrack != nil {
			c.OnReturnFeedTrack(remotePeerID, tr)
		}
	}
	t.OnStateChange = func(state webrtc.PeerConnectionState) {
		c.handleTransportStateChange(remotePeerID, state)
	}
	return t, nil
}

// PeerJoined handles peer_joined(remote) (§4.3): waits for local stream
// readiness, then initiates if impolite, otherwise waits for an offer.
func (c *Coordinator) PeerJoined(remotePeerID string) {
	c.mu.Lock()
	st, err := c.ensureState(remotePeerID)
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("failed to create transport for joined peer", "remotePeerID", remotePeerID, "err", err)
		return
	}
	c.setStatus(remotePeerID, st, StatusConnecting)
	c.mu.Unlock()

	go c.decideInitiation(remotePeerID)
}

// RoomJoined handles room_joined(existing) (§4.3): apply the same rule to
// every already-present member.
func (c *Coordinator) RoomJoined(existingMembers []string) {
	for _, peerID := range existingMembers {
		c.PeerJoined(peerID)
	}
}

func (c *Coordinator) decideInitiation(remotePeerID string) {
	if !c.waitLocalStreamReady() {
		c.logger.Warn("local microphone stream not ready after poll timeout, proceeding without it", "remotePeerID", remotePeerID)
	}

	c.mu.Lock()
	st, ok := c.peers[remotePeerID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if st.polite {
		c.setStatus(remotePeerID, st, StatusWaiting)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.initiate(remotePeerID); err != nil {
		c.logger.Error("failed to initiate offer", "remotePeerID", remotePeerID, "err", err)
	}
}

// waitLocalStreamReady polls at 100ms intervals for up to 10s (§4.3).
func (c *Coordinator) waitLocalStreamReady() bool {
	if c.localStream == nil {
		return true
	}
	if c.localStream() {
		return true
	}

	deadline := time.Now().Add(localStreamPollTimeout)
	ticker := time.NewTicker(localStreamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return false
		case now := <-ticker.C:
			if c.localStream() {
				return true
			}
			if now.After(deadline) {
				return false
			}
		}
	}
}

// initiate creates and sends a fresh offer for remotePeerID (the impolite
// peer's half of §4.3's peer_joined rule).
func (c *Coordinator) initiate(remotePeerID string) error {
	c.mu.Lock()
	st, err := c.ensureState(remotePeerID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	st.makingOffer = true
	t := st.transport
	c.mu.Unlock()

	offer, err := t.CreateOffer()

	c.mu.Lock()
	st.makingOffer = false
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.outbox.SendOffer(remotePeerID, offer)
	return nil
}

// HandleOffer applies an incoming offer, resolving collisions per the
// polite/impolite rule (§4.3).
func (c *Coordinator) HandleOffer(remotePeerID string, sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	st, err := c.ensureState(remotePeerID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	t := st.transport
	collision := st.makingOffer || t.SignalingState() != webrtc.SignalingStateStable
	polite := st.polite
	c.mu.Unlock()

	if collision {
		if !polite {
			c.mu.Lock()
			st.ignoreOffer = true
			c.mu.Unlock()
			c.logger.Debug("offer collision, impolite, ignoring remote offer", "remotePeerID", remotePeerID)
			return nil
		}
		c.logger.Debug("offer collision, polite, rolling back local offer", "remotePeerID", remotePeerID)
		if err := t.Rollback(); err != nil {
			return err
		}
	}

	if err := t.ApplyRemoteDescription(sdp); err != nil {
		c.markFailed(remotePeerID, st)
		return err
	}
	answer, err := t.CreateAnswer()
	if err != nil {
		c.markFailed(remotePeerID, st)
		return err
	}
	c.outbox.SendAnswer(remotePeerID, answer)
	return nil
}

// HandleAnswer applies an incoming answer unconditionally, regardless of any
// prior ignore_offer (§4.3), and clears the making_offer/ignore_offer flags.
func (c *Coordinator) HandleAnswer(remotePeerID string, sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	st, ok := c.peers[remotePeerID]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownPeer
	}

	if err := st.transport.ApplyRemoteDescription(sdp); err != nil {
		c.markFailed(remotePeerID, st)
		return err
	}

	c.mu.Lock()
	st.ignoreOffer = false
	st.makingOffer = false
	c.mu.Unlock()
	return nil
}

// HandleCandidate applies a remote ICE candidate. Parse/apply failures are
// logged and dropped without affecting other candidates (§4.4).
func (c *Coordinator) HandleCandidate(remotePeerID string, candidate webrtc.ICECandidateInit) {
	c.mu.Lock()
	st, ok := c.peers[remotePeerID]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("ice candidate for unknown peer, dropping", "remotePeerID", remotePeerID)
		return
	}
	if err := st.transport.AddRemoteCandidate(candidate); err != nil {
		c.logger.Warn("failed to apply remote ice candidate, dropping", "remotePeerID", remotePeerID, "err", err)
	}
}

// AddReturnFeed performs the renegotiation described in §4.3: adds track to
// the existing transport, makes an offer, and holds making_offer true until
// HandleAnswer applies the response.
func (c *Coordinator) AddReturnFeed(remotePeerID string, track webrtc.TrackLocal) error {
	c.mu.Lock()
	st, ok := c.peers[remotePeerID]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownPeer
	}

	if err := st.transport.AddTrack(track); err != nil {
		return err
	}

	c.mu.Lock()
	st.makingOffer = true
	c.mu.Unlock()

	offer, err := st.transport.CreateOffer()
	if err != nil {
		c.mu.Lock()
		st.makingOffer = false
		c.mu.Unlock()
		return err
	}
	c.outbox.SendOffer(remotePeerID, offer)
	return nil
}

func (c *Coordinator) handleTransportStateChange(remotePeerID string, state webrtc.PeerConnectionState) {
	c.mu.Lock()
	st, ok := c.peers[remotePeerID]
	c.mu.Unlock()
	if !ok {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.mu.Lock()
		st.retryCount = 0
		c.setStatus(remotePeerID, st, StatusConnected)
		c.mu.Unlock()
	case webrtc.PeerConnectionStateFailed:
		c.markFailed(remotePeerID, st)
	case webrtc.PeerConnectionStateDisconnected:
		c.mu.Lock()
		c.setStatus(remotePeerID, st, StatusDisconnected)
		c.mu.Unlock()
	}
}

func (c *Coordinator) markFailed(remotePeerID string, st *peerState) {
	c.mu.Lock()
	c.setStatus(remotePeerID, st, StatusFailed)
	c.mu.Unlock()
	c.scheduleRetry(remotePeerID, st)
}

// scheduleRetry implements §4.3's retry-with-backoff: 2s, 4s, 8s (capped),
// failed-permanent after 3 attempts.
func (c *Coordinator) scheduleRetry(remotePeerID string, st *peerState) {
	c.mu.Lock()
	st.retryCount++
	attempt := st.retryCount
	if attempt > retryMaxAttempts {
		c.setStatus(remotePeerID, st, StatusFailedPermanent)
		c.mu.Unlock()
		c.logger.Warn("connection retries exhausted, giving up permanently", "remotePeerID", remotePeerID)
		return
	}
	c.mu.Unlock()

	delay := backoffDelay(attempt)
	timer := time.AfterFunc(delay, func() { c.retryConnection(remotePeerID) })

	c.mu.Lock()
	if st.retryTimer != nil {
		st.retryTimer.Stop()
	}
	st.retryTimer = timer
	c.mu.Unlock()
}

func backoffDelay(attempt int) time.Duration {
	delay := retryInitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

// retryConnection tears down the old transport and creates a fresh one,
// then re-applies the initiation rule (§4.3: "tear down the transport,
// create a new one, and re-initiate").
func (c *Coordinator) retryConnection(remotePeerID string) {
	c.mu.Lock()
	st, ok := c.peers[remotePeerID]
	if !ok {
		c.mu.Unlock()
		return
	}
	st.transport.Close()
	newTransport, err := c.newTransport(remotePeerID)
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("failed to rebuild transport on retry", "remotePeerID", remotePeerID, "err", err)
		return
	}
	st.transport = newTransport
	if !st.polite {
		if err := newTransport.OpenHeartbeatChannel(); err != nil {
			c.logger.Warn("failed to open heartbeat channel on retry", "remotePeerID", remotePeerID, "err", err)
		}
	}
	st.makingOffer = false
	st.ignoreOffer = false
	c.mu.Unlock()

	go c.decideInitiation(remotePeerID)
}

// RemovePeer tears down the transport for a peer that has left the room.
func (c *Coordinator) RemovePeer(remotePeerID string) {
	c.mu.Lock()
	st, ok := c.peers[remotePeerID]
	if ok {
		delete(c.peers, remotePeerID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if st.retryTimer != nil {
		st.retryTimer.Stop()
	}
	st.transport.Close()
}

// Status returns the current connection status for remotePeerID.
func (c *Coordinator) Status(remotePeerID string) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.peers[remotePeerID]
	if !ok {
		return "", false
	}
	return st.status, true
}

// HeartbeatRTT reports the most recently measured heartbeat latency (the
// one-way send-to-receipt delta) for remotePeerID, if any heartbeat has
// arrived yet.
func (c *Coordinator) HeartbeatRTT(remotePeerID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.peers[remotePeerID]
	if !ok || st.heartbeatRTT == 0 {
		return 0, false
	}
	return st.heartbeatRTT, true
}

// Shutdown tears down every transport and stops all pending retries (§5,
// graceful shutdown cascade).
func (c *Coordinator) Shutdown() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, st := range c.peers {
		if st.retryTimer != nil {
			st.retryTimer.Stop()
		}
		st.transport.Close()
		delete(c.peers, id)
	}
}
