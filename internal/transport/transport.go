// Package transport wraps a single pion webrtc.PeerConnection as a
// MediaTransport: the thin media/signaling-plumbing layer that
// internal/connection drives with Perfect Negotiation. Grounded on
// ijakenorton-Roundtable's internal/peer.Peer and
// internal/peer.PeerFactory (track creation, OnTrack wiring,
// OnConnectionStateChange), generalized from that teacher's fixed
// offering/answering split to a role-agnostic transport since every
// mesh peer here may be either Perfect Negotiation role depending on
// peer id comparison (§5.2).
package transport

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/openstudio/openstudio/internal/logging"
)

// heartbeatPeriod is how often each side of an open heartbeat channel sends
// its local timestamp, mirroring the teacher's HEARTBEAT_PERIOD
// (internal/peer/peer.go, internal/peer/peercore.go).
const heartbeatPeriod = 5 * time.Second

// CodecOpus48000Stereo is the only audio codec this studio negotiates,
// carried over from the teacher's internal/networking.CodecMap entry of the
// same name; mono and the lower clock rates in that map have no caller here
// and are not wired (§3: studios exchange stereo program audio).
var CodecOpus48000Stereo = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: 48000,
	Channels:  2,
}

// NewAPI builds a webrtc.API with the single Opus codec registered, mirroring
// WebRTCConnectionManager's mediaEngine setup.
func NewAPI(logger *slog.Logger) (*webrtc.API, error) {
	logger = logging.ChildOrDefault(logger)
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: CodecOpus48000Stereo,
		PayloadType:        111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		logger.Error("error while registering opus codec", "err", err)
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)), nil
}

// StreamSlot tracks, per remote peer, which of the two tracks a mesh link
// carries have arrived: the remote's microphone contribution, and then the
// mixed return feed (§5.3).
type StreamSlot struct {
	MicrophoneReceived bool
	ReturnFeedReceived bool
}

// MediaTransport owns one peer connection's local/remote track lifecycle and
// surfaces the events internal/connection needs to drive negotiation and
// internal/audiograph needs to consume remote audio.
type MediaTransport struct {
	logger     *slog.Logger
	PeerID     string
	connection *webrtc.PeerConnection

	localTrack *webrtc.TrackLocalStaticSample
	slot       StreamSlot

	heartbeatChannel *webrtc.DataChannel
	heartbeatStop    chan struct{}

	// OnLocalCandidate fires for every ICE candidate gathered locally; the
	// caller forwards it to the remote peer via signaling.
	OnLocalCandidate func(candidate webrtc.ICECandidateInit)
	// OnNegotiationNeeded fires when pion decides local state requires a new
	// offer; ConnectionCoordinator owns the Perfect Negotiation response.
	OnNegotiationNeeded func()
	// OnRemoteTrack fires when the remote peer's audio track starts.
	// isFirstTrack reports whether this is the first track received on this
	// link (the remote's microphone) as opposed to the second (their return
	// feed) — computed here, before the slot is updated, since the caller
	// reading Slot() afterward would otherwise always see the post-update
	// state even for the first arrival (§3 ordering contract).
	OnRemoteTrack func(track *webrtc.TrackRemote, isFirstTrack bool)
	// OnStateChange fires on every PeerConnectionState transition (§5.4).
	OnStateChange func(state webrtc.PeerConnectionState)
	// OnHeartbeatRTT fires each time a heartbeat message arrives, reporting
	// the one-way clock delta between the remote's send and local receipt (no
	// reply is sent, so this is not a round trip) — the same
	// measurement the teacher's heartbeatOnMessageHandler logs, surfaced here
	// instead of just logged.
	OnHeartbeatRTT func(latency time.Duration)
}

// New creates a MediaTransport for peerID using api and config, registers a
// local audio track for outbound program/mic audio, and wires the event
// callbacks used by Perfect Negotiation.
func New(api *webrtc.API, config webrtc.Configuration, peerID string, logger *slog.Logger) (*MediaTransport, error) {
	logger = logging.ChildOrDefault(logger).With("peerID", peerID)

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		logger.Error("error while creating peer connection", "err", err)
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		CodecOpus48000Stereo,
		fmt.Sprintf("audio-%s", uuid.NewString()),
		fmt.Sprintf("stream-%s", peerID),
	)
	if err != nil {
		logger.Error("error while creating local audio track", "err", err)
		pc.Close()
		return nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		logger.Error("error while adding local audio track", "err", err)
		pc.Close()
		return nil, err
	}

	t := &MediaTransport{
		logger:        logger,
		PeerID:        peerID,
		connection:    pc,
		localTrack:    track,
		heartbeatStop: make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || t.OnLocalCandidate == nil {
			return
		}
		t.OnLocalCandidate(c.ToJSON())
	})
	pc.OnNegotiationNeeded(func() {
		if t.OnNegotiationNeeded != nil {
			t.OnNegotiationNeeded()
		}
	})
	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Debug("received remote track", "trackID", tr.ID(), "kind", tr.Kind().String())
		isFirstTrack := !t.slot.MicrophoneReceived
		if isFirstTrack {
			t.slot.MicrophoneReceived = true
		} else {
			t.slot.ReturnFeedReceived = true
		}
		if t.OnRemoteTrack != nil {
			t.OnRemoteTrack(tr, isFirstTrack)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("connection state change", "state", state.String())
		if t.OnStateChange != nil {
			t.OnStateChange(state)
		}
	})
	// The heartbeat channel is made by one side via OpenHeartbeatChannel; the
	// other picks it up here, matching peerfactory.go's
	// NewOfferingPeer/NewAnsweringPeer split ("The heartbeat channel is made
	// by the offering peer").
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == "heartbeat" {
			t.bindHeartbeatChannel(dc)
		}
	})

	return t, nil
}

// OpenHeartbeatChannel creates this link's heartbeat data channel. Only one
// side of a link should call this — internal/connection has the caller open
// it on the Perfect Negotiation impolite peer, mirroring the teacher's
// offering-peer-creates-the-channel convention. The other side receives it
// through the OnDataChannel handler registered in New.
func (t *MediaTransport) OpenHeartbeatChannel() error {
	dc, err := t.connection.CreateDataChannel("heartbeat", nil)
	if err != nil {
		t.logger.Error("error while creating heartbeat data channel", "err", err)
		return err
	}
	t.bindHeartbeatChannel(dc)
	return nil
}

func (t *MediaTransport) bindHeartbeatChannel(dc *webrtc.DataChannel) {
	t.heartbeatChannel = dc
	dc.OnOpen(func() { go t.sendHeartbeats(dc) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var sendingTime time.Time
		if err := sendingTime.UnmarshalBinary(msg.Data); err != nil {
			t.logger.Debug("failed to unmarshal heartbeat timestamp", "err", err)
			return
		}
		latency := time.Since(sendingTime)
		if t.OnHeartbeatRTT != nil {
			t.OnHeartbeatRTT(latency)
		}
	})
}

// sendHeartbeats ticks every heartbeatPeriod sending the current local time
// so the remote side can compute the one-way clock delta, exactly as the
// teacher's heartbeatOnOpenHandler does.
func (t *MediaTransport) sendHeartbeats(dc *webrtc.DataChannel) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.heartbeatStop:
			return
		case now := <-ticker.C:
			payload, err := now.MarshalBinary()
			if err != nil {
				continue
			}
			if err := dc.Send(payload); err != nil {
				t.logger.Debug("failed to send heartbeat", "err", err)
				return
			}
		}
	}
}

// LocalTrack returns the outbound audio track added in New. No package in
// this module writes samples to it; return feeds travel on the separate
// track passed to AddTrack.
func (t *MediaTransport) LocalTrack() *webrtc.TrackLocalStaticSample {
	return t.localTrack
}

// AddTrack adds a second outbound track to this link — used for return-feed
// renegotiation (§4.3): the microphone track is added at construction, and
// the mix-minus-for-this-peer track is added later once the AudioGraph has
// one ready, triggering OnNegotiationNeeded.
func (t *MediaTransport) AddTrack(track webrtc.TrackLocal) error {
	_, err := t.connection.AddTrack(track)
	return err
}

// SignalingState reports the underlying connection's SDP negotiation state,
// used by ConnectionCoordinator to detect "have-local-offer" for collision
// detection (§5.2).
func (t *MediaTransport) SignalingState() webrtc.SignalingState {
	return t.connection.SignalingState()
}

// ConnectionState reports the aggregate ICE+DTLS connection state (§5.4).
func (t *MediaTransport) ConnectionState() webrtc.PeerConnectionState {
	return t.connection.ConnectionState()
}

func (t *MediaTransport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.connection.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.connection.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (t *MediaTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.connection.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.connection.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (t *MediaTransport) ApplyRemoteDescription(desc webrtc.SessionDescription) error {
	return t.connection.SetRemoteDescription(desc)
}

// Rollback reverts a locally-set offer, used when Perfect Negotiation's
// polite-peer collision path discards an in-flight local offer (§5.2).
func (t *MediaTransport) Rollback() error {
	return t.connection.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (t *MediaTransport) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	return t.connection.AddICECandidate(candidate)
}

// Slot returns the current known stream arrival state for this link.
func (t *MediaTransport) Slot() StreamSlot {
	return t.slot
}

func (t *MediaTransport) Close() error {
	close(t.heartbeatStop)
	return t.connection.Close()
}
