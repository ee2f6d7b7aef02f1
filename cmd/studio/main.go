// Command studio runs one participant's media/mixing process: it dials the
// signaling coordinator, drives Perfect Negotiation across the mesh, and
// owns the AudioGraph/MixMinusEngine/MuteController/ReturnFeedPlayer/
// StreamPublisher pipeline described by §4.5-§4.9.
//
// The flag/config/logging bootstrap follows cmd/signalingserver/main.go
// (itself grounded on the teacher's cmd/signallingserver/main.go); the
// module wiring and shutdown cascade are this spec's own (§5), since the
// teacher never assembles more than a fixed two-peer demo.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openstudio/openstudio/internal/audiograph"
	"github.com/openstudio/openstudio/internal/config"
	"github.com/openstudio/openstudio/internal/connection"
	"github.com/openstudio/openstudio/internal/frame"
	"github.com/openstudio/openstudio/internal/ingest"
	"github.com/openstudio/openstudio/internal/logging"
	"github.com/openstudio/openstudio/internal/meter"
	"github.com/openstudio/openstudio/internal/metrics"
	"github.com/openstudio/openstudio/internal/mixminus"
	"github.com/openstudio/openstudio/internal/mute"
	"github.com/openstudio/openstudio/internal/publisher"
	"github.com/openstudio/openstudio/internal/registry"
	"github.com/openstudio/openstudio/internal/returnfeed"
	"github.com/openstudio/openstudio/internal/signaling"
	"github.com/openstudio/openstudio/internal/transport"
)

const (
	sampleRate   = 48000
	channels     = 2
	tickInterval = 20 * time.Millisecond
	blockSize    = sampleRate * channels * int(tickInterval/time.Millisecond) / 1000

	returnFeedRenegotiationDelay = 100 * time.Millisecond
	shutdownDeadline             = 10 * time.Second
)

func main() {
	configFilePath := flag.String("config", "station.json", "Path to the station manifest.")
	peerID := flag.String("peer-id", "", "This process's peer id (defaults to a random uuid).")
	roomID := flag.String("room", "", "Room id to join; empty creates a new room.")
	flag.Parse()

	manifest, err := config.Load(*configFilePath)
	if err != nil {
		slog.Error("failed to load station manifest", "err", err)
		os.Exit(1)
	}

	logFilePointer, err := logging.Configure(manifest.LogLevel, manifest.LogFile)
	if err != nil {
		slog.Error("failed to configure logger", "err", err)
		os.Exit(1)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}
	logger := slog.Default()

	localPeerID := *peerID
	if localPeerID == "" {
		localPeerID = uuid.NewString()
	}

	conn, _, err := websocket.DefaultDialer.Dial(manifest.Signaling.URL, nil)
	if err != nil {
		slog.Error("failed to dial signaling server", "url", manifest.Signaling.URL, "err", err)
		os.Exit(1)
	}

	s := newStudio(localPeerID, manifest, conn, logger)
	s.start(*roomID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutdown signal received, draining studio")
	s.shutdown()
}

// sampleBuffer accumulates decoded microphone PCM between ticks, draining
// exactly one block at a time (padding with silence if underrun).
type sampleBuffer struct {
	mu  sync.Mutex
	buf frame.PCMFrame
}

func (b *sampleBuffer) push(f frame.PCMFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, f...)
}

func (b *sampleBuffer) drain(n int) frame.PCMFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) >= n {
		out := b.buf[:n].Clone()
		b.buf = b.buf[n:]
		return out
	}
	out := frame.Silence(n)
	copy(out, b.buf)
	b.buf = b.buf[:0]
	return out
}

// returnFeedSender owns the local track and encoder carrying one remote
// peer's mix-minus bus back to them (§4.3's return-feed renegotiation).
type returnFeedSender struct {
	track   *webrtc.TrackLocalStaticSample
	encoder *publisher.Encoder
}

// wsOutbox implements connection.Outbox over the studio's signaling
// WebSocket connection.
type wsOutbox struct {
	mu          sync.Mutex
	conn        *websocket.Conn
	localPeerID string
	logger      *slog.Logger
}

func (o *wsOutbox) send(msg signaling.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.conn.WriteJSON(msg); err != nil {
		o.logger.Error("failed to write signaling message", "type", msg.Type, "err", err)
	}
}

func (o *wsOutbox) SendOffer(remotePeerID string, sdp webrtc.SessionDescription) {
	o.send(signaling.Message{Type: signaling.TypeOffer, From: o.localPeerID, To: remotePeerID, SDP: sdp})
}

func (o *wsOutbox) SendAnswer(remotePeerID string, sdp webrtc.SessionDescription) {
	o.send(signaling.Message{Type: signaling.TypeAnswer, From: o.localPeerID, To: remotePeerID, SDP: sdp})
}

func (o *wsOutbox) SendCandidate(remotePeerID string, candidate webrtc.ICECandidateInit) {
	o.send(signaling.Message{Type: signaling.TypeICECandidate, From: o.localPeerID, To: remotePeerID, Candidate: candidate})
}

// studio wires every per-participant component named in §4.5-§4.9 together
// around one ConnectionCoordinator.
type studio struct {
	logger      *slog.Logger
	localPeerID string
	manifest    *config.Manifest
	conn        *websocket.Conn
	outbox      *wsOutbox
	metrics     *metrics.Registry

	api         *webrtc.API
	coordinator *connection.Coordinator

	graph            *audiograph.Graph
	mixEngine        *mixminus.Engine
	muteController   *mute.Controller
	returnFeedPlayer *returnfeed.Player
	meter            *meter.ProgramMeter
	streamPublisher  *publisher.Publisher
	programTap       chan frame.PCMFrame

	micBuffers  sync.Map // peerID -> *sampleBuffer
	returnFeeds sync.Map // peerID -> *returnFeedSender

	tickDone      chan struct{}
	tickStop      chan struct{}
	publishCtx    context.Context
	publishCancel context.CancelFunc
}

func newStudio(localPeerID string, manifest *config.Manifest, conn *websocket.Conn, logger *slog.Logger) *studio {
	m := metrics.New(prometheus.NewRegistry())

	api, err := transport.NewAPI(logger)
	if err != nil {
		slog.Error("failed to build webrtc API", "err", err)
		os.Exit(1)
	}

	graph := audiograph.New(sampleRate, logger)
	graph.Initialize()

	s := &studio{
		logger:           logging.ChildOrDefault(logger).With("localPeerID", localPeerID),
		localPeerID:      localPeerID,
		manifest:         manifest,
		conn:             conn,
		metrics:          m,
		api:              api,
		graph:            graph,
		mixEngine:        mixminus.New(logger),
		returnFeedPlayer: returnfeed.New(noopSink{}, logger),
		meter:            meter.New(),
		tickDone:         make(chan struct{}),
		tickStop:         make(chan struct{}),
	}
	s.muteController = mute.New(graph, m, logger)
	s.outbox = &wsOutbox{conn: conn, localPeerID: localPeerID, logger: s.logger}

	s.coordinator = connection.New(localPeerID, api, iceConfiguration(manifest), s.outbox, func() bool { return true }, logger, m)
	s.coordinator.OnMicrophoneTrack = s.handleMicrophoneTrack
	s.coordinator.OnReturnFeedTrack = func(remotePeerID string, track *webrtc.TrackRemote) {
		s.returnFeedPlayer.Play(remotePeerID, track)
	}
	s.coordinator.OnStatusChange = func(remotePeerID string, status connection.Status) {
		s.logger.Debug("peer connection status changed", "remotePeerID", remotePeerID, "status", status)
	}

	if manifest.Stream.URL != "" {
		enc, err := publisher.NewEncoder(sampleRate, channels)
		if err != nil {
			s.logger.Error("failed to build publisher encoder, stream disabled", "err", err)
		} else {
			s.streamPublisher = publisher.New(publisher.SinkConfig{
				URL:         manifest.Stream.URL,
				Username:    manifest.Stream.Username,
				Password:    manifest.Stream.Password,
				ContentType: manifest.Stream.ContentType,
				StreamName:  manifest.Stream.StreamName,
				Description: manifest.Stream.Description,
				Public:      manifest.Stream.Public,
				BitrateKbps: manifest.Stream.BitrateKbps,
			}, enc, m, logger)
			s.programTap = make(chan frame.PCMFrame, 32)
		}
	}

	return s
}

// noopSink discards return-feed audio; this process has no local audio
// output device of its own (browser clients handle their own playback per
// §5.1's architecture split), so its ReturnFeedPlayer only exists to
// satisfy the renegotiated track and keep metrics/lifecycle consistent.
type noopSink struct{}

func (noopSink) Write(string, *webrtc.TrackRemote) {}
func (noopSink) Stop(string)                       {}

func iceConfiguration(manifest *config.Manifest) webrtc.Configuration {
	servers := []webrtc.ICEServer{{URLs: manifest.ICE.STUN}}
	for _, t := range manifest.ICE.TURN {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{t.URLs},
			Username:   t.Username,
			Credential: t.Credential,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

func (s *studio) start(roomID string) {
	s.outbox.send(signaling.Message{Type: signaling.TypeRegister, PeerID: s.localPeerID})

	msgType := signaling.TypeCreateOrJoinRoom
	s.outbox.send(signaling.Message{Type: msgType, RoomID: roomID, Role: registry.RoleGuest})

	if s.streamPublisher != nil {
		s.publishCtx, s.publishCancel = context.WithCancel(context.Background())
		s.streamPublisher.Start(s.publishCtx, s.programTap)
	}

	go s.readLoop()
	go s.tickLoop()
}

func (s *studio) readLoop() {
	defer close(s.tickStop)
	for {
		var msg signaling.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.logger.Info("signaling connection closed", "err", err)
			return
		}
		s.dispatch(msg)
	}
}

func (s *studio) dispatch(msg signaling.Message) {
	switch msg.Type {
	case signaling.TypeRegistered:
		s.logger.Info("registered with signaling coordinator")

	case signaling.TypeRoomCreated, signaling.TypeRoomJoined:
		var existing []string
		for _, p := range msg.Participants {
			if p.PeerID == s.localPeerID {
				continue
			}
			s.addParticipant(p.PeerID)
			existing = append(existing, p.PeerID)
		}
		s.coordinator.RoomJoined(existing)

	case signaling.TypePeerJoined:
		s.addParticipant(msg.PeerID)
		s.coordinator.PeerJoined(msg.PeerID)

	case signaling.TypePeerLeft:
		s.removeParticipant(msg.PeerID)

	case signaling.TypeOffer:
		sdp, err := decodeSDP(msg.SDP)
		if err != nil {
			s.logger.Warn("failed to decode offer sdp", "from", msg.From, "err", err)
			return
		}
		if err := s.coordinator.HandleOffer(msg.From, sdp); err != nil {
			s.logger.Warn("failed to handle offer", "from", msg.From, "err", err)
		}

	case signaling.TypeAnswer:
		sdp, err := decodeSDP(msg.SDP)
		if err != nil {
			s.logger.Warn("failed to decode answer sdp", "from", msg.From, "err", err)
			return
		}
		if err := s.coordinator.HandleAnswer(msg.From, sdp); err != nil {
			s.logger.Warn("failed to handle answer", "from", msg.From, "err", err)
		}

	case signaling.TypeICECandidate:
		cand, err := decodeCandidate(msg.Candidate)
		if err != nil {
			s.logger.Warn("failed to decode ice candidate", "from", msg.From, "err", err)
			return
		}
		s.coordinator.HandleCandidate(msg.From, cand)

	case signaling.TypeMute:
		authority, ok := mute.ParseAuthority(msg.Authority)
		if !ok {
			s.logger.Warn("mute message with unknown authority, dropping", "authority", msg.Authority)
			return
		}
		s.muteController.SetMute(msg.PeerID, msg.Muted, authority)

	case signaling.TypeError:
		s.logger.Warn("signaling error", "message", msg.Message)

	default:
		s.logger.Debug("ignoring unhandled signaling message", "type", msg.Type)
	}
}

func (s *studio) addParticipant(peerID string) {
	if err := s.graph.AddParticipant(peerID); err != nil {
		s.logger.Error("failed to add participant to audio graph", "peerID", peerID, "err", err)
		return
	}
	s.mixEngine.CreateBus(peerID)
}

func (s *studio) removeParticipant(peerID string) {
	s.mixEngine.DestroyBus(peerID)
	s.graph.RemoveParticipant(peerID)
	s.muteController.Remove(peerID)
	s.coordinator.RemovePeer(peerID)
	s.returnFeedPlayer.Stop(peerID)
	s.micBuffers.Delete(peerID)
	s.returnFeeds.Delete(peerID)
}

func (s *studio) handleMicrophoneTrack(remotePeerID string, track *webrtc.TrackRemote) {
	reader, err := ingest.NewMicrophoneReader(track, sampleRate, channels, s.logger)
	if err != nil {
		s.logger.Error("failed to build microphone reader", "remotePeerID", remotePeerID, "err", err)
		return
	}
	buf := &sampleBuffer{}
	s.micBuffers.Store(remotePeerID, buf)
	reader.OnFrame = buf.push
	go reader.Start()

	time.AfterFunc(returnFeedRenegotiationDelay, func() { s.attachReturnFeed(remotePeerID) })
}

// attachReturnFeed implements the 100ms-after-microphone renegotiation rule
// (§5.2): once the remote's mic is flowing, add this peer's mix-minus track
// and trigger the Perfect Negotiation offer for it.
func (s *studio) attachReturnFeed(remotePeerID string) {
	track, err := webrtc.NewTrackLocalStaticSample(
		transport.CodecOpus48000Stereo,
		fmt.Sprintf("returnfeed-%s", remotePeerID),
		"return-feed",
	)
	if err != nil {
		s.logger.Error("failed to create return feed track", "remotePeerID", remotePeerID, "err", err)
		return
	}
	enc, err := publisher.NewEncoder(sampleRate, channels)
	if err != nil {
		s.logger.Error("failed to create return feed encoder", "remotePeerID", remotePeerID, "err", err)
		return
	}
	s.returnFeeds.Store(remotePeerID, &returnFeedSender{track: track, encoder: enc})

	if err := s.coordinator.AddReturnFeed(remotePeerID, track); err != nil {
		s.logger.Warn("failed to renegotiate return feed", "remotePeerID", remotePeerID, "err", err)
	}
}

// tickLoop is the software scheduler standing in for the real-time audio
// callback (§4.5's design note): every 20ms it drains buffered microphone
// PCM, runs the AudioGraph, recomputes every mix-minus bus, writes each
// peer's return feed, and taps the program bus for the StreamPublisher.
func (s *studio) tickLoop() {
	defer close(s.tickDone)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.tickStop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *studio) tick() {
	ids := s.graph.ParticipantIDs()
	inputs := make(map[string]frame.PCMFrame, len(ids))
	for _, id := range ids {
		v, _ := s.micBuffers.LoadOrStore(id, &sampleBuffer{})
		inputs[id] = v.(*sampleBuffer).drain(blockSize)
	}

	program := s.graph.Tick(inputs, blockSize)
	s.meter.Update(program)

	outputs := make(map[string]frame.PCMFrame, len(ids))
	for _, id := range ids {
		if node, ok := s.graph.Participant(id); ok {
			outputs[id] = node.Output()
		}
	}
	s.mixEngine.ComputeMixMinus(program, outputs)

	s.returnFeeds.Range(func(key, value any) bool {
		peerID := key.(string)
		sender := value.(*returnFeedSender)
		bus, ok := s.mixEngine.Output(peerID)
		if !ok {
			return true
		}
		encoded, err := sender.encoder.Encode(bus)
		if err != nil {
			s.logger.Warn("failed to encode return feed", "peerID", peerID, "err", err)
			return true
		}
		for _, chunk := range encoded {
			if err := sender.track.WriteSample(media.Sample{Data: chunk, Duration: tickInterval}); err != nil {
				s.logger.Warn("failed to write return feed sample", "peerID", peerID, "err", err)
			}
		}
		return true
	})

	if s.programTap != nil {
		select {
		case s.programTap <- program:
		default:
		}
	}
}

func (s *studio) shutdown() {
	s.conn.Close()
	s.coordinator.Shutdown()

	for _, id := range s.graph.ParticipantIDs() {
		s.mixEngine.DestroyBus(id)
		s.graph.RemoveParticipant(id)
	}

	if s.streamPublisher != nil {
		if s.publishCancel != nil {
			s.publishCancel()
		}
		s.streamPublisher.Stop()
	}

	s.returnFeedPlayer.StopAll()

	select {
	case <-s.tickDone:
	case <-time.After(shutdownDeadline):
		s.logger.Warn("tick loop did not stop before shutdown deadline")
	}
}

func decodeSDP(v any) (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	b, err := json.Marshal(v)
	if err != nil {
		return sdp, err
	}
	err = json.Unmarshal(b, &sdp)
	return sdp, err
}

func decodeCandidate(v any) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	b, err := json.Marshal(v)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(b, &c)
	return c, err
}
