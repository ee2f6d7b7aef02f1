// Package returnfeed implements the ReturnFeedPlayer (§4.9): it routes a
// received return-feed stream straight to playback, bypassing the
// AudioGraph entirely, since the feed has already been mixed and
// compressed remotely (§4.9 rationale).
//
// Grounded on ijakenorton-Roundtable's internal/peer.Peer track-to-channel
// forwarding pattern (peer.audioOutputDataChannel), adapted here to a
// per-peer registry of active sinks rather than one fixed channel, since a
// studio plays back many simultaneous return feeds.
package returnfeed

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/openstudio/openstudio/internal/logging"
)

// Sink is wherever decoded return-feed audio ultimately goes — the local
// platform audio output. Implementations live outside this package (the
// concrete sink is platform-specific); this package only owns the
// play/stop lifecycle and unity-volume guarantee.
type Sink interface {
	Write(peerID string, track *webrtc.TrackRemote)
	Stop(peerID string)
}

// Player is the ReturnFeedPlayer (§4.9). Volume is fixed at unity; there is
// no gain stage here by design.
type Player struct {
	logger *slog.Logger
	sink   Sink

	mu     sync.Mutex
	active map[string]bool
}

func New(sink Sink, logger *slog.Logger) *Player {
	return &Player{
		logger: logging.ChildOrDefault(logger),
		sink:   sink,
		active: make(map[string]bool),
	}
}

// Play routes track directly to the sink for peerID, bypassing the
// AudioGraph (§4.9).
func (p *Player) Play(peerID string, track *webrtc.TrackRemote) {
	p.mu.Lock()
	p.active[peerID] = true
	p.mu.Unlock()

	p.logger.Debug("playing return feed", "peerID", peerID)
	p.sink.Write(peerID, track)
}

// Stop halts playback of peerID's return feed.
func (p *Player) Stop(peerID string) {
	p.mu.Lock()
	_, wasActive := p.active[peerID]
	delete(p.active, peerID)
	p.mu.Unlock()

	if wasActive {
		p.sink.Stop(peerID)
	}
}

// StopAll halts every active return feed (§5, graceful shutdown cascade).
func (p *Player) StopAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	p.active = make(map[string]bool)
	p.mu.Unlock()

	for _, id := range ids {
		p.sink.Stop(id)
	}
}

// Active reports whether peerID currently has a playing return feed.
func (p *Player) Active(peerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[peerID]
}
