// Package audiograph implements the AudioGraph (§4.5): a per-participant
// gain→compressor chain feeding a shared program bus, run as a
// tick-based software scheduler rather than against real hardware I/O —
// microphone capture happens in the browser per this system's own
// architecture (§5.1: "the audio subsystem runs on a separate, real-time
// audio callback owned by the platform's audio engine"); this process is
// the control/mixing plane that the platform callback would otherwise
// drive, so Tick stands in for that callback.
//
// Grounded on Raikerian-go-discord-chatgpt's audioMixer for the
// per-participant-stream-plus-shared-mix shape, and on
// ijakenorton-Roundtable's nil-logger-defaulting constructor convention.
package audiograph

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openstudio/openstudio/internal/frame"
	"github.com/openstudio/openstudio/internal/logging"
)

const (
	MinGain = 0.0
	MaxGain = 2.0

	DefaultGainRamp = 50 * time.Millisecond
)

var (
	ErrNotInitialized  = errors.New("audiograph: initialize must be called before add_participant")
	ErrParticipantNotFound = errors.New("audiograph: no such participant")
)

// ParticipantNode is one remote peer's processing chain (§3): source (fed by
// Tick's input) → gain → compressor → metering, with its latest compressor
// output cached for the program bus sum and for MixMinusEngine to read.
type ParticipantNode struct {
	PeerID     string
	Gain       *GainNode
	Compressor *Compressor

	mu           sync.RWMutex
	lastOutput   frame.PCMFrame
	peakHold     float32
}

func (p *ParticipantNode) setOutput(f frame.PCMFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastOutput = f
	for _, s := range f {
		if a := absf32(s); a > p.peakHold {
			p.peakHold = a
		}
	}
}

// Output returns this participant's most recent compressor output — the
// non-owning handle MixMinusEngine reads (§9: "MixMinusEngine hold only
// non-owning handles to the compressor outputs").
func (p *ParticipantNode) Output() frame.PCMFrame {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastOutput
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// ProgramBus is the shared stereo mix of every participant (§4.5): a sum of
// all compressor outputs, a master gain stage, and the metering/capture taps.
type ProgramBus struct {
	MasterGain *GainNode

	mu         sync.RWMutex
	lastOutput frame.PCMFrame
}

func (b *ProgramBus) Output() frame.PCMFrame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastOutput
}

// Graph is the AudioGraph (§4.5).
type Graph struct {
	logger     *slog.Logger
	sampleRate int

	mu            sync.RWMutex
	initialized   bool
	participants  map[string]*ParticipantNode
	program       *ProgramBus
}

// New creates an (uninitialized) Graph for the given sample rate.
func New(sampleRate int, logger *slog.Logger) *Graph {
	return &Graph{
		logger:       logging.ChildOrDefault(logger),
		sampleRate:   sampleRate,
		participants: make(map[string]*ParticipantNode),
		program: &ProgramBus{
			MasterGain: NewGainNode(1.0, MinGain, MaxGain),
		},
	}
}

// Initialize must run before any AddParticipant call (§4.5).
func (g *Graph) Initialize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialized = true
}

// rampSamples converts a wall-clock ramp duration to a sample count at the
// graph's sample rate.
func (g *Graph) rampSamples(d time.Duration) int {
	return int(d.Seconds() * float64(g.sampleRate))
}

// RampSamplesFor exposes rampSamples for other components (internal/mute)
// that drive a ParticipantNode's GainNode directly and need the same
// sample-rate-derived ramp length the graph itself uses.
func (g *Graph) RampSamplesFor(d time.Duration) int {
	return g.rampSamples(d)
}

// AddParticipant builds source→gain→compressor→analyser for peerID (§4.5).
// If the participant already exists, its old nodes are torn down first
// (§4.5 invariant).
func (g *Graph) AddParticipant(peerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.initialized {
		return ErrNotInitialized
	}

	node := &ParticipantNode{
		PeerID:     peerID,
		Gain:       NewGainNode(1.0, MinGain, MaxGain),
		Compressor: NewCompressor(DefaultCompressorParams, g.sampleRate),
	}
	g.participants[peerID] = node
	g.logger.Debug("participant added to audio graph", "peerID", peerID)
	return nil
}

// RemoveParticipant severs and releases all nodes for peerID (§4.5). The
// caller (typically the MixMinusEngine's owner) is responsible for
// destroying that participant's mix-minus bus first (§9: destruction order
// is MixMinusBus, then ParticipantNodes).
func (g *Graph) RemoveParticipant(peerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.participants, peerID)
	g.logger.Debug("participant removed from audio graph", "peerID", peerID)
}

// SetGain clamps value to [0,2] and ramps the participant's gain node over
// DefaultGainRamp (§4.5).
func (g *Graph) SetGain(peerID string, value float32) error {
	g.mu.RLock()
	node, ok := g.participants[peerID]
	rampSamples := g.rampSamples(DefaultGainRamp)
	g.mu.RUnlock()
	if !ok {
		return ErrParticipantNotFound
	}
	node.Gain.SetTarget(value, rampSamples)
	return nil
}

// Participant returns the node for peerID, if present.
func (g *Graph) Participant(peerID string) (*ParticipantNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.participants[peerID]
	return n, ok
}

// ParticipantIDs returns the current participant set.
func (g *Graph) ParticipantIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.participants))
	for id := range g.participants {
		ids = append(ids, id)
	}
	return ids
}

// Program returns the shared program bus.
func (g *Graph) Program() *ProgramBus {
	return g.program
}

// Tick processes one block of input: inputs maps peer id to the raw samples
// received from that peer's MediaTransport this block (absent entries are
// treated as silence). It runs every participant's gain+compressor chain,
// sums the results into the program bus (applying master gain), and
// returns the program bus output. Per-participant outputs remain available
// via Participant(id).Output() for MixMinusEngine.ComputeMixMinus.
func (g *Graph) Tick(inputs map[string]frame.PCMFrame, blockSize int) frame.PCMFrame {
	g.mu.RLock()
	nodes := make([]*ParticipantNode, 0, len(g.participants))
	for _, n := range g.participants {
		nodes = append(nodes, n)
	}
	g.mu.RUnlock()

	sum := frame.Silence(blockSize)
	for _, n := range nodes {
		in, ok := inputs[n.PeerID]
		if !ok {
			in = frame.Silence(blockSize)
		}
		processed := n.Compressor.Process(n.Gain.Process(in))
		n.setOutput(processed)
		sum = sum.Add(processed)
	}

	out := g.program.MasterGain.Process(sum)
	g.program.mu.Lock()
	g.program.lastOutput = out
	g.program.mu.Unlock()
	return out
}
