// Package mixminus implements the MixMinusEngine (§4.6): one bus per
// participant, each subtracting exactly that participant's contribution
// from the shared program bus via phase inversion, in O(N) total work.
//
// No teacher file does mix-minus; this is grounded on the spec's own
// component language (§4.6) and built with the sibling internal/frame
// primitives (PCMFrame.Add, PCMFrame.Scale), following internal/audiograph's
// nil-logger and mutex
// conventions.
package mixminus

import (
	"log/slog"
	"sync"

	"github.com/openstudio/openstudio/internal/frame"
	"github.com/openstudio/openstudio/internal/logging"
)

// inverterGain is fixed at -1 per §4.6's bus construction.
const inverterGain = -1

// Engine owns one bus per participant (§4.6).
type Engine struct {
	logger *slog.Logger

	mu   sync.RWMutex
	buses map[string]frame.PCMFrame // most recent computed output per peer
}

func New(logger *slog.Logger) *Engine {
	return &Engine{
		logger: logging.ChildOrDefault(logger),
		buses:  make(map[string]frame.PCMFrame),
	}
}

// CreateBus registers peerID so its output participates in the next
// ComputeMixMinus call. Buses are never updated in place (§4.6 lifecycle);
// construction is just registration, since the actual subtraction is
// recomputed every tick from the program bus and the participant's latest
// compressor output.
func (e *Engine) CreateBus(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.buses[peerID]; exists {
		return
	}
	e.buses[peerID] = nil
	e.logger.Debug("mix-minus bus created", "peerID", peerID)
}

// DestroyBus removes peerID's bus (§4.6 lifecycle, destroyed on
// AudioGraph.remove_participant).
func (e *Engine) DestroyBus(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.buses, peerID)
	e.logger.Debug("mix-minus bus destroyed", "peerID", peerID)
}

// Buses returns the current set of peer ids with a live bus.
func (e *Engine) Buses() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.buses))
	for id := range e.buses {
		ids = append(ids, id)
	}
	return ids
}

// Output returns the most recently computed mix-minus output for peerID.
func (e *Engine) Output(peerID string) (frame.PCMFrame, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out, ok := e.buses[peerID]
	return out, ok
}

// ComputeMixMinus recomputes every registered bus from the current program
// bus output and each participant's latest compressor output (§4.6:
// "inverter gain of −1 taps the participant's compressor output; a summing
// mixer receives the program bus output and the inverter output"). This is
// O(N): each bus does one PCMFrame.Add against the already-summed program,
// not a re-sum over the other N-1 participants.
func (e *Engine) ComputeMixMinus(program frame.PCMFrame, participantOutputs map[string]frame.PCMFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for peerID := range e.buses {
		contribution := participantOutputs[peerID] // nil (silence) if absent
		inverted := contribution.Scale(inverterGain)
		e.buses[peerID] = program.Add(inverted)
	}
}
