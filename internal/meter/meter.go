// Package meter computes RMS and peak-hold readings from the program bus
// tap for UI consumption (§4's ProgramMeter row); this package holds only
// the value computation, no UI.
package meter

import (
	"math"
	"sync"

	"github.com/openstudio/openstudio/internal/frame"
)

// Reading is one snapshot of program bus level.
type Reading struct {
	RMS      float32
	PeakHold float32
}

// ProgramMeter tracks RMS (reset every Update) and a peak-hold value that
// only decays when explicitly reset, matching how broadcast meters
// conventionally display level.
type ProgramMeter struct {
	mu       sync.Mutex
	peakHold float32
}

func New() *ProgramMeter {
	return &ProgramMeter{}
}

// Update computes RMS over f and folds its peak into the held maximum,
// returning the current Reading.
func (m *ProgramMeter) Update(f frame.PCMFrame) Reading {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sumSquares float64
	var peak float32
	for _, v := range f {
		sumSquares += float64(v) * float64(v)
		if a := absf32(v); a > peak {
			peak = a
		}
	}
	if peak > m.peakHold {
		m.peakHold = peak
	}

	rms := float32(0)
	if len(f) > 0 {
		rms = float32(math.Sqrt(sumSquares / float64(len(f))))
	}

	return Reading{RMS: rms, PeakHold: m.peakHold}
}

// ResetPeakHold clears the held peak, typically on a UI-driven "reset
// meters" action.
func (m *ProgramMeter) ResetPeakHold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peakHold = 0
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
