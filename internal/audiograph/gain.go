package audiograph

import (
	"sync"

	"github.com/openstudio/openstudio/internal/frame"
)

// GainNode applies a scalar gain to a PCM frame, ramping linearly toward a
// target value over a configured number of samples rather than jumping
// instantly (§4.5: "50ms linear ramp ... to avoid discontinuities").
type GainNode struct {
	mu sync.Mutex

	current float32
	target  float32
	// stepsRemaining counts down samples left in the current ramp;
	// increment is the per-sample delta applied while stepsRemaining > 0.
	stepsRemaining int
	increment      float32

	min, max float32
}

// NewGainNode creates a GainNode starting at initial, clamped to [min, max].
func NewGainNode(initial, min, max float32) *GainNode {
	initial = clamp(initial, min, max)
	return &GainNode{current: initial, target: initial, min: min, max: max}
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// SetTarget begins ramping toward value (clamped to the node's range) over
// rampSamples samples.
func (g *GainNode) SetTarget(value float32, rampSamples int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	value = clamp(value, g.min, g.max)
	g.target = value
	if rampSamples <= 0 {
		g.current = value
		g.stepsRemaining = 0
		return
	}
	g.stepsRemaining = rampSamples
	g.increment = (value - g.current) / float32(rampSamples)
}

// Current returns the gain's present value (post any in-flight ramp).
func (g *GainNode) Current() float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Process applies the node's gain to every sample in in, advancing the ramp
// sample-by-sample so a ramp that completes partway through the frame does
// not click.
func (g *GainNode) Process(in frame.PCMFrame) frame.PCMFrame {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(frame.PCMFrame, len(in))
	for i, v := range in {
		if g.stepsRemaining > 0 {
			g.current += g.increment
			g.stepsRemaining--
			if g.stepsRemaining == 0 {
				g.current = g.target
			}
		}
		out[i] = v * g.current
	}
	return out
}
