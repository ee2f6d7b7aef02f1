package audiograph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openstudio/openstudio/internal/frame"
)

func TestGainNode_RampsLinearlyToTarget(t *testing.T) {
	g := NewGainNode(0, MinGain, MaxGain)
	g.SetTarget(1.0, 10)

	out := g.Process(constantFrame(10, 1.0))
	for i, v := range out {
		expected := float32(i+1) / 10.0
		assert.InDelta(t, expected, v, 0.001)
	}
	assert.InDelta(t, 1.0, g.Current(), 0.001)
}

func TestGainNode_ClampsOutOfRangeTarget(t *testing.T) {
	g := NewGainNode(1.0, MinGain, MaxGain)
	g.SetTarget(-5, 0)
	assert.Equal(t, float32(MinGain), g.Current())

	g.SetTarget(100, 0)
	assert.Equal(t, float32(MaxGain), g.Current())
}

func TestGainNode_ZeroRampAppliesImmediately(t *testing.T) {
	g := NewGainNode(1.0, MinGain, MaxGain)
	g.SetTarget(0.5, 0)
	out := g.Process(frame.PCMFrame{1.0})
	assert.InDelta(t, 0.5, out[0], 0.001)
}
