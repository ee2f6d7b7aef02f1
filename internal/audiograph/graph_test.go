package audiograph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstudio/openstudio/internal/frame"
)

const testSampleRate = 48000

func TestGraph_AddParticipantRequiresInitialize(t *testing.T) {
	g := New(testSampleRate, nil)
	err := g.AddParticipant("peerA")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestGraph_TickSumsParticipantsIntoProgram(t *testing.T) {
	g := New(testSampleRate, nil)
	g.Initialize()
	require.NoError(t, g.AddParticipant("a"))
	require.NoError(t, g.AddParticipant("b"))

	block := 10
	inputs := map[string]frame.PCMFrame{
		"a": constantFrame(block, 0.1),
		"b": constantFrame(block, 0.1),
	}

	out := g.Tick(inputs, block)
	require.Len(t, out, block)
	// Both participants contribute, so every program sample is positive (the
	// compressor starts at unity gain and 0.1 sits in its soft knee, so it
	// only attenuates gradually).
	for _, v := range out {
		assert.Greater(t, float64(v), 0.0)
	}
}

func TestGraph_RemoveParticipantExcludesFromTick(t *testing.T) {
	g := New(testSampleRate, nil)
	g.Initialize()
	require.NoError(t, g.AddParticipant("a"))
	require.NoError(t, g.AddParticipant("b"))
	g.RemoveParticipant("b")

	_, ok := g.Participant("b")
	assert.False(t, ok)
	assert.Len(t, g.ParticipantIDs(), 1)
}

func TestGraph_SetGainClampsRange(t *testing.T) {
	g := New(testSampleRate, nil)
	g.Initialize()
	require.NoError(t, g.AddParticipant("a"))

	require.NoError(t, g.SetGain("a", 5.0))
	node, _ := g.Participant("a")
	// Drive enough samples through to complete the 50ms ramp.
	node.Gain.Process(frame.Silence(g.rampSamples(DefaultGainRamp) + 10))
	assert.InDelta(t, MaxGain, node.Gain.Current(), 0.001)
}

func TestGraph_SetGainUnknownParticipant(t *testing.T) {
	g := New(testSampleRate, nil)
	g.Initialize()
	err := g.SetGain("nope", 1.0)
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func constantFrame(n int, v float32) frame.PCMFrame {
	f := make(frame.PCMFrame, n)
	for i := range f {
		f[i] = v
	}
	return f
}
