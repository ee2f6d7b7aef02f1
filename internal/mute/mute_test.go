package mute

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstudio/openstudio/internal/audiograph"
	"github.com/openstudio/openstudio/internal/frame"
	"github.com/openstudio/openstudio/internal/metrics"
)

func newTestController(t *testing.T) (*Controller, *audiograph.Graph) {
	t.Helper()
	g := audiograph.New(48000, nil)
	g.Initialize()
	require.NoError(t, g.AddParticipant("g1"))
	m := metrics.New(prometheus.NewRegistry())
	return New(g, m, nil), g
}

func TestController_ProducerMuteOverridesSelf(t *testing.T) {
	c, g := newTestController(t)

	require.True(t, c.SetMute("g1", true, AuthoritySelf))
	muted, auth, ok := c.State("g1")
	require.True(t, ok)
	assert.True(t, muted)
	assert.Equal(t, AuthoritySelf, auth)

	// Self-unmute cannot override an equal/lower authority going the other
	// direction once producer later asserts control.
	require.True(t, c.SetMute("g1", false, AuthorityProducer))
	muted, auth, _ = c.State("g1")
	assert.False(t, muted)
	assert.Equal(t, AuthorityNone, auth)

	// Drive the ramp so gain has settled.
	node, _ := g.Participant("g1")
	node.Gain.Process(frame.Silence(g.RampSamplesFor(audiograph.DefaultGainRamp) + 1))
	assert.Greater(t, float64(node.Gain.Current()), 0.0)
}

func TestController_SelfCannotOverrideProducerMute(t *testing.T) {
	c, _ := newTestController(t)
	require.True(t, c.SetMute("g1", true, AuthorityProducer))

	applied := c.SetMute("g1", false, AuthoritySelf)
	assert.False(t, applied)

	muted, auth, _ := c.State("g1")
	assert.True(t, muted)
	assert.Equal(t, AuthorityProducer, auth)
}

func TestController_MuteRampsGainToZero(t *testing.T) {
	c, g := newTestController(t)
	require.True(t, c.SetMute("g1", true, AuthoritySelf))

	node, _ := g.Participant("g1")
	rampSamples := g.RampSamplesFor(audiograph.DefaultGainRamp)
	node.Gain.Process(frame.Silence(rampSamples + 1))
	assert.InDelta(t, 0.0, node.Gain.Current(), 0.0001)
}

func TestController_IgnoresRemovedParticipant(t *testing.T) {
	c, g := newTestController(t)
	g.RemoveParticipant("g1")

	applied := c.SetMute("g1", true, AuthorityProducer)
	assert.False(t, applied)
}
