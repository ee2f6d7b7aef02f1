// Package mute implements the MuteController (§4.7): authoritative mute
// state per participant with producer/self conflict resolution, applied to
// the AudioGraph as a 50ms gain ramp.
//
// No teacher file models an authority-ordered state machine; this is built
// in the idiom of internal/registry's sentinel-error, mutex-guarded maps,
// and drives the participant's audiograph GainNode directly (SetTarget over
// Graph.RampSamplesFor(DefaultGainRamp)) for the actual ramp (§4.7's "apply
// to the corresponding ParticipantNodes gain via a 50ms linear ramp").
package mute

import (
	"log/slog"
	"sync"

	"github.com/openstudio/openstudio/internal/audiograph"
	"github.com/openstudio/openstudio/internal/logging"
	"github.com/openstudio/openstudio/internal/metrics"
)

// Authority ranks mute assertions; higher values override lower ones (§4.7:
// "producer > self > none").
type Authority int

const (
	AuthorityNone Authority = iota
	AuthoritySelf
	AuthorityProducer
)

func ParseAuthority(s string) (Authority, bool) {
	switch s {
	case "", "none":
		return AuthorityNone, true
	case "self":
		return AuthoritySelf, true
	case "producer":
		return AuthorityProducer, true
	}
	return 0, false
}

func (a Authority) String() string {
	switch a {
	case AuthorityProducer:
		return "producer"
	case AuthoritySelf:
		return "self"
	default:
		return "none"
	}
}

type state struct {
	muted        bool
	authority    Authority
	previousGain float32
}

// Controller is the MuteController (§4.7). It holds no participant nodes of
// its own: each SetMute looks the node up by id through Graph.Participant,
// and
// defensively no-ops if the participant has already been removed from the
// graph (§5, "must defensively verify the participant still exists").
type Controller struct {
	logger  *slog.Logger
	graph   *audiograph.Graph
	metrics *metrics.Registry

	mu     sync.Mutex
	states map[string]*state

	// OnMuteChanged fires after a successful SetMute, for the owner to
	// forward as a SignalingHub broadcast (§4.7).
	OnMuteChanged func(peerID string, muted bool, authority Authority)
}

func New(graph *audiograph.Graph, m *metrics.Registry, logger *slog.Logger) *Controller {
	return &Controller{
		logger:  logging.ChildOrDefault(logger),
		graph:   graph,
		metrics: m,
		states:  make(map[string]*state),
	}
}

// SetMute implements §4.7: succeeds iff authority >= the currently recorded
// authority. producer overrides anything; self overrides only self/none; an
// unmute clears the recorded authority.
func (c *Controller) SetMute(peerID string, muted bool, authority Authority) (applied bool) {
	c.mu.Lock()
	st, ok := c.states[peerID]
	if !ok {
		st = &state{previousGain: 1.0}
		c.states[peerID] = st
	}

	if authority < st.authority {
		c.mu.Unlock()
		return false
	}

	node, exists := c.graph.Participant(peerID)
	if !exists {
		c.mu.Unlock()
		c.logger.Debug("set_mute on participant no longer in graph, ignoring", "peerID", peerID)
		return false
	}

	if muted {
		st.previousGain = node.Gain.Current()
		st.muted = true
		st.authority = authority
	} else {
		st.muted = false
		st.authority = AuthorityNone
	}
	restoreGain := st.previousGain
	c.mu.Unlock()

	rampSamples := c.graph.RampSamplesFor(audiograph.DefaultGainRamp)
	if muted {
		node.Gain.SetTarget(0, rampSamples)
	} else {
		node.Gain.SetTarget(restoreGain, rampSamples)
	}

	c.metrics.ObserveMute(authority.String(), muted)
	if c.OnMuteChanged != nil {
		c.OnMuteChanged(peerID, muted, authority)
	}
	return true
}

// State returns the current recorded mute state for a participant.
func (c *Controller) State(peerID string) (muted bool, authority Authority, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, exists := c.states[peerID]
	if !exists {
		return false, AuthorityNone, false
	}
	return st.muted, st.authority, true
}

// Remove drops mute bookkeeping for a participant that has left.
func (c *Controller) Remove(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, peerID)
}
