package returnfeed

import (
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

type fakeSink struct {
	mu      sync.Mutex
	written map[string]int
	stopped map[string]int
}

func newFakeSink() *fakeSink {
	return &fakeSink{written: make(map[string]int), stopped: make(map[string]int)}
}

func (f *fakeSink) Write(peerID string, _ *webrtc.TrackRemote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[peerID]++
}

func (f *fakeSink) Stop(peerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped[peerID]++
}

func TestPlayer_PlayMarksActive(t *testing.T) {
	sink := newFakeSink()
	p := New(sink, nil)

	p.Play("peer1", nil)
	assert.True(t, p.Active("peer1"))
}

func TestPlayer_StopDeactivates(t *testing.T) {
	sink := newFakeSink()
	p := New(sink, nil)
	p.Play("peer1", nil)
	p.Stop("peer1")

	assert.False(t, p.Active("peer1"))
	assert.Equal(t, 1, sink.stopped["peer1"])
}

func TestPlayer_StopAllClearsEverything(t *testing.T) {
	sink := newFakeSink()
	p := New(sink, nil)
	p.Play("a", nil)
	p.Play("b", nil)

	p.StopAll()
	assert.False(t, p.Active("a"))
	assert.False(t, p.Active("b"))
	assert.Equal(t, 2, len(sink.stopped))
}
