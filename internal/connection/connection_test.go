package connection

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/openstudio/openstudio/internal/metrics"
)

// pairedOutbox wires two Coordinators directly together, standing in for
// the signaling hub relay in these tests.
type pairedOutbox struct {
	mu   sync.Mutex
	peer *Coordinator
}

func (o *pairedOutbox) SendOffer(remotePeerID string, sdp webrtc.SessionDescription) {
	o.mu.Lock()
	peer := o.peer
	o.mu.Unlock()
	go peer.HandleOffer(remotePeerID, sdp)
}

func (o *pairedOutbox) SendAnswer(remotePeerID string, sdp webrtc.SessionDescription) {
	o.mu.Lock()
	peer := o.peer
	o.mu.Unlock()
	go peer.HandleAnswer(remotePeerID, sdp)
}

func (o *pairedOutbox) SendCandidate(remotePeerID string, candidate webrtc.ICECandidateInit) {
	o.mu.Lock()
	peer := o.peer
	o.mu.Unlock()
	peer.HandleCandidate(remotePeerID, candidate)
}

func newTestAPI(t *testing.T) *webrtc.API {
	t.Helper()
	se := webrtc.SettingEngine{}
	require.NoError(t, se.SetEphemeralUDPPortRange(0, 0))
	se.SetICETimeouts(2*time.Second, 2*time.Second, 200*time.Millisecond)
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func waitForStatus(t *testing.T, c *Coordinator, remotePeerID string, want Status) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := c.Status(remotePeerID); ok && status == want {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to reach status %s", remotePeerID, want)
}

func TestCoordinator_PolitenessIsLexicographic(t *testing.T) {
	c := New("aaaaaaaa", nil, webrtc.Configuration{}, nil, nil, slog.Default(), nil)
	require.True(t, c.polite("bbbbbbbb"))

	c2 := New("bbbbbbbb", nil, webrtc.Configuration{}, nil, nil, slog.Default(), nil)
	require.False(t, c2.polite("aaaaaaaa"))
}

func TestCoordinator_TwoPeerHandshakeReachesConnected(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	apiA := newTestAPI(t)
	apiB := newTestAPI(t)

	outboxA := &pairedOutbox{}
	outboxB := &pairedOutbox{}

	coordA := New("aaaaaaaa", apiA, webrtc.Configuration{}, outboxA, func() bool { return true }, slog.Default(), m)
	coordB := New("bbbbbbbb", apiB, webrtc.Configuration{}, outboxB, func() bool { return true }, slog.Default(), m)
	outboxA.peer = coordB
	outboxB.peer = coordA
	defer coordA.Shutdown()
	defer coordB.Shutdown()

	// aaaaaaaa < bbbbbbbb: A is polite, B is impolite and must initiate.
	coordA.PeerJoined("bbbbbbbb")
	coordB.PeerJoined("aaaaaaaa")

	waitForStatus(t, coordA, "bbbbbbbb", StatusConnected)
	waitForStatus(t, coordB, "aaaaaaaa", StatusConnected)
}

func TestCoordinator_RemovePeerTearsDownTransport(t *testing.T) {
	apiA := newTestAPI(t)
	c := New("aaaaaaaa", apiA, webrtc.Configuration{}, &pairedOutbox{}, func() bool { return true }, slog.Default(), nil)
	c.PeerJoined("bbbbbbbb")

	// Allow transport creation to happen synchronously via ensureState.
	time.Sleep(50 * time.Millisecond)
	_, ok := c.Status("bbbbbbbb")
	require.True(t, ok)

	c.RemovePeer("bbbbbbbb")
	_, ok = c.Status("bbbbbbbb")
	require.False(t, ok)
}

func TestBackoffDelay_MonotonicAndBounded(t *testing.T) {
	require.Equal(t, 2*time.Second, backoffDelay(1))
	require.Equal(t, 4*time.Second, backoffDelay(2))
	require.Equal(t, retryMaxDelay, backoffDelay(3))
	require.Equal(t, retryMaxDelay, backoffDelay(10))
}
