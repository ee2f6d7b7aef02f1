package publisher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstudio/openstudio/internal/frame"
	"github.com/openstudio/openstudio/internal/metrics"
)

func TestBackoffDelay_MonotonicAndBounded(t *testing.T) {
	assert.Equal(t, 5*time.Second, backoffDelay(1))
	assert.Equal(t, 10*time.Second, backoffDelay(2))
	assert.Equal(t, 20*time.Second, backoffDelay(3))
	assert.Equal(t, retryMaxDelay, backoffDelay(20))
}

func TestPublisher_StreamsChunksToSink(t *testing.T) {
	received := make(chan int, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := io.Copy(io.Discard, r.Body)
		received <- int(n)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	enc, err := NewEncoder(48000, 2)
	require.NoError(t, err)

	cfg := SinkConfig{URL: server.URL, ContentType: "audio/ogg", StreamName: "test"}
	p := New(cfg, enc, metrics.New(prometheus.NewRegistry()), nil)

	programTap := make(chan frame.PCMFrame, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	p.Start(ctx, programTap)

	// Feed enough PCM to produce at least one Opus frame (20ms @ 48kHz
	// stereo = 1920 samples).
	programTap <- make(frame.PCMFrame, 4000)

	require.Eventually(t, func() bool {
		return p.Status() == StatusStreaming
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	p.Stop()
	assert.Equal(t, StatusStopped, p.Status())
}

func TestPublisher_ReconnectsOnSinkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	enc, err := NewEncoder(48000, 2)
	require.NoError(t, err)

	cfg := SinkConfig{URL: server.URL, ContentType: "audio/ogg"}
	p := New(cfg, enc, metrics.New(prometheus.NewRegistry()), nil)

	programTap := make(chan frame.PCMFrame)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx, programTap)

	require.Eventually(t, func() bool {
		s := p.Status()
		return s == StatusReconnecting || s == StatusError
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	p.Stop()
}
