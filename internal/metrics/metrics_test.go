package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNew_RegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	// Vec collectors only export a family once a label set has been observed.
	m.ObserveConnectionState("connected")
	m.ObserveMute("self", true)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 9)
}

func TestIncrementHelpers_UpdateUnderlyingMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncPeerRegistered()
	require.Equal(t, float64(1), counterValue(t, m.PeersRegistered))

	m.IncRoomCreated()
	require.Equal(t, float64(1), counterValue(t, m.RoomsCreated))

	m.IncRoomDestroyed()
	require.Equal(t, float64(1), counterValue(t, m.RoomsDestroyed))

	m.ObserveConnectionState("connected")
	m.ObserveMute("producer", true)
	m.IncPublisherRetry()
	m.IncPublisherReconnect()
	m.IncPublisherChunkSent()

	require.Equal(t, float64(1), counterValue(t, m.PublisherRetries))
	require.Equal(t, float64(1), counterValue(t, m.PublisherReconnects))
	require.Equal(t, float64(1), counterValue(t, m.PublisherChunksSent))
}

func TestNilRegistry_EveryMethodIsANoop(t *testing.T) {
	var m *Registry
	require.NotPanics(t, func() {
		m.IncPeerRegistered()
		m.IncRoomCreated()
		m.IncRoomDestroyed()
		m.ObserveConnectionState("connected")
		m.ObserveMute("self", false)
		m.IncPublisherRetry()
		m.IncPublisherReconnect()
		m.IncPublisherChunkSent()
	})
}
