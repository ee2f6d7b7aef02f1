// Package metrics exposes the Prometheus counters and gauges the core
// control plane emits, grounded on Adityaadpandey-sfu-go's
// internal/metrics package (itself built on
// github.com/prometheus/client_golang). Every method is nil-receiver safe so
// callers that don't care about metrics can pass a nil *Registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Registry struct {
	PeersRegistered      prometheus.Counter
	RoomsCreated         prometheus.Counter
	RoomsDestroyed       prometheus.Counter
	RoomsActive          prometheus.Gauge
	ConnectionStateTotal *prometheus.CounterVec
	MuteEventsTotal      *prometheus.CounterVec
	PublisherRetries     prometheus.Counter
	PublisherReconnects  prometheus.Counter
	PublisherChunksSent  prometheus.Counter
}

// New registers every metric with reg and returns the Registry.
// cmd/signalingserver passes prometheus.DefaultRegisterer so /metrics serves
// these values; tests pass a fresh prometheus.NewRegistry() each.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		PeersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openstudio_peers_registered_total",
			Help: "Total number of peers successfully registered with the signaling hub.",
		}),
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openstudio_rooms_created_total",
			Help: "Total number of rooms created.",
		}),
		RoomsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openstudio_rooms_destroyed_total",
			Help: "Total number of rooms destroyed (last member left).",
		}),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "openstudio_rooms_active",
			Help: "Current number of non-empty rooms.",
		}),
		ConnectionStateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openstudio_connection_state_transitions_total",
			Help: "Connection state transitions by resulting state.",
		}, []string{"state"}),
		MuteEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openstudio_mute_events_total",
			Help: "Mute state changes by authority.",
		}, []string{"authority", "muted"}),
		PublisherRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openstudio_publisher_retries_total",
			Help: "Total stream publisher reconnect attempts.",
		}),
		PublisherReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openstudio_publisher_reconnects_total",
			Help: "Total successful stream publisher reconnects.",
		}),
		PublisherChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openstudio_publisher_chunks_sent_total",
			Help: "Total encoded chunks pushed to the streaming sink.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.PeersRegistered, m.RoomsCreated, m.RoomsDestroyed, m.RoomsActive,
		m.ConnectionStateTotal, m.MuteEventsTotal, m.PublisherRetries,
		m.PublisherReconnects, m.PublisherChunksSent,
	} {
		reg.MustRegister(c)
	}

	return m
}

func (m *Registry) IncPeerRegistered() {
	if m == nil {
		return
	}
	m.PeersRegistered.Inc()
}

func (m *Registry) IncRoomCreated() {
	if m == nil {
		return
	}
	m.RoomsCreated.Inc()
	m.RoomsActive.Inc()
}

func (m *Registry) IncRoomDestroyed() {
	if m == nil {
		return
	}
	m.RoomsDestroyed.Inc()
	m.RoomsActive.Dec()
}

func (m *Registry) ObserveConnectionState(state string) {
	if m == nil {
		return
	}
	m.ConnectionStateTotal.WithLabelValues(state).Inc()
}

func (m *Registry) ObserveMute(authority string, muted bool) {
	if m == nil {
		return
	}
	mutedLabel := "false"
	if muted {
		mutedLabel = "true"
	}
	m.MuteEventsTotal.WithLabelValues(authority, mutedLabel).Inc()
}

func (m *Registry) IncPublisherRetry() {
	if m == nil {
		return
	}
	m.PublisherRetries.Inc()
}

func (m *Registry) IncPublisherReconnect() {
	if m == nil {
		return
	}
	m.PublisherReconnects.Inc()
}

func (m *Registry) IncPublisherChunkSent() {
	if m == nil {
		return
	}
	m.PublisherChunksSent.Inc()
}
