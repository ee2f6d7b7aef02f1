// Package httpapi wires the signaling coordinator's HTTP surface: the
// station manifest and health endpoints, Prometheus scrape, and the
// WebSocket upgrade that hands a connection off to internal/signaling.
//
// The router shape (chi, a small set of stdlib-ish middlewares, permissive
// CORS for the browser-hosted UI) is grounded on Adityaadpandey-sfu-go's
// internal/httpapi package, which is the one example repo in the pack that
// serves a signaling WebSocket endpoint alongside JSON/metrics routes over
// chi. The teacher codebase never serves HTTP beyond a single one-shot POST
// handler (cmd/signallingserver/main.go), so it contributes only the
// logging/config conventions here, not the routing shape.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openstudio/openstudio/internal/config"
	"github.com/openstudio/openstudio/internal/logging"
	"github.com/openstudio/openstudio/internal/metrics"
	"github.com/openstudio/openstudio/internal/signaling"
)

// Server owns the signaling coordinator's HTTP router.
type Server struct {
	logger   *slog.Logger
	manifest *config.Manifest
	hub      *signaling.Hub
	metrics  *metrics.Registry

	upgrader websocket.Upgrader
	started  time.Time
}

// New builds the router. GET /api/station serves the public subset of
// manifest described by stationResponse; the stream sink settings and log
// configuration are left out.
func New(manifest *config.Manifest, hub *signaling.Hub, m *metrics.Registry, logger *slog.Logger) *Server {
	return &Server{
		logger:   logging.ChildOrDefault(logger),
		manifest: manifest,
		hub:      hub,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Router builds the chi mux. Separated from New so tests can construct a
// Server once and take fresh routers if needed, though in practice one
// Router() per process is normal.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequest)
	r.Use(s.cors)

	r.Get("/api/station", s.handleStation)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebSocket)

	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// stationResponse is the public subset of the manifest (§6): the signaling
// URL and ICE configuration a joining browser client needs, nothing about
// the sink credentials or local log configuration.
type stationResponse struct {
	StationID string           `json:"station_id"`
	Name      string           `json:"name"`
	Signaling stationSignaling `json:"signaling"`
	ICE       stationICE       `json:"ice"`
}

type stationSignaling struct {
	URL string `json:"url"`
}

type stationICE struct {
	STUN []string           `json:"stun"`
	TURN []config.TurnServer `json:"turn,omitempty"`
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	resp := stationResponse{
		StationID: s.manifest.StationID,
		Name:      s.manifest.Name,
		Signaling: stationSignaling{URL: s.manifest.Signaling.URL},
		ICE: stationICE{
			STUN: s.manifest.ICE.STUN,
			TURN: s.manifest.ICE.TURN,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("error encoding station response", "err", err)
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	UptimeMS    int64  `json:"uptime_ms"`
	PeersOnline int    `json:"peers_online"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		UptimeMS: time.Since(s.started).Milliseconds(),
	}
	if s.hub != nil {
		resp.PeersOnline = s.hub.Registry().Count()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("error encoding health response", "err", err)
	}
}

// handleWebSocket upgrades the connection and hands it to the signaling
// hub (§4.1); the session stays anonymous until its first register message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := signaling.NewClient(conn, s.logger)
	s.hub.Bind(client)

	go client.WritePump()
	client.ReadPump()
}
