package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstudio/openstudio/internal/config"
	"github.com/openstudio/openstudio/internal/metrics"
	"github.com/openstudio/openstudio/internal/signaling"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	manifest := &config.Manifest{
		StationID: "studio-1",
		Name:      "Test Station",
	}
	manifest.Signaling.URL = "wss://signal.example.com"
	manifest.ICE.STUN = []string{"stun:stun.example.com:19302"}

	m := metrics.New(prometheus.NewRegistry())
	hub := signaling.NewHub(nil, m)

	s := New(manifest, hub, m, nil)
	return httptest.NewServer(s.Router())
}

func TestHandleStation_ReturnsManifestSubset(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/station")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out stationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "studio-1", out.StationID)
	assert.Equal(t, "wss://signal.example.com", out.Signaling.URL)
	assert.Equal(t, []string{"stun:stun.example.com:19302"}, out.ICE.STUN)
}

func TestHandleHealth_ReportsOK(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out.Status)
}

func TestHandleMetrics_ServesPrometheusFormat(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleWebSocket_UpgradesAndRegisters(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(signaling.Message{
		Type:   signaling.TypeRegister,
		PeerID: "peer-a",
	}))

	var msg signaling.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, signaling.TypeRegistered, msg.Type)
}
