// Command signalingserver runs the process-wide signaling coordinator
// (§4.1): the WebSocket hub, room manager, and the HTTP surface serving the
// station manifest, health, and Prometheus metrics.
//
// Flag parsing, config loading, and the defer-Close-log-file dance are
// grounded on the teacher's cmd/signallingserver/main.go; graceful shutdown
// on SIGINT/SIGTERM follows Adityaadpandey-sfu-go's cmd/signaling/main.go,
// which the teacher's one-shot HTTP handler never needed since it never ran
// a long-lived server loop with connected clients to drain.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openstudio/openstudio/internal/config"
	"github.com/openstudio/openstudio/internal/httpapi"
	"github.com/openstudio/openstudio/internal/logging"
	"github.com/openstudio/openstudio/internal/metrics"
	"github.com/openstudio/openstudio/internal/signaling"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFilePath := flag.String("config", "station.json", "Path to the station manifest.")
	flag.Parse()

	manifest, err := config.Load(*configFilePath)
	if err != nil {
		slog.Error("failed to load station manifest", "err", err)
		os.Exit(1)
	}

	logFilePointer, err := logging.Configure(manifest.LogLevel, manifest.LogFile)
	if err != nil {
		slog.Error("failed to configure logger", "err", err)
		os.Exit(1)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	hub := signaling.NewHub(slog.Default(), m)
	server := httpapi.New(manifest, hub, m, slog.Default())

	addr := fmt.Sprintf(":%d", manifest.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("signaling server listening", "addr", addr, "stationID", manifest.StationID)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during graceful shutdown", "err", err)
	}
}
