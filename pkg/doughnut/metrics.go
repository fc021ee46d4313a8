package doughnut

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/doughnut/pkg/log"
	"github.com/cuemby/doughnut/pkg/metrics"
)

const metricsShutdownTimeout = 2 * time.Second

// startMetricsServer, when addr is non-empty, starts a plain HTTP
// listener exposing /metrics (Prometheus), /health, /ready, and /live —
// deliberately unauthenticated and un-encrypted, the operational
// surface a scrape target or orchestrator probes rather than a Dock
// peer. It returns the *http.Server so Close can shut it down, or nil
// if addr is empty.
func startMetricsServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithComponent("doughnut").Warn().Err(err).Msg("metrics listener stopped")
		}
	}()
	return srv
}

func stopMetricsServer(srv *http.Server) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
