package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"log/slog"
)

// StartMetricsServer starts a background HTTP server for Prometheus metrics
func StartMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		slog.Info("Starting metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
}
