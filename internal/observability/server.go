package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the collector's registry on a standalone HTTP
// listener. The RPC channel itself is stdio, so metrics get their own port.
type MetricsServer struct {
	metrics    *MetricsCollector
	addr       string
	logger     *slog.Logger
	httpServer *http.Server
}

// NewMetricsServer creates a metrics listener for the given address.
func NewMetricsServer(metrics *MetricsCollector, addr string, logger *slog.Logger) *MetricsServer {
	return &MetricsServer{
		metrics: metrics,
		addr:    addr,
		logger:  logger,
	}
}

// Start serves /metrics until the context is cancelled or the listener fails.
func (s *MetricsServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("metrics listener starting", slog.String("addr", s.addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics listener: %w", err)
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *MetricsServer) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
