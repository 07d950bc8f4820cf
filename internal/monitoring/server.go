package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the opt-in metrics/health HTTP surface served for the duration
// of a run.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a Server exposing /metrics (Prometheus exposition
// format), /health (aggregate dependency checks), and /live (process
// liveness only) on addr.
func NewServer(addr string, health *HealthManager) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", health.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/live", health.LivenessHandler()).Methods(http.MethodGet)

	return &Server{httpServer: &http.Server{Addr: addr, Handler: router}}
}

// Start runs the server until ctx is cancelled, then shuts it down with a
// 5s grace period.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
