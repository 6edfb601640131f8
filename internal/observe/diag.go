package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateFunc returns the daemon state snapshot served at /statusz.
type StateFunc func() any

// Server is the optional diagnostics HTTP listener: Prometheus scrape,
// liveness, and a JSON state snapshot.
type Server struct {
	listen string
	logger *slog.Logger
	state  StateFunc
}

// NewServer builds a diagnostics server bound to listen (host:port).
func NewServer(listen string, logger *slog.Logger, state StateFunc) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{listen: listen, logger: logger, state: state}
}

// Run serves until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("diag server listening", slog.String("addr", s.listen))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("diag server: %w", err)
	}
}

func (s *Server) routes() http.Handler {
	router := httprouter.New()
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	router.GET("/healthz", s.handleHealthz)
	router.GET("/statusz", s.handleStatusz)
	return router
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleStatusz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	var snapshot any
	if s.state != nil {
		snapshot = s.state()
	}
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.logger.Warn("encode statusz snapshot", slog.String("error", err.Error()))
	}
}
