package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// NewRouter mounts /metrics and /healthz on a chi router, then lets each
// mount add its own routes.
func NewRouter(mounts ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(Middleware)
	for _, mount := range mounts {
		mount(r)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", Handler())
	return r
}

// Server serves the metrics router for the lifetime of a crawl.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds a Server listening on addr.
func NewServer(addr string, logger *zap.Logger, mounts ...func(chi.Router)) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(mounts...),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start listens in the background. Listen errors are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
