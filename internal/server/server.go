// Package server exposes the web-mode HTTP surface: health probes and the
// WebSocket upgrade endpoint.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ecan-ai/ecan/internal/session"
	"github.com/ecan-ai/ecan/internal/store"
	"github.com/ecan-ai/ecan/internal/transport"
)

// Server is the HTTP server for web mode.
type Server struct {
	addr      string
	mode      string
	sessions  *session.Manager
	store     store.Store
	ws        *transport.WS
	logger    *slog.Logger
	mux       *chi.Mux
	startTime time.Time
}

// Options configures the server.
type Options struct {
	Addr           string
	Mode           string
	AllowedOrigins []string
}

// New creates the HTTP server and wires its routes.
func New(sessions *session.Manager, st store.Store, ws *transport.WS, opts Options, logger *slog.Logger) *Server {
	srv := &Server{
		addr:      opts.Addr,
		mode:      opts.Mode,
		sessions:  sessions,
		store:     st,
		ws:        ws,
		logger:    logger.With("component", "server"),
		startTime: time.Now(),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(opts.AllowedOrigins))

	mux.Get("/health", srv.handleHealth)
	mux.Get("/ready", srv.handleReady)
	mux.Get("/ws", ws.HandleWS)

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the listener and blocks until the context is canceled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = httpSrv.Close()
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"mode":     s.mode,
		"sessions": s.sessions.Count(),
		"uptime":   time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
