// Package api exposes dashboards, pins and alerts to presentation clients
// over JSON and a status websocket.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/darshan-rambhia/hublens/internal/events"
	"github.com/darshan-rambhia/hublens/internal/pins"
)

// Server is the HTTP server for hublens.
type Server struct {
	views    *Views
	pins     *pins.Manager
	bus      *events.Bus
	now      func() time.Time
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	server   *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(addr string, views *Views, pm *pins.Manager, bus *events.Bus) *Server {
	srv := &Server{
		views: views,
		pins:  pm,
		bus:   bus,
		now:   time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}

	srv.registerRoutes()

	srv.server = &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return srv
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return SecurityHeadersMiddleware(RecoveryMiddleware(LoggingMiddleware(s.mux)))
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("HTTP server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/instances", s.handleInstances)
	s.mux.HandleFunc("GET /api/systems", s.handleSystems)
	s.mux.HandleFunc("GET /api/systems/{systemID}/details", s.handleSystemDetails)
	s.mux.HandleFunc("GET /api/slice", s.handleSlice)
	s.mux.HandleFunc("PUT /api/active/{systemID}", s.handleSetActive)
	s.mux.HandleFunc("PUT /api/range/{range}", s.handleSetRange)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	s.mux.HandleFunc("GET /api/pins/{systemID}", s.handleListPins)
	s.mux.HandleFunc("POST /api/pins/{systemID}", s.handleAddPin)
	s.mux.HandleFunc("DELETE /api/pins/{systemID}", s.handleRemovePin)

	s.mux.HandleFunc("GET /api/widget", s.handleWidget)
	s.mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /ws/status", s.handleStatusSocket)

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// writeJSON marshals v to JSON into a buffer first, then writes it to the
// response, so encoding errors can still become a proper 500.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding JSON response", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("writing JSON response", "path", r.URL.Path, "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// view resolves the ?instance= parameter, writing a 404 when it is unknown.
func (s *Server) view(w http.ResponseWriter, r *http.Request) (View, bool) {
	v, ok := s.views.Get(r.URL.Query().Get("instance"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown instance")
	}
	return v, ok
}
