package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/storm-geo-poller/internal/domain"
	"github.com/couchcryptid/storm-geo-poller/internal/poller"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// refetchTimeout stays below WriteTimeout so a slow feed still gets a response.
const refetchTimeout = 8 * time.Second

// EventSource exposes the poller operations served over HTTP.
type EventSource interface {
	State() poller.State
	Refetch(ctx context.Context) error
	SetEnabled(on bool)
}

// Server exposes health, readiness, metrics, and render-set HTTP endpoints.
type Server struct {
	httpServer *http.Server
	source     EventSource
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, /events,
// /refetch, and /polling routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, source EventSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		source: source,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("POST /refetch", s.handleRefetch)
	mux.HandleFunc("PUT /polling", s.handlePolling)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// eventsResponse is the JSON body of GET /events and POST /refetch.
type eventsResponse struct {
	Status      poller.Status       `json:"status"`
	Stale       bool                `json:"stale"`
	Enabled     bool                `json:"enabled"`
	Error       string              `json:"error,omitempty"`
	LastSuccess *time.Time          `json:"lastSuccess,omitempty"`
	Backoff     poller.BackoffState `json:"backoff"`
	Count       int                 `json:"count"`
	Events      []domain.GeoEvent   `json:"events"`
}

func newEventsResponse(st poller.State) eventsResponse {
	resp := eventsResponse{
		Status:  st.Status,
		Stale:   st.Stale,
		Enabled: st.Enabled,
		Backoff: st.Backoff,
		Count:   len(st.Filtered),
		Events:  st.Filtered,
	}
	if resp.Events == nil {
		resp.Events = []domain.GeoEvent{}
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	if !st.LastSuccess.IsZero() {
		ls := st.LastSuccess
		resp.LastSuccess = &ls
	}
	return resp
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, newEventsResponse(s.source.State()))
}

func (s *Server) handleRefetch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refetchTimeout)
	defer cancel()

	if err := s.source.Refetch(ctx); err != nil {
		status := http.StatusGatewayTimeout
		if errors.Is(err, poller.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("refetch request failed", "error", err)
		sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, newEventsResponse(s.source.State()))
}

type pollingRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handlePolling(w http.ResponseWriter, r *http.Request) {
	var req pollingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil || req.Enabled == nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": `body must be {"enabled": true|false}`})
		return
	}
	s.source.SetEnabled(*req.Enabled)
	s.logger.Info("polling toggled", "enabled", *req.Enabled)
	sharedobs.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}
