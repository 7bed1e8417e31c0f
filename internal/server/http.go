package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/lexiqai/voice-scribe/internal/recorder"
	"github.com/lexiqai/voice-scribe/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Controller is the session control the HTTP surface drives
type Controller interface {
	Start(ctx context.Context, scopeID, bridgeURL string) (*session.Session, error)
	Stop(ctx context.Context, scopeID string) (*session.Session, error)
	Sessions() []recorder.SessionInfo
}

// Options configure the HTTP handler
type Options struct {
	Checks         map[string]observability.HealthCheckFunc
	MetricsEnabled bool
}

type startRequest struct {
	BridgeURL string `json:"bridge_url"`
}

type sessionResponse struct {
	ScopeID   string    `json:"scope_id"`
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	ctl    Controller
	logger zerolog.Logger
}

// NewHandler builds the control, health and metrics routes
func NewHandler(ctl Controller, opts Options, logger zerolog.Logger) http.Handler {
	h := &handler{ctl: ctl, logger: logger.With().Str("component", "http").Logger()}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions/{scope}", h.start)
	mux.HandleFunc("DELETE /sessions/{scope}", h.stop)
	mux.HandleFunc("GET /sessions", h.list)

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(opts.Checks))
	if opts.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return withCorrelationID(mux)
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	s, err := h.ctl.Start(r.Context(), scope, req.BridgeURL)
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil:
		h.logger.Error().Err(err).Str("scope_id", scope).Msg("failed to start session")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(s))
}

func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")

	s, err := h.ctl.Stop(r.Context(), scope)
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, session.ErrAlreadyStopping):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, toResponse(s))
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Sessions())
}

func toResponse(s *session.Session) sessionResponse {
	return sessionResponse{
		ScopeID:   s.ScopeID,
		SessionID: s.ID,
		State:     s.State().String(),
		StartedAt: s.StartedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// withCorrelationID tags each request's log lines with an X-Correlation-ID, generating one if absent
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = observability.NewCorrelationID()
		}
		w.Header().Set("X-Correlation-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r)
		reqLogger := observability.WithCorrelationID(id)
		reqLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}
