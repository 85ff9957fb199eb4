// Package api serves the Lifeline control API: SOS activation and
// cancellation, live status, the websocket event stream, the share-location
// and direct-call quick actions, app lifecycle and voice-activation toggles,
// contact management, health probes and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/lifeline/internal/contact"
	"github.com/MrWong99/lifeline/internal/health"
	"github.com/MrWong99/lifeline/internal/observe"
	"github.com/MrWong99/lifeline/internal/sos"
	"github.com/MrWong99/lifeline/internal/trigger"
	"github.com/MrWong99/lifeline/pkg/location"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Engine is the part of [sos.Engine] the API drives.
type Engine interface {
	Activate(ctx context.Context, source sos.Source) bool
	Cancel() (bool, error)
	ShareLocation(ctx context.Context) (sos.ShareResult, error)
	CallNow(ctx context.Context) (string, error)
	Snapshot() sos.Session
	LastOutcome() (sos.Outcome, bool)
	Settings() sos.Settings
	Subscribe(buf int) (<-chan sos.Event, func())
}

// Voice is the part of [trigger.Listener] the API drives.
type Voice interface {
	SetForeground(fg bool)
	SetEnabled(on bool)
	State() trigger.State
}

var (
	_ Engine = (*sos.Engine)(nil)
	_ Voice  = (*trigger.Listener)(nil)
)

// Server routes control requests to the engine, the trigger listener and the
// contact store.
type Server struct {
	engine   Engine
	contacts contact.Store
	voice    Voice
	health   *health.Handler
	metrics  *observe.Metrics
	scrape   http.Handler

	eventBuffer  int
	writeTimeout time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithVoice enables the app-state and voice-activation endpoints. Without it
// they answer 503.
func WithVoice(v Voice) Option {
	return func(s *Server) { s.voice = v }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.scrape = h }
}

// WithMetrics sets the instruments used by the request middleware. Defaults
// to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEventBuffer sets the per-connection event buffer of the websocket
// stream. Defaults to 64.
func WithEventBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// New creates a Server.
func New(engine Engine, contacts contact.Store, opts ...Option) (*Server, error) {
	if engine == nil || contacts == nil {
		return nil, errors.New("api: engine and contact store are required")
	}
	s := &Server{
		engine:       engine,
		contacts:     contacts,
		eventBuffer:  64,
		writeTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/sos/activate", s.handleActivate)
	mux.HandleFunc("POST /v1/sos/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/sos/status", s.handleStatus)
	mux.HandleFunc("GET /v1/sos/events", s.handleEvents)
	mux.HandleFunc("GET /v1/settings", s.handleSettings)

	mux.HandleFunc("POST /v1/location/share", s.handleShareLocation)
	mux.HandleFunc("POST /v1/call", s.handleCallNow)

	mux.HandleFunc("POST /v1/app/state", s.handleAppState)
	mux.HandleFunc("GET /v1/voice/activation", s.handleVoiceState)
	mux.HandleFunc("PUT /v1/voice/activation", s.handleVoiceActivation)

	mux.HandleFunc("GET /v1/contacts", s.handleListContacts)
	mux.HandleFunc("POST /v1/contacts", s.handleCreateContact)
	mux.HandleFunc("GET /v1/contacts/{id}", s.handleGetContact)
	mux.HandleFunc("PUT /v1/contacts/{id}", s.handleUpdateContact)
	mux.HandleFunc("DELETE /v1/contacts/{id}", s.handleDeleteContact)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.scrape != nil {
		mux.Handle("GET /metrics", s.scrape)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ── SOS ──────────────────────────────────────────────────────────────────────

type activateResponse struct {
	Started bool       `json:"started"`
	Status  sos.Status `json:"status"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	started := s.engine.Activate(r.Context(), sos.SourceAPI)
	observe.Logger(r.Context()).Info("api: activate requested", "started", started)
	writeJSON(w, http.StatusAccepted, activateResponse{
		Started: started,
		Status:  s.engine.Snapshot().Status,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	cancelled, err := s.engine.Cancel()
	if err != nil {
		if errors.Is(err, sos.ErrCallCommitted) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

type statusResponse struct {
	Status      sos.Status   `json:"status"`
	Active      bool         `json:"active"`
	Remaining   int          `json:"remaining"`
	SessionID   string       `json:"session_id,omitempty"`
	Source      sos.Source   `json:"source,omitempty"`
	StartedAt   time.Time    `json:"started_at,omitzero"`
	LastOutcome *sos.Outcome `json:"last_outcome,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	res := statusResponse{
		Status:    snap.Status,
		Active:    snap.Active(),
		Remaining: snap.Remaining,
		SessionID: snap.ID,
		Source:    snap.Source,
		StartedAt: snap.StartedAt,
	}
	if out, ok := s.engine.LastOutcome(); ok {
		res.LastOutcome = &out
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Settings())
}

// ── Quick actions ────────────────────────────────────────────────────────────

func (s *Server) handleShareLocation(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ShareLocation(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, location.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, location.ErrUnavailable), errors.Is(err, sos.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type callResponse struct {
	Number string `json:"number"`
	Placed bool   `json:"placed"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleCallNow(w http.ResponseWriter, r *http.Request) {
	number, err := s.engine.CallNow(r.Context())
	switch {
	case err == nil:
		observe.Logger(r.Context()).Info("api: direct call placed", "number", number)
		writeJSON(w, http.StatusOK, callResponse{Number: number, Placed: true})
	case errors.Is(err, sos.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeJSON(w, http.StatusBadGateway, callResponse{Number: number, Error: err.Error()})
	}
}

// ── App lifecycle and voice activation ───────────────────────────────────────

type appStateRequest struct {
	State string `json:"state"`
}

func (s *Server) handleAppState(w http.ResponseWriter, r *http.Request) {
	var req appStateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var fg bool
	switch req.State {
	case "active":
		fg = true
	case "background", "inactive":
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("state %q is invalid; valid values: active, background, inactive", req.State))
		return
	}
	if s.voice == nil {
		writeError(w, http.StatusServiceUnavailable, errVoiceUnavailable)
		return
	}
	s.voice.SetForeground(fg)
	writeJSON(w, http.StatusOK, s.voice.State())
}

var errVoiceUnavailable = errors.New("voice activation is not configured")

func (s *Server) handleVoiceState(w http.ResponseWriter, _ *http.Request) {
	if s.voice == nil {
		writeError(w, http.StatusServiceUnavailable, errVoiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.voice.State())
}

type voiceActivationRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleVoiceActivation(w http.ResponseWriter, r *http.Request) {
	var req voiceActivationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New("enabled is required"))
		return
	}
	if s.voice == nil {
		writeError(w, http.StatusServiceUnavailable, errVoiceUnavailable)
		return
	}
	s.voice.SetEnabled(*req.Enabled)
	slog.Info("api: voice activation toggled", "enabled", *req.Enabled)
	writeJSON(w, http.StatusOK, s.voice.State())
}

// ── helpers ──────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decodeJSON decodes the request body into v and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return false
	}
	return true
}
