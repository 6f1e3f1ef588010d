package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"abr-proxy/internal/abr"
	"abr-proxy/internal/platform/metrics"
	"abr-proxy/internal/stats"
	"abr-proxy/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
)

// Handler exposes the session control API and the media proxy.
type Handler struct {
	registry *Registry
	proxy    *transport.Proxy
	origin   string
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// NewHandler returns a Handler serving media from origin through proxy.
// Metrics may be nil.
func NewHandler(registry *Registry, proxy *transport.Proxy, origin string, log zerolog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		registry: registry,
		proxy:    proxy,
		origin:   strings.TrimSuffix(origin, "/"),
		log:      log,
		metrics:  m,
	}
}

// Routes returns the /sessions router. metricsPerSecond limits player
// metric reports per client IP; zero disables the limit.
func (h *Handler) Routes(metricsPerSecond int) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListSessions)
	r.Post("/", h.CreateSession)
	r.Route("/{session_id}", func(r chi.Router) {
		r.Delete("/", h.EndSession)
		r.With(rateLimit(metricsPerSecond)).Post("/metrics", h.PostMetrics)
		r.Get("/decisions", h.GetDecisions)
		r.Post("/decisions", h.PostDecision)
		r.Post("/interest", h.PostInterest)
		r.Get("/quality", h.GetQuality)
		r.Get("/media/*", h.Media)
	})
	return r
}

func rateLimit(perSecond int) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(perSecond, time.Second)
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type qualityResponse struct {
	Index   abr.ID `json:"index"`
	Quality int    `json:"quality"`
}

type interestRequest struct {
	Index         abr.ID `json:"index"`
	HeaderQuality int    `json:"header_quality"`
	TargetQuality int    `json:"target_quality"`
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.IDs())
}

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, _ *http.Request) {
	s := h.registry.Create()
	h.metrics.SetActiveSessions(h.registry.ActiveCount())
	h.log.Info().Str("session_id", s.ID).Msg("session created")
	writeJSON(w, http.StatusCreated, createSessionResponse{ID: s.ID})
}

// EndSession handles DELETE /sessions/{session_id}.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if err := h.registry.End(id); err != nil {
		h.writeError(w, err)
		return
	}
	h.metrics.IncSessionsEnded()
	h.metrics.SetActiveSessions(h.registry.ActiveCount())
	w.WriteHeader(http.StatusNoContent)
}

// PostMetrics handles POST /sessions/{session_id}/metrics.
func (h *Handler) PostMetrics(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var m stats.Metrics
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		h.log.Debug().Err(err).Msg("invalid metrics body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.AddMetrics(m); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetDecisions handles GET /sessions/{session_id}/decisions. It lists the
// decisions still cached, lowest index first.
func (h *Handler) GetDecisions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Decisions())
}

// PostDecision handles POST /sessions/{session_id}/decisions.
// Body: { "index": 5, "quality": 3, "timestamp": 1700000000000 }.
func (h *Handler) PostDecision(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var d abr.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		h.log.Debug().Err(err).Msg("invalid decision body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.Deliver(d, metrics.SourcePush); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PostInterest handles POST /sessions/{session_id}/interest.
// Body: { "index": 5 } or { "header_quality": 2, "target_quality": 4 }.
func (h *Handler) PostInterest(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req interestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var err error
	if req.HeaderQuality != 0 {
		err = s.RegisterHeaderInterest(req.HeaderQuality, req.TargetQuality)
	} else {
		err = s.RegisterInterest(req.Index)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetQuality handles GET /sessions/{session_id}/quality.
func (h *Handler) GetQuality(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	index, quality := s.Quality()
	writeJSON(w, http.StatusOK, qualityResponse{Index: index, Quality: quality})
}

// Media handles GET /sessions/{session_id}/media/*. The rest of the path is
// resolved against the origin and served through the correlation table.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	locator := h.origin + "/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		locator += "?" + r.URL.RawQuery
	}
	h.proxy.Serve(w, r, s, locator)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	s, err := h.registry.Get(chi.URLParam(r, "session_id"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, ErrSessionEnded):
		w.WriteHeader(http.StatusConflict)
	case errors.Is(err, abr.ErrInvalidDecision),
		errors.Is(err, ErrInvalidInterest),
		errors.Is(err, stats.ErrInvalidMetrics):
		h.log.Debug().Err(err).Msg("rejected request")
		w.WriteHeader(http.StatusBadRequest)
	default:
		h.log.Error().Err(err).Msg("request failed")
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
