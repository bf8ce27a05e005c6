package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"fibermap/core-go/internal/engine"
	"fibermap/core-go/internal/metrics"
	"fibermap/core-go/internal/viewport"
)

var validate = validator.New()

// SyncStatus reports whether the repository snapshot has been loaded; syncworker.Worker
// implements it.
type SyncStatus interface {
	Synced() bool
}

// Pinger checks a backing store; db.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the optional collaborators of the handler. Nil fields disable what they back.
type Deps struct {
	// Canvas is resized by POST /map/resize.
	Canvas  *viewport.Canvas
	Metrics *metrics.Metrics
	Sync    SyncStatus
	DB      Pinger
}

type Handler struct {
	log     zerolog.Logger
	engine  *engine.Engine
	canvas  *viewport.Canvas
	metrics *metrics.Metrics
	sync    SyncStatus
	db      Pinger
}

func NewHandler(log zerolog.Logger, eng *engine.Engine, deps Deps) *Handler {
	return &Handler{
		log:     log,
		engine:  eng,
		canvas:  deps.Canvas,
		metrics: deps.Metrics,
		sync:    deps.Sync,
		db:      deps.DB,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Handle("/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/map", func(r chi.Router) {
				// The event stream is long-lived and must not inherit the request timeout.
				r.Get("/events", h.handleEvents)

				r.Group(func(r chi.Router) {
					r.Use(middleware.Timeout(15 * time.Second))

					r.Get("/state", h.handleGetState)
					r.Get("/frame", h.handleGetFrame)
					r.Get("/clusters", h.handleGetClusters)
					r.Get("/statistics", h.handleGetStatistics)

					r.Post("/zoom", h.handleZoom)
					r.Post("/center", h.handleCenter)
					r.Post("/fit", h.handleFit)
					r.Post("/resize", h.handleResize)
					r.Put("/tool", h.handleSetTool)
					r.Delete("/measurements", h.handleClearMeasurements)
					r.Post("/pointer", h.handlePointer)
					r.Put("/dark-mode", h.handleDarkMode)
					r.Put("/optimization", h.handleOptimization)
					r.Put("/selection", h.handleSelection)

					r.Route("/elements", func(r chi.Router) {
						r.Get("/", h.handleListElements)
						r.Post("/", h.handlePlaceElement)
					})
					r.Route("/connections", func(r chi.Router) {
						r.Get("/", h.handleListConnections)
						r.Post("/", h.handleCreateConnection)
					})
				})
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

// decodeRequest decodes and validates a JSON body, writing the error response itself.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSONStrict(r, dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid request", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) map[string]any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]any{"error": err.Error()}
	}
	fields := make(map[string]any, len(verrs))
	for _, e := range verrs {
		rule := e.Tag()
		if e.Param() != "" {
			rule += "=" + e.Param()
		}
		fields[strings.ToLower(e.Field())] = rule
	}
	return map[string]any{"fields": fields}
}

// onMain runs fn on the engine's main turn. It writes the error response and returns false
// when the engine is missing or the call could not be scheduled.
func (h *Handler) onMain(w http.ResponseWriter, r *http.Request, fn func()) bool {
	if h.engine == nil {
		h.writeError(w, http.StatusServiceUnavailable, "engine_unavailable", "map engine not configured", nil)
		return false
	}
	if err := h.engine.Do(r.Context(), fn); err != nil {
		h.log.Warn().Err(err).Str("path", r.URL.Path).Msg("engine call not scheduled")
		h.writeError(w, http.StatusServiceUnavailable, "engine_unavailable", "map engine is not running", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

// writeEngineError maps engine sentinel errors onto HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotInitialized), errors.Is(err, engine.ErrDestroyed):
		h.writeError(w, http.StatusConflict, "not_initialized", "map is not initialized", nil)
	case errors.Is(err, engine.ErrUnknownElement):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.engine == nil {
		h.writeError(w, http.StatusServiceUnavailable, "engine_unavailable", "map engine not configured", nil)
		return
	}
	var ready bool
	if err := h.engine.Do(ctx, func() { ready = h.engine.Ready() }); err != nil || !ready {
		h.writeError(w, http.StatusServiceUnavailable, "not_initialized", "map is not initialized", nil)
		return
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}
	if h.sync != nil && !h.sync.Synced() {
		h.writeError(w, http.StatusServiceUnavailable, "sync_pending", "element snapshot not loaded yet", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}
