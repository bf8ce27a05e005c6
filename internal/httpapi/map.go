package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	geojson "github.com/paulmach/go.geojson"

	"fibermap/core-go/internal/engine"
	"fibermap/core-go/internal/interaction"
	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/perf"
	"fibermap/core-go/internal/render"
)

type zoomRequest struct {
	Level   *float64 `json:"level,omitempty"`
	Factor  *float64 `json:"factor,omitempty"`
	X       float64  `json:"x"`
	Y       float64  `json:"y"`
	Animate bool     `json:"animate"`
}

type centerRequest struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

type resizeRequest struct {
	Width  int `json:"width" validate:"gt=0"`
	Height int `json:"height" validate:"gt=0"`
}

type toolRequest struct {
	Tool string `json:"tool" validate:"required"`
}

type darkModeRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type optimizationRequest struct {
	Level        *string `json:"level,omitempty"`
	AutoOptimize *bool   `json:"auto_optimize,omitempty"`
}

type selectionRequest struct {
	ElementID string `json:"element_id"`
}

type placeElementRequest struct {
	Element model.NetworkElement `json:"element"`
	X       float64              `json:"x" validate:"gte=0"`
	Y       float64              `json:"y" validate:"gte=0"`
}

type connectionRequest struct {
	SourceID string `json:"source_id" validate:"required"`
	TargetID string `json:"target_id" validate:"required,nefield=SourceID"`
	Status   string `json:"status,omitempty"`
}

type pointerResponse struct {
	Consumed bool             `json:"consumed"`
	Tool     interaction.Tool `json:"tool"`
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	var st engine.State
	if !h.onMain(w, r, func() { st = h.engine.State() }) {
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	var (
		buf         bytes.Buffer
		contentType string
		err         error
	)
	if !h.onMain(w, r, func() { contentType, err = h.engine.RenderFrame(&buf) }) {
		return
	}
	if err != nil {
		if errors.Is(err, engine.ErrNotInitialized) {
			h.writeEngineError(w, err)
			return
		}
		h.log.Error().Err(err).Msg("render frame failed")
		h.writeError(w, http.StatusInternalServerError, "render_failed", "failed to render frame", nil)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleGetClusters returns the rendered nodes, aggregates included, as GeoJSON points.
func (h *Handler) handleGetClusters(w http.ResponseWriter, r *http.Request) {
	var nodes []engine.NodeView
	if !h.onMain(w, r, func() { nodes = h.engine.Nodes() }) {
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, n := range nodes {
		f := geojson.NewPointFeature([]float64{n.Lng, n.Lat})
		f.ID = n.ID
		f.SetProperty("label", n.Label)
		f.SetProperty("type", string(n.Type))
		f.SetProperty("status", string(n.Status))
		f.SetProperty("color", n.Color)
		f.SetProperty("count", n.Count)
		f.SetProperty("cluster", n.Count > 1)
		f.SetProperty("screen_x", n.X)
		f.SetProperty("screen_y", n.Y)
		if len(n.Members) > 1 {
			f.SetProperty("members", n.Members)
		}
		if n.Preview {
			f.SetProperty("preview", true)
		}
		if n.Selected {
			f.SetProperty("selected", true)
		}
		fc.AddFeature(f)
	}

	b, err := fc.MarshalJSON()
	if err != nil {
		h.log.Error().Err(err).Msg("encode clusters failed")
		h.writeError(w, http.StatusInternalServerError, "encode_failed", "failed to encode clusters", nil)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *Handler) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		h.writeError(w, http.StatusServiceUnavailable, "engine_unavailable", "map engine not configured", nil)
		return
	}
	st, ok := h.engine.MapStatistics().Latest()
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "statistics not computed yet", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req zoomRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	switch {
	case (req.Level == nil) == (req.Factor == nil):
		h.writeError(w, http.StatusBadRequest, "validation_failed", "exactly one of level or factor is required", nil)
		return
	case req.Level != nil && *req.Level <= 0, req.Factor != nil && *req.Factor <= 0:
		h.writeError(w, http.StatusBadRequest, "validation_failed", "zoom must be positive", nil)
		return
	}

	var (
		err  error
		zoom float64
	)
	if !h.onMain(w, r, func() {
		if req.Factor != nil {
			err = h.engine.ZoomBy(*req.Factor, req.X, req.Y)
		} else {
			err = h.engine.SetZoom(*req.Level, req.Animate)
		}
		zoom = h.engine.State().Zoom
	}) {
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"zoom": zoom})
}

func (h *Handler) handleCenter(w http.ResponseWriter, r *http.Request) {
	var req centerRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	var err error
	if !h.onMain(w, r, func() {
		err = h.engine.CenterOnCoordinates(model.GeoPosition{Lat: *req.Lat, Lng: *req.Lng})
	}) {
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleFit(w http.ResponseWriter, r *http.Request) {
	var err error
	if !h.onMain(w, r, func() { err = h.engine.FitContentToScreen() }) {
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	if h.canvas == nil {
		h.writeError(w, http.StatusConflict, "not_resizable", "render surface has a fixed size", nil)
		return
	}
	h.canvas.SetSize(req.Width, req.Height)

	var err error
	if !h.onMain(w, r, func() { err = h.engine.RefreshMapSize() }) {
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetTool(w http.ResponseWriter, r *http.Request) {
	var req toolRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	if _, ok := interaction.ParseTool(req.Tool); !ok {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "unknown tool", map[string]any{"tool": req.Tool})
		return
	}

	var (
		tool interaction.Tool
		err  error
	)
	if !h.onMain(w, r, func() { tool, err = h.engine.SetTool(req.Tool) }) {
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tool": tool})
}

func (h *Handler) handleClearMeasurements(w http.ResponseWriter, r *http.Request) {
	if !h.onMain(w, r, h.engine.ClearMeasurements) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePointer(w http.ResponseWriter, r *http.Request) {
	var ev render.PointerEvent
	if err := decodeJSONStrict(r, &ev); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	switch ev.Kind {
	case render.PointerDown, render.PointerMove, render.PointerUp, render.PointerClick:
	default:
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid pointer kind", map[string]any{"kind": string(ev.Kind)})
		return
	}

	var (
		ready bool
		resp  pointerResponse
	)
	if !h.onMain(w, r, func() {
		ready = h.engine.Ready()
		resp.Consumed = h.engine.Pointer(ev)
		resp.Tool = h.engine.CurrentTool()
	}) {
		return
	}
	if !ready {
		h.writeEngineError(w, engine.ErrNotInitialized)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDarkMode(w http.ResponseWriter, r *http.Request) {
	var req darkModeRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	if !h.onMain(w, r, func() { h.engine.SetDarkMode(*req.Enabled) }) {
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"enabled": *req.Enabled})
}

func (h *Handler) handleOptimization(w http.ResponseWriter, r *http.Request) {
	var req optimizationRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	if req.Level == nil && req.AutoOptimize == nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "level or auto_optimize is required", nil)
		return
	}
	if req.Level != nil {
		lvl := strings.TrimSpace(*req.Level)
		if !strings.EqualFold(lvl, string(perf.LevelAuto)) && perf.CanonicalizeLevel(lvl) == perf.LevelAuto {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "unknown optimization level", map[string]any{"level": *req.Level})
			return
		}
	}

	var (
		err error
		cfg perf.Config
	)
	if !h.onMain(w, r, func() {
		if req.Level != nil {
			if err = h.engine.SetOptimizationLevel(*req.Level); err != nil {
				return
			}
		}
		if req.AutoOptimize != nil {
			if err = h.engine.SetAutoOptimization(*req.AutoOptimize); err != nil {
				return
			}
		}
		cfg, _ = h.engine.OptimizationConfig().Latest()
	}) {
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	id := strings.TrimSpace(req.ElementID)

	found := true
	if !h.onMain(w, r, func() {
		if id == "" {
			h.engine.SelectElement(nil)
			return
		}
		for _, el := range h.engine.Elements() {
			if el.ID == id {
				h.engine.SelectElement(&el)
				return
			}
		}
		found = false
	}) {
		return
	}
	if !found {
		h.writeError(w, http.StatusNotFound, "not_found", "element not found", map[string]any{"id": id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListElements(w http.ResponseWriter, r *http.Request) {
	var els []model.NetworkElement
	if !h.onMain(w, r, func() { els = h.engine.Elements() }) {
		return
	}
	h.writeJSON(w, http.StatusOK, els)
}

// handlePlaceElement drops an uncommitted preview on the map at a screen position.
func (h *Handler) handlePlaceElement(w http.ResponseWriter, r *http.Request) {
	var req placeElementRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	el := req.Element
	if el.Type != "" {
		el.Type = model.ParseElementType(string(el.Type))
	}
	if el.Status != "" {
		el.Status = model.ParseElementStatus(string(el.Status))
	}

	var (
		placed model.NetworkElement
		err    error
	)
	if !h.onMain(w, r, func() { placed, err = h.engine.AddElementAtPosition(el, req.X, req.Y) }) {
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, placed)
}

func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	var conns []model.NetworkConnection
	if !h.onMain(w, r, func() { conns = h.engine.Connections() }) {
		return
	}
	h.writeJSON(w, http.StatusOK, conns)
}

func (h *Handler) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	var status model.ElementStatus
	if req.Status != "" {
		status = model.ParseElementStatus(req.Status)
	}

	var (
		c   model.NetworkConnection
		err error
	)
	if !h.onMain(w, r, func() { c, err = h.engine.HandleConnection(req.SourceID, req.TargetID, status) }) {
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, c)
}
