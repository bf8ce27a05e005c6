// Package interaction implements the tool modes (pan, select, measure, area-select) and the
// pointer handling they own.
package interaction

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"

	"fibermap/core-go/internal/render"
	"fibermap/core-go/internal/scheduler"
)

// MeasureClearDelay is how long a completed measurement stays on screen.
const MeasureClearDelay = 5 * time.Second

// Measurement is a completed two-point measurement in screen pixels. Meters is the geodesic
// distance between the two points on the map.
type Measurement struct {
	From   render.Point `json:"from"`
	To     render.Point `json:"to"`
	Pixels float64      `json:"pixels"`
	Meters float64      `json:"meters"`
}

// AreaSelection is the result of an area-select drag.
type AreaSelection struct {
	Rect render.Rect `json:"rect"`
	IDs  []string    `json:"ids"`
}

// NodeSource lists rendered nodes in screen space; render.Backend implements it.
type NodeSource interface {
	ScreenNodes() []render.ScreenNode
}

// GeoSource converts screen pixels to lon/lat; viewport.Manager implements it.
type GeoSource interface {
	PixelToGeo(x, y float64) orb.Point
}

// Hooks receive machine output on the main turn. Nil hooks are skipped.
type Hooks struct {
	ClearSelection func()
	Measured       func(Measurement)
	AreaSelected   func(AreaSelection)
	Overlay        func(render.Overlay)
	ToolChanged    func(Tool)
}

type Machine struct {
	log      zerolog.Logger
	sched    scheduler.Scheduler
	bindings *Bindings
	nodes    NodeSource
	geo      GeoSource
	hooks    Hooks

	states  map[Tool]State
	current State

	points     []render.Point
	measured   *Measurement
	clearTimer scheduler.Timer

	areaActive bool
	areaOrigin render.Point
	rect       *render.Rect
	rectShown  bool
}

func NewMachine(log zerolog.Logger, sched scheduler.Scheduler, nodes NodeSource, geoSrc GeoSource, hooks Hooks) *Machine {
	m := &Machine{
		log:      log.With().Str("component", "interaction").Logger(),
		sched:    sched,
		bindings: NewBindings(),
		nodes:    nodes,
		geo:      geoSrc,
		hooks:    hooks,
		states: map[Tool]State{
			ToolPan:        panState{},
			ToolSelect:     selectState{},
			ToolMeasure:    measureState{},
			ToolAreaSelect: areaSelectState{},
		},
	}
	m.current = m.states[ToolPan]
	m.current.Enter(m)
	return m
}

func (m *Machine) Bindings() *Bindings { return m.bindings }

func (m *Machine) Current() Tool { return m.current.Tool() }

func (m *Machine) Cursor() string { return m.current.Cursor() }

// SetNodeSource swaps the rendered-node source, e.g. after the backend changes.
func (m *Machine) SetNodeSource(nodes NodeSource) { m.nodes = nodes }

// SetTool switches tool mode. Switching to the current tool does nothing; unknown names fall
// back to pan.
func (m *Machine) SetTool(name string) Tool {
	next, ok := ParseTool(name)
	if !ok {
		m.log.Warn().Str("tool", name).Msg("unknown tool, falling back to pan")
	}
	if next == m.current.Tool() {
		m.log.Debug().Str("tool", string(next)).Msg("tool already active")
		return next
	}

	m.clearMeasurement()
	m.teardownArea()
	m.current.Exit(m)
	m.current = m.states[next]
	m.current.Enter(m)

	m.log.Debug().Str("tool", string(next)).Msg("tool changed")
	if m.hooks.ToolChanged != nil {
		m.hooks.ToolChanged(next)
	}
	m.publishOverlay()
	return next
}

// Dispatch offers a pointer event to the active tool's bindings.
func (m *Machine) Dispatch(ev render.PointerEvent) bool {
	return m.bindings.Dispatch(ev)
}

// ClearMeasurements drops measurement points and any pending auto-clear.
func (m *Machine) ClearMeasurements() {
	m.clearMeasurement()
	m.publishOverlay()
}

// Close tears down the active tool and pending timers.
func (m *Machine) Close() {
	m.clearMeasurement()
	m.teardownArea()
	m.current.Exit(m)
	m.current = m.states[ToolPan]
}

// MeasurePoints returns the points of the measurement in progress.
func (m *Machine) MeasurePoints() []render.Point {
	out := make([]render.Point, len(m.points))
	copy(out, m.points)
	return out
}

// SelectionRect returns the area-select rectangle and whether it is shown.
func (m *Machine) SelectionRect() (render.Rect, bool, bool) {
	if m.rect == nil {
		return render.Rect{}, false, false
	}
	return *m.rect, m.rectShown, true
}

func (m *Machine) Overlay() render.Overlay {
	o := render.Overlay{Cursor: m.current.Cursor()}
	if len(m.points) > 0 {
		o.Measure = m.MeasurePoints()
	}
	if m.measured != nil {
		o.MeasureText = fmt.Sprintf("%.1f px (%.1f m)", m.measured.Pixels, m.measured.Meters)
	}
	if m.rect != nil {
		r := *m.rect
		o.Rect = &r
		o.RectVisible = m.rectShown
	}
	return o
}

func (m *Machine) publishOverlay() {
	if m.hooks.Overlay != nil {
		m.hooks.Overlay(m.Overlay())
	}
}

func (m *Machine) clearSelection() {
	if m.hooks.ClearSelection != nil {
		m.hooks.ClearSelection()
	}
}

func (m *Machine) clearMeasurement() {
	if m.clearTimer != nil {
		m.clearTimer.Stop()
		m.clearTimer = nil
	}
	m.points = nil
	m.measured = nil
}

func (m *Machine) addMeasurePoint(p render.Point) {
	if len(m.points) >= 2 {
		m.clearMeasurement()
	}
	m.points = append(m.points, p)
	if len(m.points) < 2 {
		m.publishOverlay()
		return
	}

	a, b := m.points[0], m.points[1]
	meas := Measurement{
		From:   a,
		To:     b,
		Pixels: planar.Distance(orb.Point{a.X, a.Y}, orb.Point{b.X, b.Y}),
	}
	if m.geo != nil {
		meas.Meters = geo.Distance(m.geo.PixelToGeo(a.X, a.Y), m.geo.PixelToGeo(b.X, b.Y))
	}
	m.measured = &meas
	m.publishOverlay()
	if m.hooks.Measured != nil {
		m.hooks.Measured(meas)
	}

	m.clearTimer = m.sched.After(MeasureClearDelay, func() {
		m.clearTimer = nil
		m.points = nil
		m.measured = nil
		m.publishOverlay()
	})
}

func (m *Machine) areaStart(p render.Point) {
	m.areaActive = true
	m.areaOrigin = p
	m.rect = &render.Rect{X: p.X, Y: p.Y}
	m.rectShown = true
	m.publishOverlay()
}

func (m *Machine) areaMove(p render.Point) bool {
	if !m.areaActive {
		return false
	}
	r := rectBetween(m.areaOrigin, p)
	m.rect = &r
	m.publishOverlay()
	return true
}

func (m *Machine) areaEnd(p render.Point) bool {
	if !m.areaActive {
		return false
	}
	m.areaActive = false
	r := rectBetween(m.areaOrigin, p)
	m.rect = &r

	sel := AreaSelection{Rect: r, IDs: []string{}}
	if m.nodes != nil {
		for _, n := range m.nodes.ScreenNodes() {
			if r.Contains(n.X, n.Y) {
				sel.IDs = append(sel.IDs, n.ID)
			}
		}
	}
	m.rectShown = false
	m.publishOverlay()
	if m.hooks.AreaSelected != nil {
		m.hooks.AreaSelected(sel)
	}
	return true
}

func (m *Machine) teardownArea() {
	m.areaActive = false
	m.rect = nil
	m.rectShown = false
}

func rectBetween(a, b render.Point) render.Rect {
	x0, x1 := math.Min(a.X, b.X), math.Max(a.X, b.X)
	y0, y1 := math.Min(a.Y, b.Y), math.Max(a.Y, b.Y)
	return render.Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}
