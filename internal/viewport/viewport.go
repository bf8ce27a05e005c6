// Package viewport owns the screen/world/geographic transforms of the map. It is the single
// source of truth for the current zoom and pan; other components read the transform back
// from the Manager instead of keeping copies.
package viewport

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/rs/zerolog"

	"fibermap/core-go/internal/scheduler"
)

var ErrNoContainer = errors.New("viewport: render container is missing")

// Container is the render surface the map is drawn into.
type Container interface {
	Size() (width, height int)
}

// Canvas is an in-memory Container with a mutable size.
type Canvas struct {
	mu            sync.Mutex
	width, height int
}

func NewCanvas(width, height int) *Canvas {
	return &Canvas{width: width, height: height}
}

func (c *Canvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

func (c *Canvas) SetSize(width, height int) {
	c.mu.Lock()
	c.width, c.height = width, height
	c.mu.Unlock()
}

type Config struct {
	MinZoom     float64
	MaxZoom     float64
	InitialZoom float64
	// Center is the lon/lat that world origin (0,0) maps to.
	Center        orb.Point
	MetersPerUnit float64
	MinWidth      int
	MinHeight     int
	// AnimationDuration is the length of an animated SetZoom.
	AnimationDuration time.Duration
	AnimationSteps    int
}

func (c Config) withDefaults() Config {
	if c.MinZoom <= 0 {
		c.MinZoom = 0.1
	}
	if c.MaxZoom <= 0 {
		c.MaxZoom = 10
	}
	if c.MaxZoom < c.MinZoom {
		c.MinZoom, c.MaxZoom = c.MaxZoom, c.MinZoom
	}
	if c.InitialZoom <= 0 {
		c.InitialZoom = 1
	}
	if c.MetersPerUnit <= 0 {
		c.MetersPerUnit = 10
	}
	if c.MinWidth <= 0 {
		c.MinWidth = 100
	}
	if c.MinHeight <= 0 {
		c.MinHeight = 100
	}
	if c.AnimationDuration <= 0 {
		c.AnimationDuration = 250 * time.Millisecond
	}
	if c.AnimationSteps <= 0 {
		c.AnimationSteps = 10
	}
	return c
}

// Manager is not safe for concurrent use; call it from the scheduler's main turn.
type Manager struct {
	log   zerolog.Logger
	sched scheduler.Scheduler

	cfg       Config
	container Container
	width     int
	height    int
	transform Transform
	origin    orb.Point
	ready     bool

	nextListener int
	listeners    map[int]func(Transform)
	anim         scheduler.Timer
}

func NewManager(log zerolog.Logger, sched scheduler.Scheduler) *Manager {
	return &Manager{
		log:       log,
		sched:     sched,
		cfg:       Config{}.withDefaults(),
		transform: Identity(),
		listeners: make(map[int]func(Transform)),
	}
}

// Missing reports whether c is nil, including a nil *Canvas stored in the interface.
func Missing(c Container) bool {
	if c == nil {
		return true
	}
	cv, ok := c.(*Canvas)
	return ok && cv == nil
}

// Initialize binds the manager to a container. A missing container is fatal; degenerate
// dimensions are replaced with the configured minimums.
func (m *Manager) Initialize(c Container, cfg Config) error {
	if Missing(c) {
		m.log.Error().Msg("viewport initialize: container is nil")
		return ErrNoContainer
	}
	m.cfg = cfg.withDefaults()
	m.container = c
	m.origin = project.WGS84.ToMercator(m.cfg.Center)

	w, h := c.Size()
	m.width, m.height = m.sanitizeSize(w, h)
	m.stopAnimation()
	m.setTransform(Transform{
		K: m.clamp(m.cfg.InitialZoom),
		X: float64(m.width) / 2,
		Y: float64(m.height) / 2,
	})
	m.ready = true
	return nil
}

func (m *Manager) sanitizeSize(w, h int) (int, int) {
	if w < m.cfg.MinWidth || h < m.cfg.MinHeight {
		m.log.Warn().
			Int("width", w).
			Int("height", h).
			Int("min_width", m.cfg.MinWidth).
			Int("min_height", m.cfg.MinHeight).
			Msg("container has degenerate dimensions; using minimum size")
	}
	if w < m.cfg.MinWidth {
		w = m.cfg.MinWidth
	}
	if h < m.cfg.MinHeight {
		h = m.cfg.MinHeight
	}
	return w, h
}

func (m *Manager) Ready() bool { return m.ready }

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) Size() (int, int) { return m.width, m.height }

func (m *Manager) Transform() Transform { return m.transform }

func (m *Manager) CurrentZoom() float64 {
	return m.transform.K
}

// NormalizedZoom is the zoom relative to the initial zoom (1.0 = initial view).
func (m *Manager) NormalizedZoom() float64 {
	return m.transform.K / m.cfg.InitialZoom
}

func (m *Manager) clamp(level float64) float64 {
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return m.cfg.InitialZoom
	}
	return math.Max(m.cfg.MinZoom, math.Min(m.cfg.MaxZoom, level))
}

// SetZoom zooms about the screen centre. With animate the change is spread over a few
// scheduled steps.
func (m *Manager) SetZoom(level float64, animate bool) {
	target := m.clamp(level)
	if target != level {
		m.log.Debug().Float64("requested", level).Float64("clamped", target).Msg("zoom clamped")
	}
	cx, cy := float64(m.width)/2, float64(m.height)/2
	m.stopAnimation()
	if !animate || m.sched == nil {
		m.setTransform(zoomAbout(m.transform, target, cx, cy))
		return
	}
	m.animateTo(zoomAbout(m.transform, target, cx, cy))
}

// ZoomAt zooms keeping the screen point (sx, sy) fixed.
func (m *Manager) ZoomAt(level, sx, sy float64) {
	m.stopAnimation()
	m.setTransform(zoomAbout(m.transform, m.clamp(level), sx, sy))
}

func zoomAbout(t Transform, k, sx, sy float64) Transform {
	wx, wy := t.Invert(sx, sy)
	return Transform{K: k, X: sx - wx*k, Y: sy - wy*k}
}

func (m *Manager) animateTo(target Transform) {
	from := m.transform
	steps := m.cfg.AnimationSteps
	interval := m.cfg.AnimationDuration / time.Duration(steps)

	var step func(i int)
	step = func(i int) {
		if i >= steps {
			m.anim = nil
			m.setTransform(target)
			return
		}
		p := easeInOutCubic(float64(i) / float64(steps))
		m.setTransform(Transform{
			K: from.K + (target.K-from.K)*p,
			X: from.X + (target.X-from.X)*p,
			Y: from.Y + (target.Y-from.Y)*p,
		})
		m.anim = m.sched.After(interval, func() { step(i + 1) })
	}
	step(1)
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func (m *Manager) stopAnimation() {
	if m.anim != nil {
		m.anim.Stop()
		m.anim = nil
	}
}

// PanBy translates the view by a screen-space delta.
func (m *Manager) PanBy(dx, dy float64) {
	m.stopAnimation()
	t := m.transform
	t.X += dx
	t.Y += dy
	m.setTransform(t)
}

// CenterOn moves the view so the lon/lat point sits at the screen centre.
func (m *Manager) CenterOn(p orb.Point) {
	wx, wy := m.GeoToWorld(p.Lat(), p.Lon())
	m.CenterOnWorld(wx, wy)
}

func (m *Manager) CenterOnWorld(wx, wy float64) {
	m.stopAnimation()
	t := m.transform
	t.X = float64(m.width)/2 - wx*t.K
	t.Y = float64(m.height)/2 - wy*t.K
	m.setTransform(t)
}

// FitBounds zooms and centres so b fills the screen minus padding pixels on each side.
func (m *Manager) FitBounds(b Bounds, padding float64) {
	availW := math.Max(1, float64(m.width)-2*padding)
	availH := math.Max(1, float64(m.height)-2*padding)
	bw, bh := b.Width(), b.Height()

	k := m.transform.K
	switch {
	case bw <= 0 && bh <= 0:
	case bw <= 0:
		k = availH / bh
	case bh <= 0:
		k = availW / bw
	default:
		k = math.Min(availW/bw, availH/bh)
	}
	k = m.clamp(k)
	cx, cy := b.Center()

	m.stopAnimation()
	m.setTransform(Transform{
		K: k,
		X: float64(m.width)/2 - cx*k,
		Y: float64(m.height)/2 - cy*k,
	})
}

// Resize keeps the world point at the screen centre fixed while the surface changes size.
func (m *Manager) Resize(width, height int) {
	wx, wy := m.transform.Invert(float64(m.width)/2, float64(m.height)/2)
	m.width, m.height = m.sanitizeSize(width, height)
	t := m.transform
	t.X = float64(m.width)/2 - wx*t.K
	t.Y = float64(m.height)/2 - wy*t.K
	m.setTransform(t)
}

// Refresh re-reads the container size.
func (m *Manager) Refresh() {
	if m.container == nil {
		return
	}
	w, h := m.container.Size()
	m.Resize(w, h)
}

// ViewportBounds is the visible screen rectangle expressed in world units.
func (m *Manager) ViewportBounds() Bounds {
	x0, y0 := m.transform.Invert(0, 0)
	x1, y1 := m.transform.Invert(float64(m.width), float64(m.height))
	return Bounds{
		MinX: math.Min(x0, x1),
		MinY: math.Min(y0, y1),
		MaxX: math.Max(x0, x1),
		MaxY: math.Max(y0, y1),
	}
}

// GeoToWorld projects lat/lng with spherical Web-Mercator into world units (y grows south).
func (m *Manager) GeoToWorld(lat, lng float64) (float64, float64) {
	merc := project.WGS84.ToMercator(orb.Point{lng, lat})
	return (merc.X() - m.origin.X()) / m.cfg.MetersPerUnit, -(merc.Y() - m.origin.Y()) / m.cfg.MetersPerUnit
}

func (m *Manager) WorldToGeo(wx, wy float64) orb.Point {
	merc := orb.Point{
		m.origin.X() + wx*m.cfg.MetersPerUnit,
		m.origin.Y() - wy*m.cfg.MetersPerUnit,
	}
	return project.Mercator.ToWGS84(merc)
}

// PixelToGeo returns the lon/lat under a screen point.
func (m *Manager) PixelToGeo(x, y float64) orb.Point {
	wx, wy := m.transform.Invert(x, y)
	return m.WorldToGeo(wx, wy)
}

func (m *Manager) GeoToPixel(lat, lng float64) (float64, float64) {
	wx, wy := m.GeoToWorld(lat, lng)
	return m.transform.Apply(wx, wy)
}

// Subscribe registers a transform listener and returns its unsubscribe func.
func (m *Manager) Subscribe(fn func(Transform)) func() {
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	return func() { delete(m.listeners, id) }
}

func (m *Manager) setTransform(t Transform) {
	if t == m.transform {
		return
	}
	m.transform = t
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := m.listeners[id]; ok {
			fn(t)
		}
	}
}

