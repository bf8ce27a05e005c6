// Package batch is the raster backend. Nodes are grouped into draw batches by colour, culled
// against the visible rect and capped per frame; labels live in a separate screen-space
// overlay re-projected every frame. Frames are drawn by a recurring scheduled callback.
package batch

import (
	"bytes"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/fogleman/gg"
	"github.com/rs/zerolog"
	"golang.org/x/image/font/basicfont"

	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/render"
	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/scheduler"
	"fibermap/core-go/internal/viewport"
)

type Options struct {
	FrameInterval       time.Duration `yaml:"frame_interval"`
	MaxElementsPerFrame int           `yaml:"max_elements_per_frame"`
	// ClusterAbove turns on render-time grouping when more nodes than this survive culling.
	ClusterAbove int           `yaml:"cluster_above"`
	ClusterCell  float64       `yaml:"cluster_cell"`
	ClusterTTL   time.Duration `yaml:"cluster_ttl"`
	// LabelMinZoom hides the label overlay below this scale.
	LabelMinZoom float64 `yaml:"label_min_zoom"`
}

func DefaultOptions() Options {
	return Options{
		FrameInterval:       16 * time.Millisecond,
		MaxElementsPerFrame: 10000,
		ClusterAbove:        2000,
		ClusterCell:         40,
		ClusterTTL:          time.Second,
		LabelMinZoom:        0.5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FrameInterval <= 0 {
		o.FrameInterval = d.FrameInterval
	}
	if o.MaxElementsPerFrame <= 0 {
		o.MaxElementsPerFrame = d.MaxElementsPerFrame
	}
	if o.ClusterAbove <= 0 {
		o.ClusterAbove = d.ClusterAbove
	}
	if o.ClusterCell <= 0 {
		o.ClusterCell = d.ClusterCell
	}
	if o.ClusterTTL <= 0 {
		o.ClusterTTL = d.ClusterTTL
	}
	if o.LabelMinZoom < 0 {
		o.LabelMinZoom = d.LabelMinZoom
	}
	return o
}

const (
	minWidth  = 100
	minHeight = 100
)

// sprite is one drawable marker in screen space.
type sprite struct {
	id     string
	x, y   float64
	radius float64
	color  string
	count  int
}

// label is an overlay entry projected from its node every frame.
type label struct {
	id   string
	text string
	x, y float64
}

type Backend struct {
	log   zerolog.Logger
	view  render.TransformSource
	sched scheduler.Scheduler
	opts  Options

	ready   bool
	width   int
	height  int
	dark    bool
	overlay render.Overlay

	nodes    []*scene.RenderNode
	index    map[string]*scene.RenderNode
	links    []*scene.RenderLink
	selected string

	batches map[string][]sprite
	labels  []label
	dirty   bool
	frame   *gg.Context
	timer   scheduler.Timer
	groups  *groupCache

	lastSkipped int
	gestures    *render.NodeGestures
	onFrame     []func(render.Stats)
	stats       render.Stats
}

func New(log zerolog.Logger, view render.TransformSource, sched scheduler.Scheduler, opts Options) *Backend {
	return &Backend{
		log:      log.With().Str("component", "render.batch").Logger(),
		view:     view,
		sched:    sched,
		opts:     opts.withDefaults(),
		index:    map[string]*scene.RenderNode{},
		batches:  map[string][]sprite{},
		groups:   &groupCache{},
		gestures: render.NewNodeGestures(view),
	}
}

func (b *Backend) Name() string { return "batch" }

func (b *Backend) ContentType() string { return "image/png" }

func (b *Backend) Initialize(surface viewport.Container, width, height int) error {
	if surface == nil {
		return render.ErrNoSurface
	}
	if width <= 0 || height <= 0 {
		width, height = surface.Size()
	}
	b.width, b.height = b.sanitize(width, height)
	b.ready = true
	b.dirty = true
	b.startLoop()
	return nil
}

func (b *Backend) sanitize(w, h int) (int, int) {
	if w < minWidth || h < minHeight {
		b.log.Warn().Int("width", w).Int("height", h).Msg("degenerate surface size, using minimum")
		w = max(w, minWidth)
		h = max(h, minHeight)
	}
	return w, h
}

// startLoop schedules the recurring frame callback.
func (b *Backend) startLoop() {
	if b.timer != nil {
		return
	}
	b.timer = b.sched.After(b.opts.FrameInterval, b.tick)
}

func (b *Backend) tick() {
	b.timer = nil
	if !b.ready {
		return
	}
	if b.dirty {
		b.draw()
	}
	b.startLoop()
}

func (b *Backend) Resize(width, height int) {
	b.width, b.height = b.sanitize(width, height)
	b.groups.invalidate()
	b.dirty = true
}

func (b *Backend) SetDarkMode(dark bool) {
	if b.dark != dark {
		b.dark = dark
		b.dirty = true
	}
}

func (b *Backend) ElementColor(t model.ElementType, s model.ElementStatus) string {
	return render.ElementColor(t, s)
}

func (b *Backend) UpdateNodes(nodes []*scene.RenderNode) {
	b.nodes = nodes
	b.index = scene.Index(nodes)
	b.stats.Nodes = len(nodes)
	if id := b.gestures.Active(); id != "" {
		if _, ok := b.index[id]; !ok {
			b.gestures.Cancel()
		}
	}
	b.groups.invalidate()
	b.dirty = true
}

func (b *Backend) UpdateLinks(links []*scene.RenderLink) {
	b.links = links
	b.stats.Links = len(links)
	b.dirty = true
}

// UpdatePositions marks the frame dirty; the next scheduled frame redraws it.
func (b *Backend) UpdatePositions() {
	b.dirty = true
}

func (b *Backend) HighlightSelected(id string) {
	if b.selected != id {
		b.selected = id
		b.dirty = true
	}
}

func (b *Backend) Selected() string { return b.selected }

func (b *Backend) Clear() {
	b.nodes = nil
	b.index = map[string]*scene.RenderNode{}
	b.links = nil
	b.selected = ""
	b.overlay = render.Overlay{}
	b.batches = map[string][]sprite{}
	b.labels = nil
	b.groups.invalidate()
	b.stats.Nodes, b.stats.Links, b.stats.Drawn, b.stats.Culled, b.stats.Skipped = 0, 0, 0, 0, 0
	b.dirty = true
}

func (b *Backend) Close() {
	b.ready = false
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.Clear()
	b.onFrame = nil
	b.gestures.SetDragger(nil)
	b.gestures.SetClick(nil)
}

func (b *Backend) SetDragger(d render.Dragger) { b.gestures.SetDragger(d) }

func (b *Backend) SetNodeClick(fn func(id string)) { b.gestures.SetClick(fn) }

func (b *Backend) SetOverlay(o render.Overlay) {
	b.overlay = o
	b.dirty = true
}

func (b *Backend) OnFrame(fn func(render.Stats)) { b.onFrame = append(b.onFrame, fn) }

func (b *Backend) Pointer(ev render.PointerEvent) bool {
	return b.gestures.Handle(ev, func(id string) bool {
		_, ok := b.index[id]
		return ok
	})
}

// NodeAt hit-tests individual nodes against the current transform, top-most first.
func (b *Backend) NodeAt(x, y float64) (string, bool) {
	t := b.view.Transform()
	for i := len(b.nodes) - 1; i >= 0; i-- {
		n := b.nodes[i]
		sx, sy := t.Apply(n.X, n.Y)
		if math.Hypot(x-sx, y-sy) <= render.NodeRadius(n) {
			return n.ID, true
		}
	}
	return "", false
}

func (b *Backend) ScreenNodes() []render.ScreenNode {
	t := b.view.Transform()
	out := make([]render.ScreenNode, 0, len(b.nodes))
	for _, n := range b.nodes {
		sx, sy := t.Apply(n.X, n.Y)
		out = append(out, render.ScreenNode{ID: n.ID, X: sx, Y: sy, Radius: render.NodeRadius(n)})
	}
	return out
}

func (b *Backend) Stats() render.Stats { return b.stats }

// Render draws a fresh frame if needed and writes it as PNG.
func (b *Backend) Render(w io.Writer) error {
	if !b.ready {
		return render.ErrNoSurface
	}
	if b.dirty || b.frame == nil {
		b.draw()
	}
	var buf bytes.Buffer
	if err := b.frame.EncodePNG(&buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Batches returns the colour keys of the last frame's draw batches, sorted.
func (b *Backend) Batches() []string {
	keys := make([]string, 0, len(b.batches))
	for k := range b.batches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Labels returns the ids of nodes with a label in the last frame's overlay.
func (b *Backend) Labels() []string {
	out := make([]string, len(b.labels))
	for i, l := range b.labels {
		out[i] = l.id
	}
	return out
}

func (b *Backend) draw() {
	start := time.Now()
	t := b.view.Transform()

	visible, culled := b.cull(t)
	skipped := 0
	if len(visible) > b.opts.MaxElementsPerFrame {
		skipped = len(visible) - b.opts.MaxElementsPerFrame
		visible = visible[:b.opts.MaxElementsPerFrame]
	}
	if skipped > 0 && skipped != b.lastSkipped {
		b.log.Warn().
			Int("budget", b.opts.MaxElementsPerFrame).
			Int("skipped", skipped).
			Msg("frame budget exceeded, skipping elements")
	}
	b.lastSkipped = skipped

	sprites := b.sprites(visible, t)
	b.batches = map[string][]sprite{}
	for _, s := range sprites {
		b.batches[s.color] = append(b.batches[s.color], s)
	}
	b.labels = b.projectLabels(sprites, t)

	dc := gg.NewContext(b.width, b.height)
	dc.SetHexColor(render.Background(b.dark))
	dc.Clear()
	b.drawLinks(dc, t)
	b.drawBatches(dc)
	b.drawLabels(dc)
	b.drawOverlay(dc)
	b.frame = dc
	b.dirty = false

	b.stats.Frames++
	b.stats.Drawn = len(sprites)
	b.stats.Culled = culled
	b.stats.Skipped = skipped
	b.stats.Batches = len(b.batches)
	b.stats.RenderMillis = float64(time.Since(start).Microseconds()) / 1000

	stats := b.stats
	for _, fn := range b.onFrame {
		fn(stats)
	}
}

// cull keeps nodes whose marker intersects the surface.
func (b *Backend) cull(t viewport.Transform) (visible []*scene.RenderNode, culled int) {
	w, h := float64(b.width), float64(b.height)
	visible = make([]*scene.RenderNode, 0, len(b.nodes))
	for _, n := range b.nodes {
		sx, sy := t.Apply(n.X, n.Y)
		r := render.NodeRadius(n)
		if sx+r < 0 || sy+r < 0 || sx-r > w || sy-r > h {
			culled++
			continue
		}
		visible = append(visible, n)
	}
	return visible, culled
}

func (b *Backend) sprites(visible []*scene.RenderNode, t viewport.Transform) []sprite {
	if len(visible) > b.opts.ClusterAbove {
		return b.groups.get(b.sched.Now(), b.opts, t, visible, b.dark)
	}
	out := make([]sprite, 0, len(visible))
	for _, n := range visible {
		sx, sy := t.Apply(n.X, n.Y)
		out = append(out, sprite{
			id:     n.ID,
			x:      sx,
			y:      sy,
			radius: render.NodeRadius(n),
			color:  render.Themed(render.NodeColor(n.Type(), n.Status(), n.IsCluster()), b.dark),
			count:  max(1, len(n.Members)),
		})
	}
	return out
}

func (b *Backend) projectLabels(sprites []sprite, t viewport.Transform) []label {
	if t.K < b.opts.LabelMinZoom {
		return nil
	}
	out := make([]label, 0, len(sprites))
	for _, s := range sprites {
		text := ""
		if n, ok := b.index[s.id]; ok {
			text = n.Label
		} else if s.count > 1 {
			text = strconv.Itoa(s.count)
		}
		if text == "" {
			continue
		}
		out = append(out, label{id: s.id, text: text, x: s.x, y: s.y + s.radius + 10})
	}
	return out
}

func (b *Backend) drawLinks(dc *gg.Context, t viewport.Transform) {
	dc.SetLineWidth(1)
	for _, l := range b.links {
		if l.Source == nil || l.Target == nil {
			continue
		}
		x1, y1 := t.Apply(l.Source.X, l.Source.Y)
		x2, y2 := t.Apply(l.Target.X, l.Target.Y)
		status := model.ElementStatus("")
		if l.Connection != nil {
			status = l.Connection.Status
		}
		dc.SetHexColor(render.LinkColor(status, b.dark))
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
	}
}

// drawBatches fills one path per colour.
func (b *Backend) drawBatches(dc *gg.Context) {
	for _, color := range b.Batches() {
		dc.SetHexColor(color)
		for _, s := range b.batches[color] {
			dc.DrawCircle(s.x, s.y, s.radius)
		}
		dc.Fill()
	}
	if b.selected == "" {
		return
	}
	for _, batch := range b.batches {
		for _, s := range batch {
			if s.id == b.selected {
				dc.SetHexColor(render.HighlightColor)
				dc.SetLineWidth(3)
				dc.DrawCircle(s.x, s.y, s.radius+2)
				dc.Stroke()
			}
		}
	}
}

func (b *Backend) drawLabels(dc *gg.Context) {
	if len(b.labels) == 0 {
		return
	}
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetHexColor(render.LabelColor(b.dark))
	for _, l := range b.labels {
		dc.DrawStringAnchored(l.text, l.x, l.y, 0.5, 0.5)
	}
}

func (b *Backend) drawOverlay(dc *gg.Context) {
	o := b.overlay
	if len(o.Measure) > 0 {
		dc.SetHexColor("#ef4444")
		for _, p := range o.Measure {
			dc.DrawCircle(p.X, p.Y, 4)
		}
		dc.Fill()
		if len(o.Measure) == 2 {
			dc.SetDash(4, 2)
			dc.DrawLine(o.Measure[0].X, o.Measure[0].Y, o.Measure[1].X, o.Measure[1].Y)
			dc.Stroke()
			dc.SetDash()
			if o.MeasureText != "" {
				dc.SetFontFace(basicfont.Face7x13)
				dc.DrawStringAnchored(o.MeasureText,
					(o.Measure[0].X+o.Measure[1].X)/2, (o.Measure[0].Y+o.Measure[1].Y)/2-8, 0.5, 0.5)
			}
		}
	}
	if o.Rect != nil && o.RectVisible {
		dc.SetRGBA(0.23, 0.51, 0.96, 0.1)
		dc.DrawRectangle(o.Rect.X, o.Rect.Y, o.Rect.Width, o.Rect.Height)
		dc.FillPreserve()
		dc.SetHexColor("#3b82f6")
		dc.SetLineWidth(1)
		dc.Stroke()
	}
}
