// Package vector is the retained scene-graph backend. Updates are diffed against the previous
// node and link sets so only entering, updated and exiting elements are touched; frames are
// written as SVG.
package vector

import (
	"fmt"
	"html"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/render"
	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/viewport"
)

const (
	minWidth  = 100
	minHeight = 100
)

// Diff lists ids by what happened to them in the last update.
type Diff struct {
	Enter  []string
	Update []string
	Exit   []string
}

type nodeElem struct {
	node   *scene.RenderNode
	fill   string
	radius float64
	label  string
	sx, sy float64
	bound  bool
}

type linkElem struct {
	link   *scene.RenderLink
	stroke string
	width  float64
}

type Backend struct {
	log  zerolog.Logger
	view render.TransformSource

	ready   bool
	width   int
	height  int
	dark    bool
	overlay render.Overlay

	nodes     map[string]*nodeElem
	nodeOrder []string
	links     map[string]*linkElem
	linkOrder []string
	nodeDiff  Diff
	linkDiff  Diff
	selected  string
	bindings  int

	gestures *render.NodeGestures
	onFrame  []func(render.Stats)
	stats    render.Stats
}

func New(log zerolog.Logger, view render.TransformSource) *Backend {
	return &Backend{
		log:      log.With().Str("component", "render.vector").Logger(),
		view:     view,
		nodes:    map[string]*nodeElem{},
		links:    map[string]*linkElem{},
		gestures: render.NewNodeGestures(view),
	}
}

func (b *Backend) Name() string { return "vector" }

func (b *Backend) ContentType() string { return "image/svg+xml" }

func (b *Backend) Initialize(surface viewport.Container, width, height int) error {
	if surface == nil {
		return render.ErrNoSurface
	}
	if width <= 0 || height <= 0 {
		width, height = surface.Size()
	}
	b.width, b.height = b.sanitize(width, height)
	b.ready = true
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

func (b *Backend) Resize(width, height int) {
	b.width, b.height = b.sanitize(width, height)
	b.UpdatePositions()
}

func (b *Backend) SetDarkMode(dark bool) {
	if b.dark == dark {
		return
	}
	b.dark = dark
	for _, e := range b.nodes {
		e.fill = b.fill(e.node)
	}
	for _, e := range b.links {
		e.stroke = render.LinkColor(linkStatus(e.link), b.dark)
	}
}

func (b *Backend) ElementColor(t model.ElementType, s model.ElementStatus) string {
	return render.ElementColor(t, s)
}

func (b *Backend) fill(n *scene.RenderNode) string {
	return render.Themed(render.NodeColor(n.Type(), n.Status(), n.IsCluster()), b.dark)
}

// UpdateNodes diffs nodes against the current scene graph by id.
func (b *Backend) UpdateNodes(nodes []*scene.RenderNode) {
	diff := Diff{}
	seen := make(map[string]bool, len(nodes))
	order := make([]string, 0, len(nodes))

	for _, n := range nodes {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		order = append(order, n.ID)

		if e, ok := b.nodes[n.ID]; ok {
			e.node = n
			e.fill = b.fill(n)
			e.radius = render.NodeRadius(n)
			e.label = n.Label
			diff.Update = append(diff.Update, n.ID)
			continue
		}
		b.nodes[n.ID] = &nodeElem{
			node:   n,
			fill:   b.fill(n),
			radius: render.NodeRadius(n),
			label:  n.Label,
			bound:  true,
		}
		b.bindings++
		diff.Enter = append(diff.Enter, n.ID)
	}

	for _, id := range b.nodeOrder {
		if seen[id] {
			continue
		}
		b.removeNode(id)
		diff.Exit = append(diff.Exit, id)
	}

	b.nodeOrder = order
	b.nodeDiff = diff
	b.stats.Nodes = len(order)
	b.project()
}

func (b *Backend) removeNode(id string) {
	e, ok := b.nodes[id]
	if !ok {
		return
	}
	if e.bound {
		e.bound = false
		b.bindings--
	}
	if b.gestures.Active() == id {
		b.gestures.Cancel()
	}
	delete(b.nodes, id)
}

func linkStatus(l *scene.RenderLink) model.ElementStatus {
	if l.Connection == nil {
		return ""
	}
	return l.Connection.Status
}

func linkWidth(l *scene.RenderLink) float64 {
	if l.Connection == nil {
		return 1
	}
	switch l.Connection.Type {
	case model.ConnectionFiber, model.ConnectionCopper:
		return 2
	default:
		return 1
	}
}

func (b *Backend) UpdateLinks(links []*scene.RenderLink) {
	diff := Diff{}
	seen := make(map[string]bool, len(links))
	order := make([]string, 0, len(links))

	for _, l := range links {
		if seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		order = append(order, l.ID)

		if e, ok := b.links[l.ID]; ok {
			e.link = l
			e.stroke = render.LinkColor(linkStatus(l), b.dark)
			e.width = linkWidth(l)
			diff.Update = append(diff.Update, l.ID)
			continue
		}
		b.links[l.ID] = &linkElem{
			link:   l,
			stroke: render.LinkColor(linkStatus(l), b.dark),
			width:  linkWidth(l),
		}
		diff.Enter = append(diff.Enter, l.ID)
	}
	for _, id := range b.linkOrder {
		if !seen[id] {
			delete(b.links, id)
			diff.Exit = append(diff.Exit, id)
		}
	}
	b.linkOrder = order
	b.linkDiff = diff
	b.stats.Links = len(order)
}

// LastDiff returns the node diff of the most recent UpdateNodes.
func (b *Backend) LastDiff() Diff { return b.nodeDiff }

func (b *Backend) LastLinkDiff() Diff { return b.linkDiff }

// BindingCount is the number of nodes with pointer bindings installed.
func (b *Backend) BindingCount() int { return b.bindings }

// UpdatePositions re-projects every node through the current transform and counts a frame.
func (b *Backend) UpdatePositions() {
	start := time.Now()
	b.project()
	b.stats.Frames++
	b.stats.Drawn = len(b.nodeOrder)
	b.stats.RenderMillis = float64(time.Since(start).Microseconds()) / 1000

	stats := b.stats
	for _, fn := range b.onFrame {
		fn(stats)
	}
}

func (b *Backend) project() {
	t := b.view.Transform()
	for _, id := range b.nodeOrder {
		e := b.nodes[id]
		e.sx, e.sy = t.Apply(e.node.X, e.node.Y)
	}
}

func (b *Backend) HighlightSelected(id string) {
	b.selected = id
}

func (b *Backend) Selected() string { return b.selected }

func (b *Backend) Clear() {
	exit := make([]string, 0, len(b.nodeOrder))
	for _, id := range b.nodeOrder {
		b.removeNode(id)
		exit = append(exit, id)
	}
	b.nodeOrder = nil
	b.links = map[string]*linkElem{}
	b.linkOrder = nil
	b.nodeDiff = Diff{Exit: exit}
	b.linkDiff = Diff{}
	b.selected = ""
	b.overlay = render.Overlay{}
	b.stats.Nodes, b.stats.Links, b.stats.Drawn = 0, 0, 0
}

func (b *Backend) Close() {
	b.Clear()
	b.onFrame = nil
	b.gestures.SetDragger(nil)
	b.gestures.SetClick(nil)
	b.ready = false
}

func (b *Backend) SetDragger(d render.Dragger) { b.gestures.SetDragger(d) }

func (b *Backend) SetNodeClick(fn func(id string)) { b.gestures.SetClick(fn) }

func (b *Backend) SetOverlay(o render.Overlay) { b.overlay = o }

func (b *Backend) OnFrame(fn func(render.Stats)) { b.onFrame = append(b.onFrame, fn) }

func (b *Backend) Pointer(ev render.PointerEvent) bool {
	return b.gestures.Handle(ev, func(id string) bool {
		e, ok := b.nodes[id]
		return ok && e.bound
	})
}

// NodeAt returns the top-most node whose marker covers (x, y).
func (b *Backend) NodeAt(x, y float64) (string, bool) {
	t := b.view.Transform()
	for i := len(b.nodeOrder) - 1; i >= 0; i-- {
		e := b.nodes[b.nodeOrder[i]]
		sx, sy := t.Apply(e.node.X, e.node.Y)
		if math.Hypot(x-sx, y-sy) <= e.radius {
			return e.node.ID, true
		}
	}
	return "", false
}

func (b *Backend) ScreenNodes() []render.ScreenNode {
	t := b.view.Transform()
	out := make([]render.ScreenNode, 0, len(b.nodeOrder))
	for _, id := range b.nodeOrder {
		e := b.nodes[id]
		sx, sy := t.Apply(e.node.X, e.node.Y)
		out = append(out, render.ScreenNode{ID: id, X: sx, Y: sy, Radius: e.radius})
	}
	return out
}

func (b *Backend) Stats() render.Stats { return b.stats }

func f(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Render writes the scene as an SVG document. World geometry sits under one group carrying the
// viewport transform; overlays are in screen space.
func (b *Backend) Render(w io.Writer) error {
	if !b.ready {
		return render.ErrNoSurface
	}
	t := b.view.Transform()
	k := t.K
	if k <= 0 {
		k = 1
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+"\n",
		b.width, b.height, b.width, b.height)
	fmt.Fprintf(&sb, `<rect width="100%%" height="100%%" fill="%s"/>`+"\n", render.Background(b.dark))
	fmt.Fprintf(&sb, `<g class="viewport" transform="translate(%s,%s) scale(%s)">`+"\n", f(t.X), f(t.Y), f(k))

	sb.WriteString(`<g class="links">` + "\n")
	for _, id := range b.linkOrder {
		e := b.links[id]
		l := e.link
		if l.Source == nil || l.Target == nil {
			continue
		}
		fmt.Fprintf(&sb, `<line data-id="%s" x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s" stroke-width="%s"/>`+"\n",
			html.EscapeString(id), f(l.Source.X), f(l.Source.Y), f(l.Target.X), f(l.Target.Y), e.stroke, f(e.width/k))
	}
	sb.WriteString("</g>\n")

	sb.WriteString(`<g class="nodes">` + "\n")
	labelColor := render.LabelColor(b.dark)
	for _, id := range b.nodeOrder {
		e := b.nodes[id]
		stroke, sw := "none", 0.0
		if id == b.selected {
			stroke, sw = render.HighlightColor, 3
		}
		class := "node"
		if e.node.Preview {
			class += " preview"
		}
		if e.node.IsCluster() {
			class += " cluster"
		}
		fmt.Fprintf(&sb, `<g class="%s" data-id="%s" transform="translate(%s,%s)">`,
			class, html.EscapeString(id), f(e.node.X), f(e.node.Y))
		fmt.Fprintf(&sb, `<circle r="%s" fill="%s" stroke="%s" stroke-width="%s"/>`,
			f(e.radius/k), e.fill, stroke, f(sw/k))
		if e.label != "" {
			fmt.Fprintf(&sb, `<text y="%s" font-size="%s" text-anchor="middle" fill="%s">%s</text>`,
				f((e.radius+12)/k), f(11/k), labelColor, html.EscapeString(e.label))
		}
		sb.WriteString("</g>\n")
	}
	sb.WriteString("</g>\n</g>\n")

	b.writeOverlay(&sb)
	sb.WriteString("</svg>\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func (b *Backend) writeOverlay(sb *strings.Builder) {
	o := b.overlay
	if len(o.Measure) > 0 {
		sb.WriteString(`<g class="measurement">`)
		for _, p := range o.Measure {
			fmt.Fprintf(sb, `<circle cx="%s" cy="%s" r="4" fill="#ef4444"/>`, f(p.X), f(p.Y))
		}
		if len(o.Measure) == 2 {
			a, c := o.Measure[0], o.Measure[1]
			fmt.Fprintf(sb, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="#ef4444" stroke-dasharray="4 2"/>`,
				f(a.X), f(a.Y), f(c.X), f(c.Y))
			if o.MeasureText != "" {
				fmt.Fprintf(sb, `<text x="%s" y="%s" fill="#ef4444">%s</text>`,
					f((a.X+c.X)/2), f((a.Y+c.Y)/2-6), html.EscapeString(o.MeasureText))
			}
		}
		sb.WriteString("</g>\n")
	}
	if o.Rect != nil {
		display := "none"
		if o.RectVisible {
			display = "inline"
		}
		fmt.Fprintf(sb, `<rect class="selection" x="%s" y="%s" width="%s" height="%s" fill="#3b82f6" fill-opacity="0.1" stroke="#3b82f6" display="%s"/>`+"\n",
			f(o.Rect.X), f(o.Rect.Y), f(o.Rect.Width), f(o.Rect.Height), display)
	}
}
