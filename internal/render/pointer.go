package render

import "math"

type PointerKind string

const (
	PointerDown  PointerKind = "down"
	PointerMove  PointerKind = "move"
	PointerUp    PointerKind = "up"
	PointerClick PointerKind = "click"
)

// PointerEvent is a pointer action in screen pixels. Target is the id of the node under the
// pointer, empty for the background.
type PointerEvent struct {
	Kind   PointerKind `json:"kind"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	Target string      `json:"target,omitempty"`
}

// Dragger receives node drag gestures in world units; layout.Simulation implements it.
type Dragger interface {
	DragStart(id string) bool
	DragMove(id string, x, y float64) bool
	DragEnd(id string) bool
}

// clickSlop is how far a pointer may travel between down and up and still count as a click.
const clickSlop = 3

// NodeGestures turns pointer events on nodes into drags and clicks. Both backends share it.
type NodeGestures struct {
	view    TransformSource
	dragger Dragger
	onClick func(id string)

	active   string
	startX   float64
	startY   float64
	dragging bool
}

func NewNodeGestures(view TransformSource) *NodeGestures {
	return &NodeGestures{view: view}
}

func (g *NodeGestures) SetDragger(d Dragger) { g.dragger = d }

func (g *NodeGestures) SetClick(fn func(id string)) { g.onClick = fn }

// Active returns the node currently under a pointer-down, if any.
func (g *NodeGestures) Active() string { return g.active }

// Handle routes ev for a bound node and reports whether it was consumed. bound says whether
// the target node has bindings installed.
func (g *NodeGestures) Handle(ev PointerEvent, bound func(id string) bool) bool {
	switch ev.Kind {
	case PointerDown:
		if ev.Target == "" || !bound(ev.Target) {
			return false
		}
		g.active = ev.Target
		g.startX, g.startY = ev.X, ev.Y
		g.dragging = false
		return true

	case PointerMove:
		if g.active == "" {
			return false
		}
		if !g.dragging && math.Hypot(ev.X-g.startX, ev.Y-g.startY) <= clickSlop {
			return true
		}
		if !g.dragging {
			g.dragging = true
			if g.dragger != nil {
				g.dragger.DragStart(g.active)
			}
		}
		if g.dragger != nil {
			wx, wy := g.view.Transform().Invert(ev.X, ev.Y)
			g.dragger.DragMove(g.active, wx, wy)
		}
		return true

	case PointerUp:
		if g.active == "" {
			return false
		}
		id := g.active
		g.active = ""
		if g.dragging {
			g.dragging = false
			if g.dragger != nil {
				g.dragger.DragEnd(id)
			}
			return true
		}
		if g.onClick != nil {
			g.onClick(id)
		}
		return true

	case PointerClick:
		if ev.Target == "" || !bound(ev.Target) {
			return false
		}
		if g.onClick != nil {
			g.onClick(ev.Target)
		}
		return true
	}
	return false
}

// Cancel abandons a gesture in progress, ending any drag.
func (g *NodeGestures) Cancel() {
	if g.active != "" && g.dragging && g.dragger != nil {
		g.dragger.DragEnd(g.active)
	}
	g.active = ""
	g.dragging = false
}

// Overlay holds interaction graphics drawn on top of the scene, in screen pixels.
type Overlay struct {
	Measure     []Point `json:"measure,omitempty"`
	MeasureText string  `json:"measure_text,omitempty"`
	Rect        *Rect   `json:"rect,omitempty"`
	RectVisible bool    `json:"rect_visible"`
	Cursor      string  `json:"cursor"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether (x, y) lies inside the rectangle, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}
