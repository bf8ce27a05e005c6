// Package render defines the contract shared by the rendering backends and the colour rules
// both of them use.
package render

import (
	"errors"
	"io"

	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/viewport"
)

var ErrNoSurface = errors.New("render: surface is missing")

// ScreenNode is a rendered node in screen coordinates.
type ScreenNode struct {
	ID     string
	X, Y   float64
	Radius float64
}

// Stats describes the last frame.
type Stats struct {
	Frames       int64   `json:"frames"`
	Nodes        int     `json:"nodes"`
	Links        int     `json:"links"`
	Drawn        int     `json:"drawn"`
	Culled       int     `json:"culled"`
	Skipped      int     `json:"skipped"`
	Batches      int     `json:"batches"`
	RenderMillis float64 `json:"render_ms"`
}

// Backend is implemented by the vector and batch renderers. Node and link slices belong to the
// backend from UpdateNodes/UpdateLinks until the next update.
type Backend interface {
	Name() string
	Initialize(surface viewport.Container, width, height int) error
	UpdateNodes(nodes []*scene.RenderNode)
	UpdateLinks(links []*scene.RenderLink)
	// UpdatePositions is called after every layout tick.
	UpdatePositions()
	// HighlightSelected marks one node as selected; an empty id clears the highlight.
	HighlightSelected(id string)
	ElementColor(t model.ElementType, s model.ElementStatus) string
	Clear()
	Resize(width, height int)
	SetDarkMode(dark bool)

	// Pointer offers a pointer event to the node bindings and reports whether it was consumed.
	Pointer(ev PointerEvent) bool
	SetDragger(d Dragger)
	SetNodeClick(fn func(id string))
	SetOverlay(o Overlay)
	// OnFrame registers fn to run after every drawn frame.
	OnFrame(fn func(Stats))

	// Render writes the current frame.
	Render(w io.Writer) error
	ContentType() string
	NodeAt(x, y float64) (string, bool)
	ScreenNodes() []ScreenNode
	Stats() Stats
	Close()
}

// TransformSource is the viewport transform owner; backends read the transform on every frame
// instead of keeping a copy.
type TransformSource interface {
	Transform() viewport.Transform
}

// NodeRadius is the base marker radius in pixels for a node.
func NodeRadius(n *scene.RenderNode) float64 {
	if n.IsCluster() {
		r := 10 + 2*float64(len(n.Members))
		return min(r, 40)
	}
	return 8
}
