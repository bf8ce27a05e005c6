// Package scene converts domain elements and connections into render records that carry
// the mutable screen-space state the layout engine and the backends work on.
package scene

import "fibermap/core-go/internal/model"

// RenderNode wraps an element for one render pass. Positions are world units; the viewport
// transform maps them onto the screen.
type RenderNode struct {
	ID      string
	Element *model.NetworkElement
	Label   string

	X, Y   float64
	FX, FY *float64
	VX, VY float64

	// Preview marks elements that are placed on the map but not yet committed.
	Preview bool
	// Members is set when the node stands for a cluster of elements.
	Members []string
}

func (n *RenderNode) Pinned() bool {
	return n.FX != nil && n.FY != nil
}

func (n *RenderNode) Pin(x, y float64) {
	fx, fy := x, y
	n.FX, n.FY = &fx, &fy
	n.X, n.Y = x, y
	n.VX, n.VY = 0, 0
}

func (n *RenderNode) Unpin() {
	n.FX, n.FY = nil, nil
}

// IsCluster reports whether the node aggregates more than one element.
func (n *RenderNode) IsCluster() bool {
	return len(n.Members) > 1
}

func (n *RenderNode) Type() model.ElementType {
	if n.Element == nil {
		return model.ElementUnknown
	}
	return n.Element.Type
}

func (n *RenderNode) Status() model.ElementStatus {
	if n.Element == nil {
		return ""
	}
	return n.Element.Status
}

// RenderLink wraps a connection with its resolved endpoints.
type RenderLink struct {
	ID         string
	Connection *model.NetworkConnection
	Source     *RenderNode
	Target     *RenderNode
	SourceID   string
	TargetID   string
	Strength   float64
}

// LinkStrength is the layout attraction multiplier for a physical medium. Physical links
// pull harder than logical ones.
func LinkStrength(t model.ConnectionType) float64 {
	switch t {
	case model.ConnectionCopper:
		return 1.0
	case model.ConnectionFiber:
		return 0.9
	case model.ConnectionWireless:
		return 0.5
	case model.ConnectionLogical:
		return 0.2
	default:
		return 0.5
	}
}

// Index maps node ids to nodes.
func Index(nodes []*RenderNode) map[string]*RenderNode {
	out := make(map[string]*RenderNode, len(nodes))
	for _, n := range nodes {
		out[n.ID] = n
	}
	return out
}
