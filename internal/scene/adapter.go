package scene

import (
	"math"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/model"
)

// Projector maps geographic coordinates into world units. viewport.Manager implements it.
type Projector interface {
	GeoToWorld(lat, lng float64) (float64, float64)
}

type Adapter struct {
	log  zerolog.Logger
	proj Projector

	// Declutter leaves geo-positioned nodes unpinned so the layout can spread them.
	Declutter bool
	// InferTypes replaces unknown element types with the best name-based guess.
	InferTypes bool

	dropped int
}

func NewAdapter(log zerolog.Logger, proj Projector) *Adapter {
	return &Adapter{
		log:        log.With().Str("component", "scene").Logger(),
		proj:       proj,
		InferTypes: true,
	}
}

// Nodes builds fresh render nodes for elements. Elements are never modified; when a type is
// inferred the node points at a copy.
func (a *Adapter) Nodes(elements []model.NetworkElement) []*RenderNode {
	out := make([]*RenderNode, 0, len(elements))
	for i := range elements {
		out = append(out, a.Node(elements[i]))
	}
	return out
}

func (a *Adapter) Node(e model.NetworkElement) *RenderNode {
	el := e
	if a.InferTypes && (el.Type == model.ElementUnknown || el.Type == "") {
		if t, ok := model.InferElementType(inferenceNames(&el)...); ok {
			el.Type = t
		}
	}

	n := &RenderNode{
		ID:      el.ID,
		Element: &el,
		Label:   ElementLabel(&el),
	}
	if el.Position != nil && a.proj != nil {
		x, y := a.proj.GeoToWorld(el.Position.Lat, el.Position.Lng)
		n.X, n.Y = x, y
		if !a.Declutter {
			n.Pin(x, y)
		}
	}
	return n
}

func inferenceNames(e *model.NetworkElement) []string {
	var names []string
	if e.Name != nil {
		names = append(names, *e.Name)
	}
	if e.Description != nil {
		names = append(names, *e.Description)
	}
	for _, key := range []string{"label", "model", "kind", "hostname"} {
		if v, ok := e.Metadata[key].(string); ok {
			names = append(names, v)
		}
	}
	return append(names, e.ID)
}

// Links resolves connection endpoints against nodes. Connections with a missing endpoint are
// dropped and logged; the rest of the scene still renders.
func (a *Adapter) Links(connections []model.NetworkConnection, nodes []*RenderNode) []*RenderLink {
	index := Index(nodes)
	out := make([]*RenderLink, 0, len(connections))
	for i := range connections {
		c := connections[i]
		src, okSrc := index[c.SourceID]
		dst, okDst := index[c.TargetID]
		if !okSrc || !okDst {
			missing := c.TargetID
			if !okSrc {
				missing = c.SourceID
			}
			a.dropped++
			a.log.Warn().
				Str("connection_id", c.ID).
				Str("missing_endpoint", missing).
				Msg("dropping connection with unresolved endpoint")
			continue
		}

		strength := LinkStrength(c.Type)
		if c.Weight != nil && *c.Weight > 0 {
			// Weights only soften a link; the type strength is the ceiling.
			strength *= math.Min(1, *c.Weight)
		}
		out = append(out, &RenderLink{
			ID:         c.ID,
			Connection: &c,
			Source:     src,
			Target:     dst,
			SourceID:   c.SourceID,
			TargetID:   c.TargetID,
			Strength:   strength,
		})
	}
	return out
}

// Dropped returns how many links have been dropped since the adapter was created.
func (a *Adapter) Dropped() int {
	return a.dropped
}
