package scene

import (
	"testing"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/model"
)

type fakeProjector struct {
	fn func(lat, lng float64) (float64, float64)
}

func (f fakeProjector) GeoToWorld(lat, lng float64) (float64, float64) {
	return f.fn(lat, lng)
}

func strPtr(s string) *string { return &s }

func identityProjector() fakeProjector {
	return fakeProjector{fn: func(lat, lng float64) (float64, float64) { return lng, lat }}
}

func TestNodes_GeoPositionedArePinned(t *testing.T) {
	a := NewAdapter(zerolog.Nop(), identityProjector())
	nodes := a.Nodes([]model.NetworkElement{
		{ID: "a", Type: model.ElementSplitter, Position: &model.GeoPosition{Lat: 2, Lng: 1}},
		{ID: "b", Type: model.ElementOLT},
	})

	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if !nodes[0].Pinned() || nodes[0].X != 1 || nodes[0].Y != 2 {
		t.Fatalf("expected node a pinned at (1,2), got pinned=%v (%v,%v)", nodes[0].Pinned(), nodes[0].X, nodes[0].Y)
	}
	if nodes[1].Pinned() {
		t.Fatalf("expected unpositioned node to be free")
	}
}

func TestNodes_DeclutterLeavesNodesFree(t *testing.T) {
	a := NewAdapter(zerolog.Nop(), identityProjector())
	a.Declutter = true
	nodes := a.Nodes([]model.NetworkElement{{ID: "a", Position: &model.GeoPosition{Lat: 2, Lng: 1}}})
	if nodes[0].Pinned() {
		t.Fatalf("expected declutter to leave node unpinned")
	}
	if nodes[0].X != 1 || nodes[0].Y != 2 {
		t.Fatalf("expected projected start position, got (%v,%v)", nodes[0].X, nodes[0].Y)
	}
}

func TestNodes_DoesNotMutateElement(t *testing.T) {
	a := NewAdapter(zerolog.Nop(), identityProjector())
	elements := []model.NetworkElement{{ID: "spl-1", Type: model.ElementUnknown, Name: strPtr("SPL 1:8")}}
	nodes := a.Nodes(elements)

	if elements[0].Type != model.ElementUnknown {
		t.Fatalf("expected source element untouched, got type %q", elements[0].Type)
	}
	if nodes[0].Type() != model.ElementSplitter {
		t.Fatalf("expected inferred splitter type, got %q", nodes[0].Type())
	}

	nodes[0].Pin(5, 5)
	if elements[0].Position != nil {
		t.Fatalf("expected pin to stay on the render node")
	}
}

func TestLinks_DropsUnresolvedEndpoints(t *testing.T) {
	a := NewAdapter(zerolog.Nop(), identityProjector())
	nodes := a.Nodes([]model.NetworkElement{{ID: "a"}, {ID: "b"}})
	links := a.Links([]model.NetworkConnection{
		{ID: "c1", SourceID: "a", TargetID: "b", Type: model.ConnectionFiber},
		{ID: "c2", SourceID: "a", TargetID: "ghost", Type: model.ConnectionCopper},
	}, nodes)

	if len(links) != 1 || links[0].ID != "c1" {
		t.Fatalf("expected only c1, got %+v", links)
	}
	if links[0].Source != nodes[0] || links[0].Target != nodes[1] {
		t.Fatalf("expected endpoints resolved to node pointers")
	}
	if links[0].Strength != 0.9 {
		t.Fatalf("expected fiber strength 0.9, got %v", links[0].Strength)
	}
	if a.Dropped() != 1 {
		t.Fatalf("expected 1 dropped link, got %d", a.Dropped())
	}
}

func TestLinks_WeightNeverExceedsTypeStrength(t *testing.T) {
	a := NewAdapter(zerolog.Nop(), identityProjector())
	nodes := a.Nodes([]model.NetworkElement{{ID: "a"}, {ID: "b"}})
	heavy, light := 50.0, 0.5
	links := a.Links([]model.NetworkConnection{
		{ID: "heavy", SourceID: "a", TargetID: "b", Type: model.ConnectionFiber, Weight: &heavy},
		{ID: "light", SourceID: "a", TargetID: "b", Type: model.ConnectionFiber, Weight: &light},
	}, nodes)

	if links[0].Strength != 0.9 {
		t.Fatalf("expected heavy link capped at fiber strength 0.9, got %v", links[0].Strength)
	}
	if links[1].Strength != 0.45 {
		t.Fatalf("expected light link at 0.45, got %v", links[1].Strength)
	}
}

func TestLinkStrength_PhysicalBeatsLogical(t *testing.T) {
	if LinkStrength(model.ConnectionCopper) <= LinkStrength(model.ConnectionLogical) {
		t.Fatalf("expected copper to pull harder than logical")
	}
	if LinkStrength(model.ConnectionType("laser")) != 0.5 {
		t.Fatalf("expected default strength 0.5")
	}
}

func TestPinUnpin(t *testing.T) {
	n := &RenderNode{ID: "x", VX: 3, VY: 4}
	n.Pin(10, 20)
	if !n.Pinned() || n.X != 10 || n.Y != 20 || n.VX != 0 || n.VY != 0 {
		t.Fatalf("unexpected pinned state: %+v", n)
	}
	n.Unpin()
	if n.Pinned() {
		t.Fatalf("expected unpinned")
	}
	if n.X != 10 || n.Y != 20 {
		t.Fatalf("expected unpin to keep position")
	}
}

func TestElementLabel(t *testing.T) {
	e := &model.NetworkElement{
		ID:       "el-42",
		Name:     strPtr("  Main   Cabinet "),
		Metadata: map[string]any{"hostname": "cab-01.net.example."},
	}
	if got := ElementLabel(e); got != "Main Cabinet" {
		t.Fatalf("expected name to win, got %q", got)
	}

	e.Name = strPtr("unknown")
	if got := ElementLabel(e); got != "cab-01" {
		t.Fatalf("expected hostname head label, got %q", got)
	}

	e.Metadata = nil
	if got := ElementLabel(e); got != "el-42" {
		t.Fatalf("expected id fallback, got %q", got)
	}
}
