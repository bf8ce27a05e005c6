package layout

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/scheduler"
)

func newSim(t *testing.T) (*Simulation, *scheduler.Manual) {
	t.Helper()
	clock := scheduler.NewManual(time.Time{})
	return NewSimulation(zerolog.Nop(), clock, Options{}), clock
}

func link(id string, a, b *scene.RenderNode, typ model.ConnectionType) *scene.RenderLink {
	return &scene.RenderLink{ID: id, Source: a, Target: b, SourceID: a.ID, TargetID: b.ID, Strength: scene.LinkStrength(typ)}
}

func dist(a, b *scene.RenderNode) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func TestSetGraph_SeedsUnplacedNodesDistinctly(t *testing.T) {
	sim, _ := newSim(t)
	nodes := []*scene.RenderNode{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	sim.SetGraph(nodes, nil)

	seen := map[[2]float64]bool{}
	for _, n := range nodes {
		key := [2]float64{n.X, n.Y}
		if seen[key] {
			t.Fatalf("expected distinct seed positions, got duplicate %v", key)
		}
		seen[key] = true
	}
}

func TestTick_RepulsionSeparatesNodes(t *testing.T) {
	sim, _ := newSim(t)
	a := &scene.RenderNode{ID: "a", X: 0, Y: 0}
	b := &scene.RenderNode{ID: "b", X: 1, Y: 1}
	sim.SetGraph([]*scene.RenderNode{a, b}, nil)

	before := dist(a, b)
	for i := 0; i < 20; i++ {
		sim.Tick()
	}
	if dist(a, b) <= before {
		t.Fatalf("expected repulsion to separate nodes, before=%v after=%v", before, dist(a, b))
	}
}

func TestTick_LinkPullsTowardTargetDistance(t *testing.T) {
	sim, _ := newSim(t)
	a := &scene.RenderNode{ID: "a", X: -400, Y: 0}
	b := &scene.RenderNode{ID: "b", X: 400, Y: 0}
	sim.SetGraph([]*scene.RenderNode{a, b}, []*scene.RenderLink{link("l", a, b, model.ConnectionCopper)})

	for i := 0; i < 300; i++ {
		sim.Tick()
	}
	if d := dist(a, b); d >= 800 || d < 50 {
		t.Fatalf("expected linked nodes to settle near link distance, got %v", d)
	}
}

func TestTick_StrongLinkStillConverges(t *testing.T) {
	sim, _ := newSim(t)
	a := &scene.RenderNode{ID: "a", X: -1000, Y: 300}
	b := &scene.RenderNode{ID: "b", X: 1000, Y: -300}
	l := link("l", a, b, model.ConnectionFiber)
	l.Strength = 45
	sim.SetGraph([]*scene.RenderNode{a, b}, []*scene.RenderLink{l})

	for i := 0; i < 300; i++ {
		sim.Tick()
		if d := dist(a, b); math.IsNaN(d) || d > 5000 {
			t.Fatalf("tick %d: expected bounded distance, got %v", i, d)
		}
	}
	want := sim.Options().LinkDistance
	if d := dist(a, b); d < want/2 || d > 3*want {
		t.Fatalf("expected distance near %v, got %v", want, d)
	}
}

func TestClampStrength(t *testing.T) {
	cases := map[float64]float64{-1: 0, 0: 0, 0.4: 0.4, 1: 1, 45: 1, math.NaN(): 0}
	for in, want := range cases {
		if got := clampStrength(in); got != want {
			t.Fatalf("clampStrength(%v): expected %v, got %v", in, want, got)
		}
	}
}

func TestTick_PinnedNodesStayPut(t *testing.T) {
	sim, _ := newSim(t)
	anchor := &scene.RenderNode{ID: "anchor"}
	anchor.Pin(50, 50)
	free := &scene.RenderNode{ID: "free", X: 51, Y: 50}
	sim.SetGraph([]*scene.RenderNode{anchor, free}, []*scene.RenderLink{link("l", anchor, free, model.ConnectionFiber)})

	for i := 0; i < 50; i++ {
		sim.Tick()
	}
	if anchor.X != 50 || anchor.Y != 50 || anchor.VX != 0 || anchor.VY != 0 {
		t.Fatalf("expected pinned node fixed at (50,50), got (%v,%v) v=(%v,%v)", anchor.X, anchor.Y, anchor.VX, anchor.VY)
	}
	if free.X == 51 && free.Y == 50 {
		t.Fatalf("expected free node to move")
	}
}

func TestStartStop_TicksInOrderOnScheduler(t *testing.T) {
	sim, clock := newSim(t)
	sim.SetGraph([]*scene.RenderNode{{ID: "a"}, {ID: "b"}}, nil)

	var ticks []int
	sim.OnTick(func(tick int) { ticks = append(ticks, tick) })

	sim.Start()
	sim.Start()
	clock.Advance(5 * 16 * time.Millisecond)

	if len(ticks) != 5 {
		t.Fatalf("expected 5 ticks, got %d", len(ticks))
	}
	for i, tick := range ticks {
		if tick != i+1 {
			t.Fatalf("expected ticks in order, got %v", ticks)
		}
	}

	sim.Stop()
	clock.Advance(time.Second)
	if len(ticks) != 5 {
		t.Fatalf("expected no ticks after stop, got %d", len(ticks))
	}
	if sim.Running() {
		t.Fatalf("expected stopped")
	}
}

func TestSimulation_CoolsDownAndRestarts(t *testing.T) {
	sim, clock := newSim(t)
	sim.SetGraph([]*scene.RenderNode{{ID: "a"}}, nil)
	sim.Start()
	clock.Advance(400 * 16 * time.Millisecond)

	if sim.Running() {
		t.Fatalf("expected simulation to settle, alpha=%v", sim.Alpha())
	}

	sim.Restart(0)
	if !sim.Running() || sim.Alpha() < 0.3 {
		t.Fatalf("expected restart to reheat to 0.3, running=%v alpha=%v", sim.Running(), sim.Alpha())
	}
}

func TestDrag_ReleasesOnlyTemporaryPins(t *testing.T) {
	sim, _ := newSim(t)
	free := &scene.RenderNode{ID: "free", X: 1, Y: 1}
	fixed := &scene.RenderNode{ID: "fixed"}
	fixed.Pin(5, 5)
	sim.SetGraph([]*scene.RenderNode{free, fixed}, nil)

	sim.DragStart("free")
	if !free.Pinned() {
		t.Fatalf("expected drag to pin node")
	}
	sim.DragMove("free", 30, 40)
	if free.X != 30 || free.Y != 40 {
		t.Fatalf("expected node at drag position, got (%v,%v)", free.X, free.Y)
	}
	sim.DragEnd("free")
	if free.Pinned() {
		t.Fatalf("expected temporary pin released")
	}

	sim.DragStart("fixed")
	sim.DragMove("fixed", 9, 9)
	sim.DragEnd("fixed")
	if !fixed.Pinned() || *fixed.FX != 9 || *fixed.FY != 9 {
		t.Fatalf("expected persistent pin kept at drop position")
	}

	if sim.DragMove("fixed", 1, 1) {
		t.Fatalf("expected move without active drag to be ignored")
	}
	if sim.DragStart("missing") {
		t.Fatalf("expected unknown node drag to fail")
	}
}

func TestSetGraph_CarriesPositionsAcrossPasses(t *testing.T) {
	sim, _ := newSim(t)
	sim.SetGraph([]*scene.RenderNode{{ID: "a", X: 12, Y: 34}}, nil)

	fresh := &scene.RenderNode{ID: "a"}
	sim.SetGraph([]*scene.RenderNode{fresh}, nil)
	if fresh.X != 12 || fresh.Y != 34 {
		t.Fatalf("expected position carried over, got (%v,%v)", fresh.X, fresh.Y)
	}
}
