package batch

import (
	"bytes"
	"errors"
	"image/png"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/render"
	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/scheduler"
	"fibermap/core-go/internal/viewport"
)

type fixedView struct{ t viewport.Transform }

func (v *fixedView) Transform() viewport.Transform { return v.t }

func newBackend(t *testing.T, opts Options) (*Backend, *scheduler.Manual, *fixedView) {
	t.Helper()
	clock := scheduler.NewManual(time.Time{})
	view := &fixedView{t: viewport.Identity()}
	b := New(zerolog.Nop(), view, clock, opts)
	if err := b.Initialize(viewport.NewCanvas(200, 100), 0, 0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return b, clock, view
}

func node(id string, x, y float64, status model.ElementStatus) *scene.RenderNode {
	return &scene.RenderNode{
		ID:      id,
		Label:   id,
		X:       x,
		Y:       y,
		Element: &model.NetworkElement{ID: id, Type: model.ElementTerminal, Status: status},
	}
}

func TestInitialize_NilSurface(t *testing.T) {
	b := New(zerolog.Nop(), &fixedView{t: viewport.Identity()}, scheduler.NewManual(time.Time{}), Options{})
	if err := b.Initialize(nil, 0, 0); !errors.Is(err, render.ErrNoSurface) {
		t.Fatalf("expected ErrNoSurface, got %v", err)
	}
}

func TestFrameLoop_DrawsOnlyWhenDirty(t *testing.T) {
	b, clock, _ := newBackend(t, Options{})
	b.UpdateNodes([]*scene.RenderNode{node("a", 10, 10, model.StatusActive)})

	frames := 0
	b.OnFrame(func(render.Stats) { frames++ })
	clock.Advance(16 * time.Millisecond)
	clock.Advance(5 * 16 * time.Millisecond)
	if frames != 1 {
		t.Fatalf("expected one frame for one change, got %d", frames)
	}

	b.UpdatePositions()
	clock.Advance(16 * time.Millisecond)
	if frames != 2 {
		t.Fatalf("expected redraw after position update, got %d", frames)
	}

	b.Close()
	b.UpdatePositions()
	clock.Advance(time.Second)
	if frames != 2 {
		t.Fatalf("expected no frames after close, got %d", frames)
	}
}

func TestDraw_BatchesByColourAndCulls(t *testing.T) {
	b, clock, _ := newBackend(t, Options{})
	b.UpdateNodes([]*scene.RenderNode{
		node("a", 10, 10, model.StatusActive),
		node("b", 30, 10, model.StatusActive),
		node("c", 50, 10, model.StatusFault),
		node("off", 5000, 10, model.StatusActive),
	})
	clock.Advance(16 * time.Millisecond)

	s := b.Stats()
	if s.Drawn != 3 || s.Culled != 1 || s.Batches != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if got := b.Batches(); len(got) != 2 || got[0] != "#22c55e" || got[1] != "#ef4444" {
		t.Fatalf("unexpected batches %v", got)
	}
	if len(b.Labels()) != 3 {
		t.Fatalf("expected labels for drawn nodes, got %v", b.Labels())
	}
}

func TestDraw_BudgetSkipsExcess(t *testing.T) {
	b, clock, _ := newBackend(t, Options{MaxElementsPerFrame: 2, ClusterAbove: 100})
	b.UpdateNodes([]*scene.RenderNode{
		node("a", 10, 10, ""),
		node("b", 20, 10, ""),
		node("c", 30, 10, ""),
	})
	clock.Advance(16 * time.Millisecond)
	if s := b.Stats(); s.Drawn != 2 || s.Skipped != 1 {
		t.Fatalf("expected 2 drawn and 1 skipped, got %+v", s)
	}
}

func TestDraw_GroupsWhenCrowded(t *testing.T) {
	b, clock, _ := newBackend(t, Options{ClusterAbove: 3, ClusterCell: 40})
	var nodes []*scene.RenderNode
	for i := 0; i < 5; i++ {
		nodes = append(nodes, node("n"+strconv.Itoa(i), 5+float64(i), 5, model.StatusActive))
	}
	nodes = append(nodes, node("lone", 150, 50, model.StatusActive))
	b.UpdateNodes(nodes)
	clock.Advance(16 * time.Millisecond)

	if s := b.Stats(); s.Drawn != 2 {
		t.Fatalf("expected one group and one individual sprite, got %+v", s)
	}
}

func TestLabels_HiddenWhenZoomedOut(t *testing.T) {
	b, clock, view := newBackend(t, Options{})
	view.t = viewport.Transform{K: 0.2}
	b.UpdateNodes([]*scene.RenderNode{node("a", 10, 10, model.StatusActive)})
	clock.Advance(16 * time.Millisecond)
	if len(b.Labels()) != 0 {
		t.Fatalf("expected no labels below label zoom")
	}
}

func TestRender_WritesPNG(t *testing.T) {
	b, _, _ := newBackend(t, Options{})
	b.UpdateNodes([]*scene.RenderNode{node("a", 10, 10, model.StatusActive)})
	b.HighlightSelected("a")
	b.SetOverlay(render.Overlay{Rect: &render.Rect{X: 1, Y: 1, Width: 20, Height: 20}, RectVisible: true})

	var buf bytes.Buffer
	if err := b.Render(&buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 100 {
		t.Fatalf("unexpected image size %v", img.Bounds())
	}
}

func TestNodeAt(t *testing.T) {
	b, _, _ := newBackend(t, Options{})
	b.UpdateNodes([]*scene.RenderNode{node("a", 10, 10, model.StatusActive)})
	if id, ok := b.NodeAt(12, 12); !ok || id != "a" {
		t.Fatalf("expected hit on a")
	}
	if _, ok := b.NodeAt(100, 100); ok {
		t.Fatalf("expected miss")
	}
}
