package vector

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/render"
	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/viewport"
)

type fixedView struct{ t viewport.Transform }

func (v *fixedView) Transform() viewport.Transform { return v.t }

type recordingDragger struct {
	calls []string
}

func (d *recordingDragger) DragStart(id string) bool {
	d.calls = append(d.calls, "start:"+id)
	return true
}

func (d *recordingDragger) DragMove(id string, x, y float64) bool {
	d.calls = append(d.calls, "move:"+id)
	return true
}

func (d *recordingDragger) DragEnd(id string) bool {
	d.calls = append(d.calls, "end:"+id)
	return true
}

func newBackend(t *testing.T) (*Backend, *fixedView) {
	t.Helper()
	view := &fixedView{t: viewport.Identity()}
	b := New(zerolog.Nop(), view)
	if err := b.Initialize(viewport.NewCanvas(800, 600), 0, 0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return b, view
}

func nodes(ids ...string) []*scene.RenderNode {
	out := make([]*scene.RenderNode, 0, len(ids))
	for i, id := range ids {
		out = append(out, &scene.RenderNode{
			ID:      id,
			Label:   id,
			X:       float64(100 * (i + 1)),
			Y:       100,
			Element: &model.NetworkElement{ID: id, Type: model.ElementSplitter, Status: model.StatusActive},
		})
	}
	return out
}

func TestInitialize_NilSurface(t *testing.T) {
	b := New(zerolog.Nop(), &fixedView{t: viewport.Identity()})
	if err := b.Initialize(nil, 10, 10); !errors.Is(err, render.ErrNoSurface) {
		t.Fatalf("expected ErrNoSurface, got %v", err)
	}
}

func TestUpdateNodes_EnterUpdateExit(t *testing.T) {
	b, _ := newBackend(t)

	b.UpdateNodes(nodes("a", "b"))
	if d := b.LastDiff(); !reflect.DeepEqual(d.Enter, []string{"a", "b"}) || len(d.Update) != 0 || len(d.Exit) != 0 {
		t.Fatalf("unexpected first diff %+v", d)
	}

	b.UpdateNodes(nodes("b", "c"))
	d := b.LastDiff()
	if !reflect.DeepEqual(d.Enter, []string{"c"}) || !reflect.DeepEqual(d.Update, []string{"b"}) || !reflect.DeepEqual(d.Exit, []string{"a"}) {
		t.Fatalf("unexpected second diff %+v", d)
	}
	if b.BindingCount() != 2 {
		t.Fatalf("expected bindings to follow the node set, got %d", b.BindingCount())
	}
}

func TestUpdateLinks_Diff(t *testing.T) {
	b, _ := newBackend(t)
	ns := nodes("a", "b")
	b.UpdateNodes(ns)
	b.UpdateLinks([]*scene.RenderLink{{ID: "l1", Source: ns[0], Target: ns[1], SourceID: "a", TargetID: "b"}})
	b.UpdateLinks(nil)
	if d := b.LastLinkDiff(); !reflect.DeepEqual(d.Exit, []string{"l1"}) {
		t.Fatalf("expected l1 to exit, got %+v", d)
	}
}

func TestRender_SVGReflectsState(t *testing.T) {
	b, _ := newBackend(t)
	ns := nodes("a", "b")
	ns[1].Label = "<b>"
	b.UpdateNodes(ns)
	b.UpdateLinks([]*scene.RenderLink{{ID: "l1", Source: ns[0], Target: ns[1], SourceID: "a", TargetID: "b"}})
	b.HighlightSelected("a")
	b.SetOverlay(render.Overlay{Measure: []render.Point{{X: 0, Y: 0}, {X: 3, Y: 4}}, MeasureText: "5.0 px"})

	var buf bytes.Buffer
	if err := b.Render(&buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	svg := buf.String()
	for _, want := range []string{`data-id="a"`, `data-id="l1"`, render.HighlightColor, "&lt;b&gt;", "5.0 px", "#22c55e"} {
		if !strings.Contains(svg, want) {
			t.Fatalf("expected svg to contain %q", want)
		}
	}
}

func TestNodeAt_UsesCurrentTransform(t *testing.T) {
	b, view := newBackend(t)
	b.UpdateNodes(nodes("a"))

	if id, ok := b.NodeAt(102, 100); !ok || id != "a" {
		t.Fatalf("expected hit on a, got %q %v", id, ok)
	}
	view.t = viewport.Transform{K: 2, X: 10, Y: 0}
	if _, ok := b.NodeAt(102, 100); ok {
		t.Fatalf("expected miss after transform change")
	}
	if id, ok := b.NodeAt(210, 200); !ok || id != "a" {
		t.Fatalf("expected hit at transformed position")
	}
}

func TestPointer_DragRoutesToDragger(t *testing.T) {
	b, _ := newBackend(t)
	b.UpdateNodes(nodes("a"))
	d := &recordingDragger{}
	b.SetDragger(d)
	var clicked []string
	b.SetNodeClick(func(id string) { clicked = append(clicked, id) })

	b.Pointer(render.PointerEvent{Kind: render.PointerDown, X: 100, Y: 100, Target: "a"})
	b.Pointer(render.PointerEvent{Kind: render.PointerMove, X: 150, Y: 120})
	b.Pointer(render.PointerEvent{Kind: render.PointerUp, X: 150, Y: 120})

	if !reflect.DeepEqual(d.calls, []string{"start:a", "move:a", "end:a"}) {
		t.Fatalf("unexpected drag calls %v", d.calls)
	}
	if len(clicked) != 0 {
		t.Fatalf("expected drag not to count as click")
	}

	b.Pointer(render.PointerEvent{Kind: render.PointerDown, X: 100, Y: 100, Target: "a"})
	b.Pointer(render.PointerEvent{Kind: render.PointerUp, X: 101, Y: 100})
	if !reflect.DeepEqual(clicked, []string{"a"}) {
		t.Fatalf("expected click on a, got %v", clicked)
	}

	if b.Pointer(render.PointerEvent{Kind: render.PointerDown, X: 5, Y: 5}) {
		t.Fatalf("expected background pointer-down not consumed")
	}
}

func TestOnFrame_CalledPerPositionUpdate(t *testing.T) {
	b, _ := newBackend(t)
	b.UpdateNodes(nodes("a", "b"))
	frames := 0
	b.OnFrame(func(s render.Stats) {
		frames++
		if s.Drawn != 2 {
			t.Fatalf("expected 2 drawn, got %d", s.Drawn)
		}
	})
	b.UpdatePositions()
	b.UpdatePositions()
	if frames != 2 {
		t.Fatalf("expected 2 frames, got %d", frames)
	}
}

func TestClear_ExitsEverything(t *testing.T) {
	b, _ := newBackend(t)
	b.UpdateNodes(nodes("a", "b"))
	b.HighlightSelected("a")
	b.Clear()
	if len(b.LastDiff().Exit) != 2 || b.BindingCount() != 0 || b.Selected() != "" {
		t.Fatalf("expected clear to exit all nodes, diff=%+v", b.LastDiff())
	}
	if len(b.ScreenNodes()) != 0 {
		t.Fatalf("expected no screen nodes after clear")
	}
}

func TestElementColor_Stable(t *testing.T) {
	b, _ := newBackend(t)
	b.SetDarkMode(true)
	if b.ElementColor(model.ElementOLT, model.StatusFault) != "#ef4444" {
		t.Fatalf("expected status colour regardless of theme")
	}
}
