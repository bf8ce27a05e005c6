package engine

import (
	"fmt"

	"fibermap/core-go/internal/interaction"
	"fibermap/core-go/internal/render"
)

// panGesture tracks a background drag under the pan and select tools.
type panGesture struct {
	active bool
	x, y   float64
}

// SetTool switches the interaction mode. Unknown names fall back to pan and are reported.
func (e *Engine) SetTool(name string) (interaction.Tool, error) {
	if !e.initialized {
		return "", ErrNotInitialized
	}
	_, known := interaction.ParseTool(name)
	e.pan = panGesture{}
	tool := e.machine.SetTool(name)
	if !known {
		return tool, fmt.Errorf("unknown tool %q", name)
	}
	return tool, nil
}

func (e *Engine) CurrentTool() interaction.Tool {
	if !e.initialized {
		return interaction.ToolPan
	}
	return e.machine.Current()
}

func (e *Engine) ClearMeasurements() {
	if e.initialized {
		e.machine.ClearMeasurements()
	}
}

// Pointer routes one pointer event through the active tool, then the node gestures, then
// background panning. It reports whether anything consumed the event.
func (e *Engine) Pointer(ev render.PointerEvent) bool {
	if !e.initialized {
		return false
	}
	if ev.Target == "" && (ev.Kind == render.PointerDown || ev.Kind == render.PointerClick) {
		if id, ok := e.backend.NodeAt(ev.X, ev.Y); ok {
			ev.Target = id
		}
	}

	if e.machine.Dispatch(ev) {
		return true
	}
	if ev.Kind == render.PointerClick && ev.Target != "" {
		if _, ok := e.data.connection(ev.Target); ok {
			return e.SelectConnection(ev.Target) == nil
		}
	}
	if e.backend.Pointer(ev) {
		return true
	}
	return e.panPointer(ev)
}

func (e *Engine) panPointer(ev render.PointerEvent) bool {
	switch e.machine.Current() {
	case interaction.ToolPan, interaction.ToolSelect:
	default:
		return false
	}

	switch ev.Kind {
	case render.PointerDown:
		e.pan = panGesture{active: true, x: ev.X, y: ev.Y}
		return true
	case render.PointerMove:
		if !e.pan.active {
			return false
		}
		dx, dy := ev.X-e.pan.x, ev.Y-e.pan.y
		e.pan.x, e.pan.y = ev.X, ev.Y
		if dx != 0 || dy != 0 {
			e.view.PanBy(dx, dy)
		}
		return true
	case render.PointerUp:
		if !e.pan.active {
			return false
		}
		e.pan = panGesture{}
		return true
	}
	return false
}

// ZoomBy multiplies the current zoom by factor, keeping screen point (x, y) fixed.
func (e *Engine) ZoomBy(factor, x, y float64) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	if factor <= 0 {
		return fmt.Errorf("zoom factor must be positive, got %v", factor)
	}
	e.view.ZoomAt(e.view.CurrentZoom()*factor, x, y)
	return nil
}

// State summarizes the engine for status endpoints.
type State struct {
	Ready       bool             `json:"ready"`
	Zoom        float64          `json:"zoom"`
	Tool        interaction.Tool `json:"tool"`
	Backend     string           `json:"backend"`
	Elements    int              `json:"elements"`
	Previews    int              `json:"previews"`
	Connections int              `json:"connections"`
	Rendered    int              `json:"rendered"`
	Clusters    int              `json:"clusters"`
	Selected    string           `json:"selected,omitempty"`
}

func (e *Engine) State() State {
	s := State{
		Ready:       e.Ready(),
		Tool:        e.CurrentTool(),
		Elements:    len(e.data.elements),
		Previews:    len(e.data.previews),
		Connections: len(e.data.connections),
		Rendered:    len(e.scene.rendered),
		Clusters:    e.scene.clusterCount,
		Selected:    e.scene.selected,
	}
	if e.initialized {
		s.Zoom = e.view.CurrentZoom()
		s.Backend = e.backend.Name()
	}
	return s
}
