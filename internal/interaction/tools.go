package interaction

import (
	"strings"

	"fibermap/core-go/internal/render"
)

type Tool string

const (
	ToolPan        Tool = "pan"
	ToolSelect     Tool = "select"
	ToolMeasure    Tool = "measure"
	ToolAreaSelect Tool = "area-select"
)

// ParseTool resolves a tool name. ok is false for unknown names, which map to ToolPan.
func ParseTool(name string) (Tool, bool) {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "_", "-")
	switch s {
	case "pan":
		return ToolPan, true
	case "select":
		return ToolSelect, true
	case "measure":
		return ToolMeasure, true
	case "area-select", "areaselect", "area":
		return ToolAreaSelect, true
	default:
		return ToolPan, false
	}
}

// State is one tool mode. Enter installs the mode's bindings; Exit tears them down.
type State interface {
	Tool() Tool
	Cursor() string
	Enter(m *Machine)
	Exit(m *Machine)
}

type panState struct{}

func (panState) Tool() Tool       { return ToolPan }
func (panState) Cursor() string   { return "grab" }
func (panState) Enter(m *Machine) {}
func (panState) Exit(m *Machine)  {}

const (
	nsSelect  = "tool.select"
	nsMeasure = "tool.measure"
	nsArea    = "tool.area-select"
)

type selectState struct{}

func (selectState) Tool() Tool     { return ToolSelect }
func (selectState) Cursor() string { return "pointer" }

// Enter binds background clicks; clicks on nodes are left to the node bindings.
func (selectState) Enter(m *Machine) {
	m.bindings.Bind(nsSelect, Handlers{
		Click: func(ev render.PointerEvent) bool {
			if ev.Target != "" {
				return false
			}
			m.clearSelection()
			return true
		},
	})
}

func (selectState) Exit(m *Machine) { m.bindings.Unbind(nsSelect) }

type measureState struct{}

func (measureState) Tool() Tool     { return ToolMeasure }
func (measureState) Cursor() string { return "crosshair" }

func (measureState) Enter(m *Machine) {
	m.bindings.Bind(nsMeasure, Handlers{
		Click: func(ev render.PointerEvent) bool {
			m.addMeasurePoint(render.Point{X: ev.X, Y: ev.Y})
			return true
		},
	})
}

func (measureState) Exit(m *Machine) { m.bindings.Unbind(nsMeasure) }

type areaSelectState struct{}

func (areaSelectState) Tool() Tool     { return ToolAreaSelect }
func (areaSelectState) Cursor() string { return "crosshair" }

func (areaSelectState) Enter(m *Machine) {
	m.bindings.Bind(nsArea, Handlers{
		Down: func(ev render.PointerEvent) bool {
			m.areaStart(render.Point{X: ev.X, Y: ev.Y})
			return true
		},
		Move: func(ev render.PointerEvent) bool {
			return m.areaMove(render.Point{X: ev.X, Y: ev.Y})
		},
		Up: func(ev render.PointerEvent) bool {
			return m.areaEnd(render.Point{X: ev.X, Y: ev.Y})
		},
	})
}

func (areaSelectState) Exit(m *Machine) { m.bindings.Unbind(nsArea) }
