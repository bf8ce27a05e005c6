package model

import "strings"

type ElementType string

const (
	ElementTerminal          ElementType = "terminal"
	ElementSplitter          ElementType = "splitter"
	ElementAmplifier         ElementType = "amplifier"
	ElementSplicePoint       ElementType = "splice_point"
	ElementDistributionPoint ElementType = "distribution_point"
	ElementOLT               ElementType = "olt"
	ElementONT               ElementType = "ont"
	ElementCabinet           ElementType = "cabinet"
	ElementPole              ElementType = "pole"
	ElementManhole           ElementType = "manhole"
	ElementUnknown           ElementType = "unknown"
)

var allElementTypes = []ElementType{
	ElementTerminal,
	ElementSplitter,
	ElementAmplifier,
	ElementSplicePoint,
	ElementDistributionPoint,
	ElementOLT,
	ElementONT,
	ElementCabinet,
	ElementPole,
	ElementManhole,
}

// AllElementTypes returns the known element categories in a stable order.
func AllElementTypes() []ElementType {
	out := make([]ElementType, len(allElementTypes))
	copy(out, allElementTypes)
	return out
}

type ElementStatus string

const (
	StatusActive      ElementStatus = "active"
	StatusInactive    ElementStatus = "inactive"
	StatusFault       ElementStatus = "fault"
	StatusMaintenance ElementStatus = "maintenance"
	StatusPlanned     ElementStatus = "planned"
	StatusUnknown     ElementStatus = "unknown"
)

// GeoPosition is a WGS84 coordinate. Alt is metres above sea level when known.
type GeoPosition struct {
	Lat float64  `json:"lat"`
	Lng float64  `json:"lng"`
	Alt *float64 `json:"alt,omitempty"`
}

// NetworkElement is owned by the element repository. The map engine reads it and never
// mutates it; render state lives on scene.RenderNode.
type NetworkElement struct {
	ID          string         `json:"id"`
	Type        ElementType    `json:"type"`
	Status      ElementStatus  `json:"status"`
	Position    *GeoPosition   `json:"position,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
}

// HasPosition reports whether the element carries fixed coordinates.
func (e NetworkElement) HasPosition() bool {
	return e.Position != nil
}

// ParseElementType maps free-form type names onto the known categories.
// Unrecognised input yields ElementUnknown.
func ParseElementType(raw string) ElementType {
	s := normalizeEnum(raw)
	switch s {
	case "terminal", "terminal_box":
		return ElementTerminal
	case "splitter":
		return ElementSplitter
	case "amplifier", "amp":
		return ElementAmplifier
	case "splice_point", "splice", "splice_closure":
		return ElementSplicePoint
	case "distribution_point", "dp":
		return ElementDistributionPoint
	case "olt":
		return ElementOLT
	case "ont", "onu":
		return ElementONT
	case "cabinet":
		return ElementCabinet
	case "pole":
		return ElementPole
	case "manhole":
		return ElementManhole
	default:
		return ElementUnknown
	}
}

// ParseElementStatus canonicalises status names. "failed" and "degraded" are accepted
// as aliases for fault and maintenance.
func ParseElementStatus(raw string) ElementStatus {
	switch normalizeEnum(raw) {
	case "active", "up", "online":
		return StatusActive
	case "inactive", "down", "offline":
		return StatusInactive
	case "fault", "failed", "error":
		return StatusFault
	case "maintenance", "degraded":
		return StatusMaintenance
	case "planned":
		return StatusPlanned
	default:
		return StatusUnknown
	}
}

func normalizeEnum(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
