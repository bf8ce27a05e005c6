package render

import (
	"github.com/lucasb-eyer/go-colorful"

	"fibermap/core-go/internal/model"
)

// DefaultColor is used for unrecognised element types.
const DefaultColor = "#6366f1"

// ClusterColor fills aggregate markers.
const ClusterColor = "#0ea5e9"

var statusColors = map[model.ElementStatus]string{
	model.StatusActive:      "#22c55e",
	model.StatusInactive:    "#9ca3af",
	model.StatusFault:       "#ef4444",
	model.StatusMaintenance: "#f97316",
	model.StatusPlanned:     "#3b82f6",
}

var typeColors = map[model.ElementType]string{
	model.ElementTerminal:          "#14b8a6",
	model.ElementSplitter:          "#a855f7",
	model.ElementAmplifier:         "#eab308",
	model.ElementSplicePoint:       "#ec4899",
	model.ElementDistributionPoint: "#06b6d4",
	model.ElementOLT:               "#8b5cf6",
	model.ElementONT:               "#84cc16",
	model.ElementCabinet:           "#78716c",
	model.ElementPole:              "#a16207",
	model.ElementManhole:           "#475569",
}

// ElementColor maps a type and status to a hex colour. A known status wins over the type.
func ElementColor(t model.ElementType, s model.ElementStatus) string {
	if c, ok := statusColors[model.ParseElementStatus(string(s))]; ok {
		return c
	}
	if c, ok := typeColors[model.ParseElementType(string(t))]; ok {
		return c
	}
	return DefaultColor
}

// NodeColor picks the fill for a render node, including aggregates.
func NodeColor(t model.ElementType, s model.ElementStatus, cluster bool) string {
	if cluster {
		return ClusterColor
	}
	return ElementColor(t, s)
}

// ParseHex parses a #rrggbb colour, falling back to the default colour.
func ParseHex(hex string) colorful.Color {
	c, err := colorful.Hex(hex)
	if err != nil {
		c, _ = colorful.Hex(DefaultColor)
	}
	return c
}

// DarkVariant lightens a colour for dark backgrounds while keeping its hue.
func DarkVariant(hex string) string {
	h, c, l := ParseHex(hex).Hcl()
	l = min(l+0.15, 0.95)
	return colorful.Hcl(h, c, l).Clamped().Hex()
}

// Themed returns the colour for the current background.
func Themed(hex string, dark bool) string {
	if dark {
		return DarkVariant(hex)
	}
	return hex
}

func Background(dark bool) string {
	if dark {
		return "#111827"
	}
	return "#ffffff"
}

func LinkColor(status model.ElementStatus, dark bool) string {
	c := "#94a3b8"
	if status == model.StatusFault {
		c = statusColors[model.StatusFault]
	}
	return Themed(c, dark)
}

func LabelColor(dark bool) string {
	if dark {
		return "#e5e7eb"
	}
	return "#1f2937"
}

const HighlightColor = "#facc15"
