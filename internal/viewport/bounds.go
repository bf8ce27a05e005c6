package viewport

import (
	"math"

	"github.com/paulmach/orb"
)

// Bounds is an axis-aligned rectangle in world units (the coordinate space of
// scene.RenderNode positions).
type Bounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// BoundsOf returns the bounding box of the given world points.
func BoundsOf(points []orb.Point) (Bounds, bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}
	b := orb.MultiPoint(points).Bound()
	return FromOrb(b), true
}

func FromOrb(b orb.Bound) Bounds {
	return Bounds{MinX: b.Min.X(), MinY: b.Min.Y(), MaxX: b.Max.X(), MaxY: b.Max.Y()}
}

func (b Bounds) Orb() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

func (b Bounds) Width() float64  { return b.MaxX - b.MinX }
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

func (b Bounds) Center() (float64, float64) {
	c := b.Orb().Center()
	return c.X(), c.Y()
}

func (b Bounds) Contains(x, y float64) bool {
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	return b.Orb().Contains(orb.Point{x, y})
}

// Expand grows the box by fraction of its extent, split evenly between the two sides of
// each axis: 0.5 makes it 1.5 times as wide and as tall.
func (b Bounds) Expand(fraction float64) Bounds {
	if fraction <= 0 {
		return b
	}
	dx := b.Width() * fraction / 2
	dy := b.Height() * fraction / 2
	return Bounds{
		MinX: b.MinX - dx,
		MinY: b.MinY - dy,
		MaxX: b.MaxX + dx,
		MaxY: b.MaxY + dy,
	}
}

func (b Bounds) Intersects(o Bounds) bool {
	return b.Orb().Intersects(o.Orb())
}
