package viewport

// Transform maps world coordinates onto the screen: screen = world*K + (X, Y).
type Transform struct {
	K float64 `json:"k"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func Identity() Transform {
	return Transform{K: 1}
}

func (t Transform) Apply(wx, wy float64) (float64, float64) {
	return wx*t.K + t.X, wy*t.K + t.Y
}

func (t Transform) Invert(sx, sy float64) (float64, float64) {
	k := t.K
	if k == 0 {
		k = 1
	}
	return (sx - t.X) / k, (sy - t.Y) / k
}

// ScaleDistance converts a world distance to screen pixels.
func (t Transform) ScaleDistance(d float64) float64 {
	return d * t.K
}
