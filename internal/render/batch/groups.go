package batch

import (
	"math"
	"sort"
	"strconv"
	"time"

	"fibermap/core-go/internal/render"
	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/viewport"
)

// groupCache holds the render-time proximity grouping. It is independent of the cluster
// engine: it works on already culled nodes in screen space and is keyed only by the transform,
// the visible count and its age.
type groupCache struct {
	valid   bool
	at      time.Time
	t       viewport.Transform
	count   int
	dark    bool
	sprites []sprite
}

func (c *groupCache) invalidate() {
	c.valid = false
	c.sprites = nil
}

func (c *groupCache) get(now time.Time, opts Options, t viewport.Transform, visible []*scene.RenderNode, dark bool) []sprite {
	if c.valid && c.t == t && c.count == len(visible) && c.dark == dark && now.Sub(c.at) <= opts.ClusterTTL {
		return c.sprites
	}
	c.sprites = groupSprites(visible, t, opts.ClusterCell, dark)
	c.valid = true
	c.at = now
	c.t = t
	c.count = len(visible)
	c.dark = dark
	return c.sprites
}

type gridKey struct{ x, y int }

// groupSprites buckets nodes into screen cells of the given size; cells with more than one
// node become a single aggregate sprite at the mean position.
func groupSprites(nodes []*scene.RenderNode, t viewport.Transform, cell float64, dark bool) []sprite {
	type bucket struct {
		key   gridKey
		nodes []*scene.RenderNode
		sx    float64
		sy    float64
	}
	buckets := map[gridKey]*bucket{}
	var keys []gridKey
	for _, n := range nodes {
		sx, sy := t.Apply(n.X, n.Y)
		k := gridKey{int(math.Floor(sx / cell)), int(math.Floor(sy / cell))}
		bk, ok := buckets[k]
		if !ok {
			bk = &bucket{key: k}
			buckets[k] = bk
			keys = append(keys, k)
		}
		bk.nodes = append(bk.nodes, n)
		bk.sx += sx
		bk.sy += sy
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].y != keys[j].y {
			return keys[i].y < keys[j].y
		}
		return keys[i].x < keys[j].x
	})

	out := make([]sprite, 0, len(keys))
	for _, k := range keys {
		bk := buckets[k]
		cnt := len(bk.nodes)
		if cnt == 1 {
			n := bk.nodes[0]
			out = append(out, sprite{
				id:     n.ID,
				x:      bk.sx,
				y:      bk.sy,
				radius: render.NodeRadius(n),
				color:  render.Themed(render.NodeColor(n.Type(), n.Status(), n.IsCluster()), dark),
				count:  max(1, len(n.Members)),
			})
			continue
		}
		out = append(out, sprite{
			id:     "group:" + strconv.Itoa(k.x) + ":" + strconv.Itoa(k.y),
			x:      bk.sx / float64(cnt),
			y:      bk.sy / float64(cnt),
			radius: math.Min(8+3*math.Log2(float64(cnt)), cell/2),
			color:  render.Themed(render.ClusterColor, dark),
			count:  cnt,
		})
	}
	return out
}
