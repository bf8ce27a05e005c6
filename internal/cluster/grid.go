package cluster

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"fibermap/core-go/internal/scene"
)

type cell struct{ cx, cy int64 }

// grid buckets node positions into square cells of the clustering distance, so every node
// within that distance of a seed lies in the seed's cell or one of its eight neighbours.
type grid struct {
	size  float64
	cells map[cell][]int
}

func newGrid(nodes []*scene.RenderNode, size float64) *grid {
	g := &grid{size: size, cells: make(map[cell][]int, len(nodes))}
	for i, n := range nodes {
		c := g.cellOf(n.X, n.Y)
		g.cells[c] = append(g.cells[c], i)
	}
	return g
}

func (g *grid) cellOf(x, y float64) cell {
	return cell{int64(math.Floor(x / g.size)), int64(math.Floor(y / g.size))}
}

// neighbours returns node indexes around (x, y) in ascending order.
func (g *grid) neighbours(x, y float64) []int {
	c := g.cellOf(x, y)
	var out []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			out = append(out, g.cells[cell{c.cx + dx, c.cy + dy}]...)
		}
	}
	sort.Ints(out)
	return out
}

// groupGrid is the greedy seed-absorption pass over nodes sorted by id: each unassigned node
// starts a group and absorbs later unassigned nodes within maxDist of it, up to maxSize.
// It yields exactly the groups of groupNaive.
func groupGrid(nodes []*scene.RenderNode, maxDist float64, maxSize int) [][]string {
	if math.IsInf(maxDist, 1) || maxDist <= 0 || math.IsNaN(maxDist) {
		return groupNaive(nodes, maxDist, maxSize)
	}
	g := newGrid(nodes, maxDist)
	assigned := make([]bool, len(nodes))
	var groups [][]string
	for i, seed := range nodes {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []string{seed.ID}
		sp := orb.Point{seed.X, seed.Y}
		for _, j := range g.neighbours(seed.X, seed.Y) {
			if len(group) >= maxSize {
				break
			}
			if j <= i || assigned[j] {
				continue
			}
			if planar.Distance(sp, orb.Point{nodes[j].X, nodes[j].Y}) <= maxDist {
				assigned[j] = true
				group = append(group, nodes[j].ID)
			}
		}
		groups = append(groups, group)
	}
	return groups
}

func groupNaive(nodes []*scene.RenderNode, maxDist float64, maxSize int) [][]string {
	assigned := make([]bool, len(nodes))
	var groups [][]string
	for i, seed := range nodes {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []string{seed.ID}
		sp := orb.Point{seed.X, seed.Y}
		for j := i + 1; j < len(nodes) && len(group) < maxSize; j++ {
			if assigned[j] {
				continue
			}
			if planar.Distance(sp, orb.Point{nodes[j].X, nodes[j].Y}) <= maxDist {
				assigned[j] = true
				group = append(group, nodes[j].ID)
			}
		}
		groups = append(groups, group)
	}
	return groups
}
