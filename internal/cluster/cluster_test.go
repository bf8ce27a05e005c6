package cluster

import (
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/scheduler"
)

func newEngine(opts Options) (*Engine, *scheduler.Manual) {
	clock := scheduler.NewManual(time.Time{})
	return NewEngine(zerolog.Nop(), clock, opts), clock
}

// threeClose returns three nodes 10px apart at the given zoom.
func threeClose(zoom float64) []*scene.RenderNode {
	step := 10 / zoom
	return []*scene.RenderNode{
		{ID: "c", X: 2 * step},
		{ID: "a", X: 0},
		{ID: "b", X: step},
	}
}

func TestClusters_ActiveBelowThreshold(t *testing.T) {
	e, _ := newEngine(DefaultOptions())
	got := e.Clusters(threeClose(0.5), 0.5)

	if len(got) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(got))
	}
	if got[0].Count != 3 || got[0].Individual() {
		t.Fatalf("expected cluster of 3, got %+v", got[0])
	}
	if got[0].Members[0].ID != "a" {
		t.Fatalf("expected members in id order, first=%q", got[0].Members[0].ID)
	}
	if got[0].X != 20 {
		t.Fatalf("expected centroid x=20, got %v", got[0].X)
	}
	if got[0].Radius != 15 {
		t.Fatalf("expected minimum radius 15, got %v", got[0].Radius)
	}
}

func TestClusters_InactiveAboveThreshold(t *testing.T) {
	e, _ := newEngine(DefaultOptions())
	got := e.Clusters(threeClose(0.8), 0.8)

	if len(got) != 3 {
		t.Fatalf("expected 3 single clusters, got %d", len(got))
	}
	for _, c := range got {
		if !c.Individual() {
			t.Fatalf("expected individual clusters, got %+v", c)
		}
	}
}

func TestClusters_DisabledNeverGroups(t *testing.T) {
	opts := DefaultOptions()
	opts.Enabled = false
	e, _ := newEngine(opts)
	if got := e.Clusters(threeClose(0.2), 0.2); len(got) != 3 {
		t.Fatalf("expected 3 clusters when disabled, got %d", len(got))
	}
}

func TestClusters_RespectsMaxClusterSize(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxClusterSize = 2
	e, _ := newEngine(opts)
	got := e.Clusters(threeClose(0.5), 0.5)
	if len(got) != 2 || got[0].Count != 2 || got[1].Count != 1 {
		t.Fatalf("expected clusters of 2 and 1, got %d clusters", len(got))
	}
}

func TestClusters_RadiusGrowsWithSpread(t *testing.T) {
	e, _ := newEngine(DefaultOptions())
	nodes := []*scene.RenderNode{{ID: "a", X: 0}, {ID: "b", X: 80}}
	got := e.Clusters(nodes, 0.5)
	if len(got) != 1 {
		t.Fatalf("expected one cluster, got %d", len(got))
	}
	if got[0].Radius != 20 {
		t.Fatalf("expected radius 20px (40 world units at zoom 0.5), got %v", got[0].Radius)
	}
}

func TestCache_HitWithinHysteresisAndTTL(t *testing.T) {
	e, clock := newEngine(DefaultOptions())
	nodes := threeClose(0.5)

	e.Clusters(nodes, 0.5)
	e.Clusters(nodes, 0.53)
	clock.Advance(time.Second)
	e.Clusters(nodes, 0.5)

	hits, misses := e.CacheStats()
	if hits != 2 || misses != 1 {
		t.Fatalf("expected 2 hits and 1 miss, got %d/%d", hits, misses)
	}
}

func TestCache_Invalidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(e *Engine, clock *scheduler.Manual) ([]*scene.RenderNode, float64)
	}{
		{"zoom beyond hysteresis", func(e *Engine, _ *scheduler.Manual) ([]*scene.RenderNode, float64) {
			return threeClose(0.5), 0.4
		}},
		{"ttl expired", func(e *Engine, clock *scheduler.Manual) ([]*scene.RenderNode, float64) {
			clock.Advance(3 * time.Second)
			return threeClose(0.5), 0.5
		}},
		{"option change", func(e *Engine, _ *scheduler.Manual) ([]*scene.RenderNode, float64) {
			opts := e.Options()
			opts.MaxDistance = 40
			e.SetOptions(opts)
			return threeClose(0.5), 0.5
		}},
		{"element added", func(e *Engine, _ *scheduler.Manual) ([]*scene.RenderNode, float64) {
			return append(threeClose(0.5), &scene.RenderNode{ID: "d", X: 5}), 0.5
		}},
		{"element removed", func(e *Engine, _ *scheduler.Manual) ([]*scene.RenderNode, float64) {
			return threeClose(0.5)[:2], 0.5
		}},
		{"explicit", func(e *Engine, _ *scheduler.Manual) ([]*scene.RenderNode, float64) {
			e.Invalidate()
			return threeClose(0.5), 0.5
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, clock := newEngine(DefaultOptions())
			e.Clusters(threeClose(0.5), 0.5)

			nodes, zoom := tc.mutate(e, clock)
			e.Clusters(nodes, zoom)

			hits, misses := e.CacheStats()
			if hits != 0 || misses != 2 {
				t.Fatalf("expected recompute, got hits=%d misses=%d", hits, misses)
			}
		})
	}
}

func TestCache_HitFollowsMovedNodes(t *testing.T) {
	e, _ := newEngine(DefaultOptions())
	e.Clusters(threeClose(0.5), 0.5)

	moved := threeClose(0.5)
	for _, n := range moved {
		n.X += 100
	}
	got := e.Clusters(moved, 0.5)
	if len(got) != 1 || got[0].X != 120 {
		t.Fatalf("expected cached grouping with fresh centroid 120, got %+v", got)
	}
}

func TestNodes_AggregatesArePinnedAtCentroid(t *testing.T) {
	e, _ := newEngine(DefaultOptions())
	nodes := Nodes(e.Clusters(threeClose(0.5), 0.5))
	if len(nodes) != 1 || !nodes[0].IsCluster() || !nodes[0].Pinned() {
		t.Fatalf("expected one pinned aggregate node, got %+v", nodes)
	}
	if !reflect.DeepEqual(nodes[0].Members, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected members %v", nodes[0].Members)
	}
}

func genNodes() gopter.Gen {
	return gen.SliceOfN(60, gen.Float64Range(-500, 500)).Map(func(xs []float64) []*scene.RenderNode {
		nodes := make([]*scene.RenderNode, 0, len(xs)/2)
		for i := 0; i+1 < len(xs); i += 2 {
			nodes = append(nodes, &scene.RenderNode{ID: "n" + strconv.Itoa(i/2), X: xs[i], Y: xs[i+1]})
		}
		return nodes
	})
}

func TestProperty_ClusteringIsDeterministic(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("same input yields same membership and centroids", prop.ForAll(
		func(nodes []*scene.RenderNode) bool {
			e1, _ := newEngine(DefaultOptions())
			e2, _ := newEngine(DefaultOptions())

			reversed := make([]*scene.RenderNode, len(nodes))
			for i, n := range nodes {
				reversed[len(nodes)-1-i] = n
			}
			a := e1.Clusters(nodes, 0.3)
			b := e2.Clusters(reversed, 0.3)
			if len(a) != len(b) {
				return false
			}
			total := 0
			for i := range a {
				if a[i].ID != b[i].ID || a[i].X != b[i].X || a[i].Y != b[i].Y || a[i].Count != b[i].Count {
					return false
				}
				total += a[i].Count
			}
			return total == len(nodes)
		},
		genNodes(),
	))

	properties.TestingRun(t)
}

func TestProperty_GridMatchesNaiveScan(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("grid index groups equal pairwise scan", prop.ForAll(
		func(nodes []*scene.RenderNode, maxDist float64) bool {
			sorted := sortedByID(nodes)
			return reflect.DeepEqual(groupGrid(sorted, maxDist, 5), groupNaive(sorted, maxDist, 5))
		},
		genNodes(),
		gen.Float64Range(1, 200),
	))

	properties.TestingRun(t)
}
