// Package cluster merges nearby render nodes into aggregate markers at low zoom.
package cluster

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog"

	"fibermap/core-go/internal/scene"
)

type Options struct {
	Enabled bool `yaml:"enabled"`
	// ZoomThreshold is the normalized zoom below which clustering is active.
	ZoomThreshold float64 `yaml:"zoom_threshold"`
	// MaxDistance is in screen pixels.
	MaxDistance    float64       `yaml:"max_distance"`
	MaxClusterSize int           `yaml:"max_cluster_size"`
	MinRadius      float64       `yaml:"min_radius"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	ZoomHysteresis float64       `yaml:"zoom_hysteresis"`
	// Scale is the pixels-per-world-unit factor at normalized zoom 1.
	Scale float64 `yaml:"-"`
}

func DefaultOptions() Options {
	return Options{
		Enabled:        true,
		ZoomThreshold:  0.7,
		MaxDistance:    50,
		MaxClusterSize: 50,
		MinRadius:      15,
		CacheTTL:       2 * time.Second,
		ZoomHysteresis: 0.05,
		Scale:          1,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ZoomThreshold <= 0 {
		o.ZoomThreshold = d.ZoomThreshold
	}
	if o.MaxDistance <= 0 {
		o.MaxDistance = d.MaxDistance
	}
	if o.MaxClusterSize <= 0 {
		o.MaxClusterSize = d.MaxClusterSize
	}
	if o.MinRadius <= 0 {
		o.MinRadius = d.MinRadius
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.ZoomHysteresis < 0 {
		o.ZoomHysteresis = d.ZoomHysteresis
	}
	if o.Scale <= 0 {
		o.Scale = d.Scale
	}
	return o
}

// Cluster groups one or more nodes. X and Y are the member centroid in world units; Radius
// is in screen pixels.
type Cluster struct {
	ID      string
	Members []*scene.RenderNode
	X, Y    float64
	Radius  float64
	Count   int
}

// Individual reports whether the cluster is a single-element marker.
func (c Cluster) Individual() bool {
	return c.Count == 1
}

// Clock supplies the cache time source; scheduler.Scheduler implements it.
type Clock interface {
	Now() time.Time
}

type Engine struct {
	log   zerolog.Logger
	clock Clock
	opts  Options
	cache *cacheEntry

	hits   int
	misses int
}

func NewEngine(log zerolog.Logger, clock Clock, opts Options) *Engine {
	return &Engine{
		log:   log.With().Str("component", "cluster").Logger(),
		clock: clock,
		opts:  opts.withDefaults(),
	}
}

func (e *Engine) Options() Options { return e.opts }

// SetOptions replaces the options. Any change drops the cached result.
func (e *Engine) SetOptions(opts Options) {
	opts = opts.withDefaults()
	if opts == e.opts {
		return
	}
	e.opts = opts
	e.Invalidate()
}

func (e *Engine) SetEnabled(enabled bool) {
	opts := e.opts
	opts.Enabled = enabled
	e.SetOptions(opts)
}

// Invalidate drops the cached result.
func (e *Engine) Invalidate() {
	e.cache = nil
}

// Active reports whether clustering applies at the given normalized zoom.
func (e *Engine) Active(zoom float64) bool {
	return e.opts.Enabled && zoom < e.opts.ZoomThreshold
}

// CacheStats returns the number of cache hits and misses so far.
func (e *Engine) CacheStats() (hits, misses int) {
	return e.hits, e.misses
}

// Clusters groups nodes at the given normalized zoom. Every node ends up in exactly one
// cluster. When clustering is inactive each node is its own cluster.
func (e *Engine) Clusters(nodes []*scene.RenderNode, zoom float64) []Cluster {
	sorted := sortedByID(nodes)
	active := e.Active(zoom)
	if !active {
		out := make([]Cluster, 0, len(sorted))
		for _, n := range sorted {
			out = append(out, e.single(n))
		}
		return out
	}

	fp := fingerprint(sorted)
	now := e.clock.Now()
	if groups, ok := e.lookup(fp, zoom, now); ok {
		e.hits++
		return e.materialize(groups, Index(sorted), zoom)
	}
	e.misses++

	groups := groupGrid(sorted, e.maxWorldDistance(zoom), e.opts.MaxClusterSize)
	e.cache = &cacheEntry{
		fingerprint: fp,
		zoom:        zoom,
		at:          now,
		groups:      groups,
	}
	e.log.Debug().
		Int("nodes", len(sorted)).
		Int("clusters", len(groups)).
		Float64("zoom", zoom).
		Msg("recomputed clusters")
	return e.materialize(groups, Index(sorted), zoom)
}

func (e *Engine) lookup(fp uint64, zoom float64, now time.Time) ([][]string, bool) {
	c := e.cache
	if c == nil {
		return nil, false
	}
	if c.fingerprint != fp {
		return nil, false
	}
	if math.Abs(c.zoom-zoom) > e.opts.ZoomHysteresis {
		return nil, false
	}
	if now.Sub(c.at) > e.opts.CacheTTL {
		return nil, false
	}
	return c.groups, true
}

func (e *Engine) pixelScale(zoom float64) float64 {
	return zoom * e.opts.Scale
}

func (e *Engine) maxWorldDistance(zoom float64) float64 {
	s := e.pixelScale(zoom)
	if s <= 0 {
		return math.Inf(1)
	}
	return e.opts.MaxDistance / s
}

func (e *Engine) single(n *scene.RenderNode) Cluster {
	return Cluster{
		ID:      n.ID,
		Members: []*scene.RenderNode{n},
		X:       n.X,
		Y:       n.Y,
		Radius:  e.opts.MinRadius,
		Count:   1,
	}
}

// materialize rebuilds cluster records from cached id groups against the current nodes, so
// centroids follow nodes that moved since the grouping was computed.
func (e *Engine) materialize(groups [][]string, index map[string]*scene.RenderNode, zoom float64) []Cluster {
	scale := e.pixelScale(zoom)
	out := make([]Cluster, 0, len(groups))
	for _, ids := range groups {
		members := make([]*scene.RenderNode, 0, len(ids))
		for _, id := range ids {
			if n, ok := index[id]; ok {
				members = append(members, n)
			}
		}
		if len(members) == 0 {
			continue
		}
		if len(members) == 1 {
			out = append(out, e.single(members[0]))
			continue
		}

		mp := make(orb.MultiPoint, len(members))
		var cx, cy float64
		for i, m := range members {
			mp[i] = orb.Point{m.X, m.Y}
			cx += m.X
			cy += m.Y
		}
		cx /= float64(len(members))
		cy /= float64(len(members))
		centroid := orb.Point{cx, cy}

		radius := e.opts.MinRadius
		for _, p := range mp {
			if d := planar.Distance(centroid, p) * scale; d > radius {
				radius = d
			}
		}
		out = append(out, Cluster{
			ID:      "cluster-" + members[0].ID + "-" + strconv.Itoa(len(members)),
			Members: members,
			X:       cx,
			Y:       cy,
			Radius:  radius,
			Count:   len(members),
		})
	}
	return out
}

// Index maps node ids to nodes.
func Index(nodes []*scene.RenderNode) map[string]*scene.RenderNode {
	return scene.Index(nodes)
}

func sortedByID(nodes []*scene.RenderNode) []*scene.RenderNode {
	out := make([]*scene.RenderNode, len(nodes))
	copy(out, nodes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Nodes converts clusters into render nodes. Individual clusters yield their member node;
// aggregates yield a node pinned at the centroid that lists its member ids.
func Nodes(clusters []Cluster) []*scene.RenderNode {
	out := make([]*scene.RenderNode, 0, len(clusters))
	for _, c := range clusters {
		if c.Individual() {
			out = append(out, c.Members[0])
			continue
		}
		ids := make([]string, len(c.Members))
		for i, m := range c.Members {
			ids[i] = m.ID
		}
		n := &scene.RenderNode{
			ID:      c.ID,
			Label:   strconv.Itoa(c.Count),
			Members: ids,
		}
		n.Pin(c.X, c.Y)
		out = append(out, n)
	}
	return out
}
