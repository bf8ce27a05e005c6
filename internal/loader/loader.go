// Package loader keeps the working set of nodes and links near the viewport. Viewport changes
// are debounced; results are delivered in chunks on the scheduler.
package loader

import (
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/scheduler"
	"fibermap/core-go/internal/viewport"
)

type Options struct {
	Margin     float64       `yaml:"margin"`
	Debounce   time.Duration `yaml:"debounce"`
	ChunkSize  int           `yaml:"chunk_size"`
	MaxChunks  int           `yaml:"max_chunks"`
	ChunkDelay time.Duration `yaml:"chunk_delay"`
}

func DefaultOptions() Options {
	return Options{
		Margin:     0.5,
		Debounce:   300 * time.Millisecond,
		ChunkSize:  500,
		MaxChunks:  10,
		ChunkDelay: 10 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Margin < 0 {
		o.Margin = d.Margin
	}
	if o.Debounce <= 0 {
		o.Debounce = d.Debounce
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.MaxChunks <= 0 {
		o.MaxChunks = d.MaxChunks
	}
	if o.ChunkDelay <= 0 {
		o.ChunkDelay = d.ChunkDelay
	}
	return o
}

// Metrics describes loader progress for UI feedback.
type Metrics struct {
	Total        int    `json:"total"`
	Loaded       int    `json:"loaded"`
	Visible      int    `json:"visible"`
	Truncated    int    `json:"truncated"`
	Chunks       int    `json:"chunks"`
	ChunksLoaded int    `json:"chunks_loaded"`
	Loading      bool   `json:"loading"`
	Generation   uint64 `json:"generation"`
}

// Result is the cumulative working set after a chunk. Done is set on the last chunk of a
// generation.
type Result struct {
	Generation uint64
	Chunk      int
	Chunks     int
	Nodes      []*scene.RenderNode
	Links      []*scene.RenderLink
	Done       bool
}

// BoundsSource reports the visible world bounds; viewport.Manager implements it.
type BoundsSource interface {
	ViewportBounds() viewport.Bounds
}

type Loader struct {
	log    zerolog.Logger
	sched  scheduler.Scheduler
	view   BoundsSource
	opts   Options
	maxCap int

	nodes []*scene.RenderNode
	links []*scene.RenderLink

	debounce   scheduler.Timer
	chunkTimer scheduler.Timer
	generation uint64
	metrics    Metrics

	onLoaded  []func(Result)
	onMetrics []func(Metrics)
}

func New(log zerolog.Logger, sched scheduler.Scheduler, view BoundsSource, opts Options) *Loader {
	return &Loader{
		log:   log.With().Str("component", "loader").Logger(),
		sched: sched,
		view:  view,
		opts:  opts.withDefaults(),
	}
}

func (l *Loader) Options() Options { return l.opts }

// OnLoaded registers fn for every delivered chunk.
func (l *Loader) OnLoaded(fn func(Result)) {
	l.onLoaded = append(l.onLoaded, fn)
}

func (l *Loader) OnMetrics(fn func(Metrics)) {
	l.onMetrics = append(l.onMetrics, fn)
}

func (l *Loader) Metrics() Metrics { return l.metrics }

// SetData replaces the full data set. It does not trigger a load by itself.
func (l *Loader) SetData(nodes []*scene.RenderNode, links []*scene.RenderLink) {
	l.nodes = nodes
	l.links = links
	l.metrics.Total = len(nodes)
}

// SetMaxVisible tightens the element cap below ChunkSize*MaxChunks. Zero restores the default.
func (l *Loader) SetMaxVisible(n int) {
	if n < 0 {
		n = 0
	}
	l.maxCap = n
}

func (l *Loader) limit() int {
	limit := l.opts.ChunkSize * l.opts.MaxChunks
	if l.maxCap > 0 && l.maxCap < limit {
		limit = l.maxCap
	}
	return limit
}

// ViewportChanged schedules a load once viewport changes have been quiet for Debounce.
func (l *Loader) ViewportChanged() {
	if l.debounce != nil {
		l.debounce.Stop()
	}
	l.debounce = l.sched.After(l.opts.Debounce, func() {
		l.debounce = nil
		l.settle()
	})
}

// LoadNow skips the debounce window.
func (l *Loader) LoadNow() {
	if l.debounce != nil {
		l.debounce.Stop()
		l.debounce = nil
	}
	l.settle()
}

// LoadAll returns the full data set without windowing or caps. The working set is untouched.
func (l *Loader) LoadAll() Result {
	return Result{
		Generation: l.generation,
		Chunk:      1,
		Chunks:     1,
		Nodes:      l.nodes,
		Links:      l.links,
		Done:       true,
	}
}

// Cancel stops scheduling further chunks of the in-flight load.
func (l *Loader) Cancel() {
	if l.debounce != nil {
		l.debounce.Stop()
		l.debounce = nil
	}
	if l.chunkTimer != nil {
		l.chunkTimer.Stop()
		l.chunkTimer = nil
	}
	l.generation++
	if l.metrics.Loading {
		l.metrics.Loading = false
		l.publishMetrics()
	}
}

func (l *Loader) settle() {
	if l.chunkTimer != nil {
		l.chunkTimer.Stop()
		l.chunkTimer = nil
	}
	l.generation++
	gen := l.generation

	bounds := l.view.ViewportBounds().Expand(l.opts.Margin)
	visible, truncated := Filter(l.nodes, bounds, l.limit())
	if truncated > 0 {
		l.log.Warn().
			Int("kept", len(visible)).
			Int("skipped", truncated).
			Msg("visible set truncated to element cap")
	}

	chunks := (len(visible) + l.opts.ChunkSize - 1) / l.opts.ChunkSize
	if chunks == 0 {
		chunks = 1
	}
	l.metrics = Metrics{
		Total:      len(l.nodes),
		Visible:    len(visible),
		Truncated:  truncated,
		Chunks:     chunks,
		Loading:    true,
		Generation: gen,
	}
	l.publishMetrics()
	l.deliver(gen, visible, 0, chunks)
}

func (l *Loader) deliver(gen uint64, visible []*scene.RenderNode, chunk, chunks int) {
	if gen != l.generation {
		return
	}
	end := min((chunk+1)*l.opts.ChunkSize, len(visible))
	loaded := visible[:end]
	done := chunk+1 >= chunks

	res := Result{
		Generation: gen,
		Chunk:      chunk + 1,
		Chunks:     chunks,
		Nodes:      loaded,
		Links:      FilterLinks(l.links, loaded),
		Done:       done,
	}
	l.metrics.Loaded = len(loaded)
	l.metrics.ChunksLoaded = chunk + 1
	l.metrics.Loading = !done

	for _, fn := range l.onLoaded {
		fn(res)
	}
	l.publishMetrics()

	if done {
		l.chunkTimer = nil
		return
	}
	l.chunkTimer = l.sched.After(l.opts.ChunkDelay, func() {
		l.deliver(gen, visible, chunk+1, chunks)
	})
}

func (l *Loader) publishMetrics() {
	m := l.metrics
	for _, fn := range l.onMetrics {
		fn(m)
	}
}

// Filter keeps nodes inside bounds, plus nodes without geographic coordinates which the layout
// places. At most limit nodes are returned; truncated counts the rest.
func Filter(nodes []*scene.RenderNode, bounds viewport.Bounds, limit int) (out []*scene.RenderNode, truncated int) {
	out = make([]*scene.RenderNode, 0, min(len(nodes), max(limit, 0)))
	for _, n := range nodes {
		if !Positioned(n) || bounds.Contains(n.X, n.Y) {
			if limit > 0 && len(out) >= limit {
				truncated++
				continue
			}
			out = append(out, n)
		}
	}
	return out, truncated
}

// Positioned reports whether the node has geographic coordinates.
func Positioned(n *scene.RenderNode) bool {
	return n.Element != nil && n.Element.Position != nil
}

// FilterLinks keeps links whose endpoints are both in nodes.
func FilterLinks(links []*scene.RenderLink, nodes []*scene.RenderNode) []*scene.RenderLink {
	present := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		present[n.ID] = struct{}{}
	}
	out := make([]*scene.RenderLink, 0, len(links))
	for _, lk := range links {
		_, okS := present[lk.SourceID]
		_, okT := present[lk.TargetID]
		if okS && okT {
			out = append(out, lk)
		}
	}
	return out
}
