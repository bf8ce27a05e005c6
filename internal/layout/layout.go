// Package layout runs a force-directed simulation over render nodes. Ticks are scheduled on
// the caller's scheduler so position updates reach the renderer in tick order.
package layout

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/scheduler"
)

type Options struct {
	ChargeStrength float64
	// DistanceMin bounds the repulsion at very short range.
	DistanceMin    float64
	LinkDistance   float64
	CenterX        float64
	CenterY        float64
	CenterStrength float64
	Alpha          float64
	AlphaMin       float64
	AlphaDecay     float64
	VelocityDecay  float64
	TickInterval   time.Duration
	ReheatAlpha    float64
	// DragAlphaTarget keeps the simulation warm while a node is dragged.
	DragAlphaTarget float64
}

func DefaultOptions() Options {
	return Options{
		ChargeStrength:  -300,
		DistanceMin:     1,
		LinkDistance:    100,
		CenterStrength:  0.05,
		Alpha:           1,
		AlphaMin:        0.001,
		AlphaDecay:      1 - math.Pow(0.001, 1.0/300),
		VelocityDecay:   0.4,
		TickInterval:    16 * time.Millisecond,
		ReheatAlpha:     0.3,
		DragAlphaTarget: 0.3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChargeStrength == 0 {
		o.ChargeStrength = d.ChargeStrength
	}
	if o.DistanceMin <= 0 {
		o.DistanceMin = d.DistanceMin
	}
	if o.LinkDistance <= 0 {
		o.LinkDistance = d.LinkDistance
	}
	if o.CenterStrength < 0 {
		o.CenterStrength = 0
	}
	if o.Alpha <= 0 {
		o.Alpha = d.Alpha
	}
	if o.AlphaMin <= 0 {
		o.AlphaMin = d.AlphaMin
	}
	if o.AlphaDecay <= 0 || o.AlphaDecay >= 1 {
		o.AlphaDecay = d.AlphaDecay
	}
	if o.VelocityDecay <= 0 || o.VelocityDecay >= 1 {
		o.VelocityDecay = d.VelocityDecay
	}
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.ReheatAlpha <= 0 {
		o.ReheatAlpha = d.ReheatAlpha
	}
	if o.DragAlphaTarget <= 0 {
		o.DragAlphaTarget = d.DragAlphaTarget
	}
	return o
}

const (
	initialRadius = 10
)

var initialAngle = math.Pi * (3 - math.Sqrt(5))

type Simulation struct {
	log   zerolog.Logger
	sched scheduler.Scheduler
	opts  Options

	nodes []*scene.RenderNode
	links []*scene.RenderLink
	index map[string]*scene.RenderNode
	// degree counts links per node id for the link bias.
	degree map[string]int

	alpha       float64
	alphaTarget float64
	ticks       int
	running     bool
	timer       scheduler.Timer
	jiggle      *rand.Rand

	dragging map[string]bool

	listeners map[int]func(tick int)
	nextID    int
}

func NewSimulation(log zerolog.Logger, sched scheduler.Scheduler, opts Options) *Simulation {
	opts = opts.withDefaults()
	return &Simulation{
		log:       log.With().Str("component", "layout").Logger(),
		sched:     sched,
		opts:      opts,
		index:     map[string]*scene.RenderNode{},
		degree:    map[string]int{},
		alpha:     opts.Alpha,
		jiggle:    rand.New(rand.NewPCG(1, 2)),
		dragging:  map[string]bool{},
		listeners: map[int]func(int){},
	}
}

func (s *Simulation) Options() Options { return s.opts }

// SetCenter moves the centering target, usually to the middle of the viewport in world units.
func (s *Simulation) SetCenter(x, y float64) {
	s.opts.CenterX, s.opts.CenterY = x, y
}

// SetGraph replaces the simulated node and link set. Free nodes that were present before keep
// their position and velocity; new free nodes without coordinates are seeded on a phyllotaxis
// spiral around the centre.
func (s *Simulation) SetGraph(nodes []*scene.RenderNode, links []*scene.RenderLink) {
	prev := s.index
	s.nodes = nodes
	s.links = links
	s.index = scene.Index(nodes)
	s.degree = make(map[string]int, len(nodes))
	for _, l := range links {
		s.degree[l.SourceID]++
		s.degree[l.TargetID]++
	}

	for i, n := range nodes {
		if n.Pinned() {
			n.X, n.Y = *n.FX, *n.FY
			continue
		}
		if old, ok := prev[n.ID]; ok && old != n {
			n.X, n.Y, n.VX, n.VY = old.X, old.Y, old.VX, old.VY
			continue
		}
		if needsPlacement(n) {
			r := initialRadius * math.Sqrt(0.5+float64(i))
			a := float64(i) * initialAngle
			n.X = s.opts.CenterX + r*math.Cos(a)
			n.Y = s.opts.CenterY + r*math.Sin(a)
		}
	}

	for id := range s.dragging {
		if _, ok := s.index[id]; !ok {
			delete(s.dragging, id)
		}
	}
}

func needsPlacement(n *scene.RenderNode) bool {
	if n.Element != nil && n.Element.Position != nil {
		return false
	}
	return n.X == 0 && n.Y == 0
}

func (s *Simulation) Nodes() []*scene.RenderNode { return s.nodes }

func (s *Simulation) Links() []*scene.RenderLink { return s.links }

func (s *Simulation) Node(id string) (*scene.RenderNode, bool) {
	n, ok := s.index[id]
	return n, ok
}

func (s *Simulation) Alpha() float64 { return s.alpha }

func (s *Simulation) Running() bool { return s.running }

func (s *Simulation) Ticks() int { return s.ticks }

// OnTick registers fn to run after every tick. Listeners run in registration order.
func (s *Simulation) OnTick(fn func(tick int)) func() {
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() { delete(s.listeners, id) }
}

// Start schedules ticks until alpha drops below AlphaMin.
func (s *Simulation) Start() {
	if s.running {
		return
	}
	s.running = true
	s.schedule()
}

func (s *Simulation) Stop() {
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Restart reheats the simulation to at least alpha and starts it.
func (s *Simulation) Restart(alpha float64) {
	if alpha <= 0 {
		alpha = s.opts.ReheatAlpha
	}
	if alpha > s.alpha {
		s.alpha = alpha
	}
	s.Start()
}

func (s *Simulation) schedule() {
	s.timer = s.sched.After(s.opts.TickInterval, s.step)
}

func (s *Simulation) step() {
	s.timer = nil
	if !s.running {
		return
	}
	s.Tick()
	if s.alpha < s.opts.AlphaMin && s.alphaTarget < s.opts.AlphaMin {
		s.running = false
		s.log.Debug().Int("ticks", s.ticks).Msg("layout settled")
		return
	}
	s.schedule()
}

// Tick advances the simulation by one step and notifies tick listeners.
func (s *Simulation) Tick() {
	s.alpha += (s.alphaTarget - s.alpha) * s.opts.AlphaDecay

	s.applyLinks()
	s.applyCharge()
	s.applyCenter()

	decay := 1 - s.opts.VelocityDecay
	for _, n := range s.nodes {
		if n.Pinned() {
			n.X, n.Y = *n.FX, *n.FY
			n.VX, n.VY = 0, 0
			continue
		}
		n.VX *= decay
		n.VY *= decay
		n.X += n.VX
		n.Y += n.VY
	}

	s.ticks++
	s.notify()
}

func (s *Simulation) notify() {
	if len(s.listeners) == 0 {
		return
	}
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := s.listeners[id]; ok {
			fn(s.ticks)
		}
	}
}

func (s *Simulation) jitter() float64 {
	return (s.jiggle.Float64() - 0.5) * 1e-6
}

func (s *Simulation) applyCharge() {
	strength := s.opts.ChargeStrength
	min2 := s.opts.DistanceMin * s.opts.DistanceMin
	for i, a := range s.nodes {
		for j, b := range s.nodes {
			if i == j {
				continue
			}
			dx := b.X - a.X
			dy := b.Y - a.Y
			if dx == 0 {
				dx = s.jitter()
			}
			if dy == 0 {
				dy = s.jitter()
			}
			l := dx*dx + dy*dy
			if l < min2 {
				l = math.Sqrt(min2 * l)
			}
			w := strength * s.alpha / l
			a.VX += dx * w
			a.VY += dy * w
		}
	}
}

func (s *Simulation) applyLinks() {
	for _, l := range s.links {
		src, dst := l.Source, l.Target
		if src == nil || dst == nil {
			continue
		}
		ds, dt := s.degree[l.SourceID], s.degree[l.TargetID]
		strength := clampStrength(l.Strength) / float64(max(1, min(ds, dt)))
		bias := float64(ds) / float64(ds+dt)

		dx := dst.X + dst.VX - src.X - src.VX
		dy := dst.Y + dst.VY - src.Y - src.VY
		if dx == 0 {
			dx = s.jitter()
		}
		if dy == 0 {
			dy = s.jitter()
		}
		dist := math.Sqrt(dx*dx + dy*dy)
		k := (dist - s.opts.LinkDistance) / dist * s.alpha * strength
		dx *= k
		dy *= k
		dst.VX -= dx * bias
		dst.VY -= dy * bias
		src.VX += dx * (1 - bias)
		src.VY += dy * (1 - bias)
	}
}

// clampStrength keeps a link force within [0, 1]; stronger links overshoot every tick.
func clampStrength(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(1, v)
}

func (s *Simulation) applyCenter() {
	if s.opts.CenterStrength == 0 {
		return
	}
	k := s.opts.CenterStrength * s.alpha
	for _, n := range s.nodes {
		if n.Pinned() {
			continue
		}
		n.VX += (s.opts.CenterX - n.X) * k
		n.VY += (s.opts.CenterY - n.Y) * k
	}
}

// DragStart pins the node where it is for the duration of the drag.
func (s *Simulation) DragStart(id string) bool {
	n, ok := s.index[id]
	if !ok {
		return false
	}
	s.dragging[id] = n.Pinned()
	n.Pin(n.X, n.Y)
	s.alphaTarget = s.opts.DragAlphaTarget
	s.Restart(s.opts.DragAlphaTarget)
	return true
}

func (s *Simulation) DragMove(id string, x, y float64) bool {
	n, ok := s.index[id]
	if !ok {
		return false
	}
	if _, active := s.dragging[id]; !active {
		return false
	}
	n.Pin(x, y)
	return true
}

// DragEnd releases the drag pin unless the node was pinned before the drag started, in which
// case it stays pinned where it was dropped.
func (s *Simulation) DragEnd(id string) bool {
	wasPinned, active := s.dragging[id]
	if !active {
		return false
	}
	delete(s.dragging, id)
	if len(s.dragging) == 0 {
		s.alphaTarget = 0
	}
	if n, ok := s.index[id]; ok && !wasPinned {
		n.Unpin()
	}
	return true
}
