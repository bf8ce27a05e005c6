// Package perf samples frame rate and render time, scores them and adjusts the optimization
// level of the map either automatically or on request.
package perf

import (
	"math"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/metrics"
	"fibermap/core-go/internal/pubsub"
	"fibermap/core-go/internal/scheduler"
)

const (
	targetFPS          = 60
	renderBudgetMillis = 100
	complexityKnee     = 1000
)

// Metrics is one performance sample.
type Metrics struct {
	FPS            float64       `json:"fps"`
	RenderMillis   float64       `json:"render_ms"`
	Visible        int           `json:"visible"`
	MemoryMB       float64       `json:"memory_mb"`
	Elapsed        time.Duration `json:"elapsed"`
	Score          float64       `json:"score"`
	SuggestedLevel Level         `json:"suggested_level"`
	// Idle is set when no frame was drawn in the window; the score is carried over.
	Idle bool `json:"idle"`
}

// Config is the optimization configuration. Level may be AUTO; Effective is the concrete level
// whose flags are in force.
type Config struct {
	Level                 Level `json:"level"`
	Effective             Level `json:"effective"`
	AutoOptimize          bool  `json:"auto_optimize"`
	MaxVisibleElements    int   `json:"max_visible_elements"`
	ClusteringEnabled     bool  `json:"clustering_enabled"`
	VirtualizationEnabled bool  `json:"virtualization_enabled"`
}

type Options struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	// Window is the span of frame timestamps used for the fps estimate.
	Window       time.Duration `yaml:"window"`
	Level        string        `yaml:"level"`
	AutoOptimize bool          `yaml:"auto_optimize"`
	// Stability is how many consecutive samples must suggest the same level before the
	// effective level changes.
	Stability int `yaml:"stability"`
}

func (o Options) withDefaults() Options {
	if o.SampleInterval <= 0 {
		o.SampleInterval = time.Second
	}
	if o.Window <= 0 {
		o.Window = time.Second
	}
	if o.Stability <= 0 {
		o.Stability = 3
	}
	return o
}

// Score combines fps, render time and scene size into 0..100.
func Score(fps, renderMillis float64, visible int) float64 {
	fpsScore := math.Min(fps/targetFPS, 1) * 100
	renderScore := math.Max(0, 1-renderMillis/renderBudgetMillis) * 100
	complexity := 100.0
	if visible > complexityKnee {
		complexity = 100 * complexityKnee / float64(visible)
	}
	s := 0.5*fpsScore + 0.3*renderScore + 0.2*complexity
	return math.Max(0, math.Min(100, s))
}

type Monitor struct {
	log     zerolog.Logger
	sched   scheduler.Scheduler
	metrics *metrics.Metrics
	opts    Options

	cfg     Config
	started time.Time
	frames  []time.Time
	last    Metrics
	timer   scheduler.Timer

	lastRenderMillis float64
	lastVisible      int
	scored           bool

	pending Level
	streak  int

	metricsStream *pubsub.Stream[Metrics]
	configStream  *pubsub.Stream[Config]
	onConfig      []func(Config)
}

func NewMonitor(log zerolog.Logger, sched scheduler.Scheduler, m *metrics.Metrics, opts Options) *Monitor {
	opts = opts.withDefaults()
	mon := &Monitor{
		log:           log.With().Str("component", "perf").Logger(),
		sched:         sched,
		metrics:       m,
		opts:          opts,
		started:       sched.Now(),
		metricsStream: pubsub.NewReplayStream[Metrics](16),
		configStream:  pubsub.NewReplayStream[Config](16),
	}
	mon.cfg = configFor(CanonicalizeLevel(opts.Level), opts.AutoOptimize, LevelLow)
	mon.configStream.Publish(mon.cfg)
	mon.mirrorLevel()
	return mon
}

func configFor(level Level, auto bool, effective Level) Config {
	if level != LevelAuto {
		effective = level
	}
	p, _ := PresetFor(effective)
	return Config{
		Level:                 level,
		Effective:             effective,
		AutoOptimize:          auto,
		MaxVisibleElements:    p.MaxVisibleElements,
		ClusteringEnabled:     p.ClusteringEnabled,
		VirtualizationEnabled: p.VirtualizationEnabled,
	}
}

func (m *Monitor) Config() Config { return m.cfg }

func (m *Monitor) Last() Metrics { return m.last }

func (m *Monitor) MetricsStream() *pubsub.Stream[Metrics] { return m.metricsStream }

func (m *Monitor) ConfigStream() *pubsub.Stream[Config] { return m.configStream }

// OnConfig registers fn for every configuration change, on the main turn.
func (m *Monitor) OnConfig(fn func(Config)) {
	m.onConfig = append(m.onConfig, fn)
}

// SetOptimizationLevel stores a new level. Concrete levels apply their preset flags; AUTO
// keeps the current flags until the next sample picks a level.
func (m *Monitor) SetOptimizationLevel(level Level) {
	level = CanonicalizeLevel(level)
	if level == m.cfg.Level {
		return
	}
	m.applyConfig(configFor(level, m.cfg.AutoOptimize, m.cfg.Effective))
}

// SetAutoOptimization toggles whether samples may change the level.
func (m *Monitor) SetAutoOptimization(enabled bool) {
	if enabled == m.cfg.AutoOptimize {
		return
	}
	cfg := m.cfg
	cfg.AutoOptimize = enabled
	m.applyConfig(cfg)
}

func (m *Monitor) autoEnabled() bool {
	return m.cfg.Level == LevelAuto || m.cfg.AutoOptimize
}

func (m *Monitor) applyConfig(cfg Config) {
	if cfg == m.cfg {
		return
	}
	m.cfg = cfg
	m.pending, m.streak = "", 0
	m.log.Info().
		Str("level", string(cfg.Level)).
		Str("effective", string(cfg.Effective)).
		Bool("clustering", cfg.ClusteringEnabled).
		Bool("virtualization", cfg.VirtualizationEnabled).
		Int("max_visible", cfg.MaxVisibleElements).
		Msg("optimization config changed")
	m.mirrorLevel()
	for _, fn := range m.onConfig {
		fn(cfg)
	}
	m.configStream.Publish(cfg)
}

func (m *Monitor) mirrorLevel() {
	levels := Levels()
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = string(l)
	}
	m.metrics.SetOptimizationLevel(string(m.cfg.Effective), names)
}

// RecordFrame notes a drawn frame. It is cheap enough to call on every frame.
func (m *Monitor) RecordFrame(renderTime time.Duration, visible int) {
	now := m.sched.Now()
	m.frames = append(m.frames, now)
	m.trim(now)
	m.lastRenderMillis = float64(renderTime.Microseconds()) / 1000
	m.lastVisible = visible
}

func (m *Monitor) trim(now time.Time) {
	cut := 0
	for cut < len(m.frames) && now.Sub(m.frames[cut]) > m.opts.Window {
		cut++
	}
	if cut > 0 {
		m.frames = append(m.frames[:0], m.frames[cut:]...)
	}
}

// Sample computes a metrics sample, publishes it and, when allowed, adjusts the level.
func (m *Monitor) Sample() Metrics {
	now := m.sched.Now()
	m.trim(now)
	fps := float64(len(m.frames)) / m.opts.Window.Seconds()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	idle := len(m.frames) == 0
	var score float64
	switch {
	case !idle:
		score = Score(fps, m.lastRenderMillis, m.lastVisible)
		m.scored = true
	case m.scored:
		score = m.last.Score
	default:
		score = 100
	}
	sample := Metrics{
		FPS:            fps,
		RenderMillis:   m.lastRenderMillis,
		Visible:        m.lastVisible,
		MemoryMB:       float64(ms.HeapAlloc) / (1 << 20),
		Elapsed:        now.Sub(m.started),
		Score:          score,
		SuggestedLevel: LevelForScore(score),
		Idle:           idle,
	}
	m.last = sample
	m.metrics.SetPerformance(sample.FPS, sample.Score, sample.Visible)
	m.metricsStream.Publish(sample)

	// A scene that drew nothing is at rest, not slow.
	if m.autoEnabled() && !idle {
		m.suggest(sample.SuggestedLevel)
	}
	return sample
}

// suggest switches the effective level once Stability consecutive samples agree on it.
func (m *Monitor) suggest(suggested Level) {
	if suggested == m.cfg.Effective {
		m.pending, m.streak = "", 0
		return
	}
	if suggested != m.pending {
		m.pending, m.streak = suggested, 0
	}
	m.streak++
	if m.streak < m.opts.Stability {
		return
	}
	m.pending, m.streak = "", 0

	level := m.cfg.Level
	if level != LevelAuto {
		level = suggested
	}
	m.applyConfig(configFor(level, m.cfg.AutoOptimize, suggested))
}

// Start samples every SampleInterval on the scheduler.
func (m *Monitor) Start() {
	if m.timer != nil {
		return
	}
	m.timer = m.sched.After(m.opts.SampleInterval, func() {
		m.timer = nil
		m.Sample()
		m.Start()
	})
}

func (m *Monitor) Stop() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Close stops sampling and closes the streams.
func (m *Monitor) Close() {
	m.Stop()
	m.metricsStream.Close()
	m.configStream.Close()
}
