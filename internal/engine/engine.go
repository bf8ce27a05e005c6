// Package engine wires the viewport, scene adapter, loader, clustering, layout, rendering
// backend, interaction machine and performance monitor into the map surface the UI talks to.
//
// Every exported method except Do, Replace, Apply and the stream accessors must run on the
// scheduler's main turn. Other goroutines reach the engine through Do.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/cluster"
	"fibermap/core-go/internal/interaction"
	"fibermap/core-go/internal/layout"
	"fibermap/core-go/internal/loader"
	"fibermap/core-go/internal/metrics"
	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/perf"
	"fibermap/core-go/internal/pubsub"
	"fibermap/core-go/internal/render"
	"fibermap/core-go/internal/render/batch"
	"fibermap/core-go/internal/render/vector"
	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/scheduler"
	"fibermap/core-go/internal/viewport"
)

var (
	ErrNotInitialized = errors.New("map engine is not initialized")
	ErrDestroyed      = errors.New("map engine destroyed")
	ErrUnknownBackend = errors.New("unknown render backend")
	ErrUnknownElement = errors.New("unknown element")
)

// fitPadding is the screen margin kept around content by FitContentToScreen.
const fitPadding = 40

type Config struct {
	// Surface is the render container. A nil surface fails initialization.
	Surface  viewport.Container
	Viewport viewport.Config
	// Backend is "vector" or "batch".
	Backend  string
	DarkMode bool
	// Declutter lets the layout move elements that carry coordinates.
	Declutter bool
	// InferTypes guesses the type of untyped elements from their names.
	InferTypes bool
	Layout     layout.Options
	Cluster    cluster.Options
	Loader     loader.Options
	Perf       perf.Options
	Batch      batch.Options
}

// doer is implemented by schedulers that can run a callback on the main turn and wait for it.
type doer interface {
	Do(ctx context.Context, fn func()) error
}

type Engine struct {
	log     zerolog.Logger
	sched   scheduler.Scheduler
	metrics *metrics.Metrics

	cfg         Config
	initialized bool
	destroyed   bool

	view     *viewport.Manager
	adapter  *scene.Adapter
	sim      *layout.Simulation
	clusters *cluster.Engine
	loader   *loader.Loader
	backend  render.Backend
	machine  *interaction.Machine
	monitor  *perf.Monitor

	data    dataset
	scene   sceneState
	perfCfg perf.Config
	pan     panGesture

	dropped  int
	unsubs   []func()
	stats    *statsWorker
	statsGen uint64

	streams streams
}

type streams struct {
	ready              *pubsub.Stream[bool]
	elementSelected    *pubsub.Stream[ElementSelection]
	connectionSelected *pubsub.Stream[ConnectionSelection]
	measurement        *pubsub.Stream[interaction.Measurement]
	areaSelection      *pubsub.Stream[interaction.AreaSelection]
	statistics         *pubsub.Stream[Statistics]
	connectionCreated  *pubsub.Stream[model.NetworkConnection]
	loading            *pubsub.Stream[loader.Metrics]
	tool               *pubsub.Stream[interaction.Tool]
}

func New(log zerolog.Logger, sched scheduler.Scheduler, m *metrics.Metrics) *Engine {
	return &Engine{
		log:     log.With().Str("component", "engine").Logger(),
		sched:   sched,
		metrics: m,
		data:    newDataset(),
		streams: streams{
			ready:              pubsub.NewReplayStream[bool](4),
			elementSelected:    pubsub.NewStream[ElementSelection](32),
			connectionSelected: pubsub.NewStream[ConnectionSelection](32),
			measurement:        pubsub.NewStream[interaction.Measurement](32),
			areaSelection:      pubsub.NewStream[interaction.AreaSelection](32),
			statistics:         pubsub.NewReplayStream[Statistics](8),
			connectionCreated:  pubsub.NewStream[model.NetworkConnection](32),
			loading:            pubsub.NewReplayStream[loader.Metrics](32),
			tool:               pubsub.NewReplayStream[interaction.Tool](8),
		},
	}
}

// Do runs fn on the main turn and waits for it. With a scheduler that cannot wait, such as
// scheduler.Manual in tests, fn runs inline on the caller.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	if d, ok := e.sched.(doer); ok {
		return d.Do(ctx, fn)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}

// InitializeMap builds the pipeline on cfg.Surface and renders any data already supplied
// through UpdateMapElements. A missing surface is the only fatal error.
func (e *Engine) InitializeMap(cfg Config) error {
	if e.destroyed {
		return ErrDestroyed
	}
	if viewport.Missing(cfg.Surface) {
		e.log.Error().Msg("initialize map: render surface is missing")
		return viewport.ErrNoContainer
	}
	if e.initialized {
		e.teardown()
	}

	view := viewport.NewManager(e.log, e.sched)
	if err := view.Initialize(cfg.Surface, cfg.Viewport); err != nil {
		return err
	}
	w, h := view.Size()

	backend, err := e.newBackend(cfg, view)
	if err != nil {
		return err
	}
	if err := backend.Initialize(cfg.Surface, w, h); err != nil {
		return fmt.Errorf("initialize %s backend: %w", backend.Name(), err)
	}
	backend.SetDarkMode(cfg.DarkMode)

	if cfg.Cluster == (cluster.Options{}) {
		cfg.Cluster = cluster.DefaultOptions()
	}
	// Cluster distances are in pixels; normalized zoom times the initial zoom is the scale.
	cfg.Cluster.Scale = view.Config().InitialZoom

	e.cfg = cfg
	e.view = view
	e.backend = backend
	e.adapter = scene.NewAdapter(e.log, view)
	e.adapter.Declutter = cfg.Declutter
	e.adapter.InferTypes = cfg.InferTypes
	e.dropped = 0

	e.sim = layout.NewSimulation(e.log, e.sched, cfg.Layout)
	e.clusters = cluster.NewEngine(e.log, e.sched, cfg.Cluster)
	e.loader = loader.New(e.log, e.sched, view, cfg.Loader)
	e.monitor = perf.NewMonitor(e.log, e.sched, e.metrics, cfg.Perf)
	e.machine = interaction.NewMachine(e.log, e.sched, backend, view, interaction.Hooks{
		ClearSelection: func() { e.SelectElement(nil) },
		Measured:       e.streams.measurement.Publish,
		AreaSelected:   e.areaSelected,
		Overlay:        backend.SetOverlay,
		ToolChanged:    e.streams.tool.Publish,
	})
	e.streams.tool.Publish(e.machine.Current())

	e.centerSimulation()
	e.wire()
	e.applyPerfConfig(e.monitor.Config())
	e.monitor.Start()
	e.stats = startStatsWorker(e.log, e.sched, e.publishStatistics)

	e.initialized = true
	e.scene = sceneState{}
	e.rebuild()

	e.log.Info().
		Str("backend", backend.Name()).
		Int("width", w).
		Int("height", h).
		Msg("map initialized")
	e.streams.ready.Publish(true)
	return nil
}

func (e *Engine) newBackend(cfg Config, view *viewport.Manager) (render.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "vector", "svg":
		return vector.New(e.log, view), nil
	case "batch", "gpu", "webgl":
		return batch.New(e.log, view, e.sched, cfg.Batch), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// wire connects the components to each other. Every registration is undone by teardown.
func (e *Engine) wire() {
	e.backend.SetDragger(e.sim)
	e.backend.SetNodeClick(e.nodeClicked)
	e.backend.OnFrame(e.frameDrawn)

	e.unsubs = append(e.unsubs,
		e.sim.OnTick(func(int) { e.backend.UpdatePositions() }),
		e.view.Subscribe(e.viewportChanged),
	)
	e.loader.OnLoaded(e.loaded)
	e.loader.OnMetrics(e.streams.loading.Publish)
	e.monitor.OnConfig(e.applyPerfConfig)
}

func (e *Engine) teardown() {
	for _, fn := range e.unsubs {
		fn()
	}
	e.unsubs = nil
	e.pan = panGesture{}
	if e.stats != nil {
		e.stats.stop()
		e.stats = nil
	}
	if e.sim != nil {
		e.sim.Stop()
	}
	if e.loader != nil {
		e.loader.Cancel()
	}
	if e.monitor != nil {
		e.monitor.Close()
	}
	if e.machine != nil {
		e.machine.Close()
	}
	if e.backend != nil {
		e.backend.Close()
	}
	e.initialized = false
}

// Ready reports whether InitializeMap has succeeded and Destroy has not been called.
func (e *Engine) Ready() bool {
	return e.initialized && !e.destroyed
}

// ClearMap drops every element, connection and preview and empties the scene. The engine
// stays initialized.
func (e *Engine) ClearMap() {
	e.data = newDataset()
	e.scene.selected = ""
	e.scene.selectedConnection = ""
	if !e.initialized {
		return
	}
	e.loader.Cancel()
	e.sim.Stop()
	e.machine.ClearMeasurements()
	e.backend.Clear()
	e.rebuild()
}

// RefreshMapSize re-reads the surface size and reheats the layout.
func (e *Engine) RefreshMapSize() error {
	if !e.initialized {
		return ErrNotInitialized
	}
	e.view.Refresh()
	w, h := e.view.Size()
	e.backend.Resize(w, h)
	e.centerSimulation()
	e.sim.Restart(e.sim.Options().ReheatAlpha)
	e.backend.UpdatePositions()
	return nil
}

func (e *Engine) SetZoom(level float64, animate bool) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	e.view.SetZoom(level, animate)
	return nil
}

func (e *Engine) CenterOnCoordinates(pos model.GeoPosition) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	wx, wy := e.view.GeoToWorld(pos.Lat, pos.Lng)
	e.view.CenterOnWorld(wx, wy)
	return nil
}

// FitContentToScreen zooms to the bounding box of every rendered node.
func (e *Engine) FitContentToScreen() error {
	if !e.initialized {
		return ErrNotInitialized
	}
	b, ok := e.contentBounds()
	if !ok {
		return nil
	}
	e.view.FitBounds(b, fitPadding)
	return nil
}

func (e *Engine) SetDarkMode(dark bool) {
	e.cfg.DarkMode = dark
	if e.initialized {
		e.backend.SetDarkMode(dark)
	}
}

func (e *Engine) SetOptimizationLevel(level string) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	e.monitor.SetOptimizationLevel(perf.CanonicalizeLevel(level))
	return nil
}

func (e *Engine) SetAutoOptimization(enabled bool) error {
	if !e.initialized {
		return ErrNotInitialized
	}
	e.monitor.SetAutoOptimization(enabled)
	return nil
}

// RenderFrame writes the backend's current frame.
func (e *Engine) RenderFrame(w io.Writer) (contentType string, err error) {
	if !e.initialized {
		return "", ErrNotInitialized
	}
	if err := e.backend.Render(w); err != nil {
		return "", err
	}
	return e.backend.ContentType(), nil
}

// Destroy unsubscribes every binding, stops the layout and closes all streams. It is safe
// to call more than once.
func (e *Engine) Destroy() {
	if e.destroyed {
		return
	}
	e.teardown()
	e.destroyed = true
	e.streams.ready.Publish(false)

	e.streams.ready.Close()
	e.streams.elementSelected.Close()
	e.streams.connectionSelected.Close()
	e.streams.measurement.Close()
	e.streams.areaSelection.Close()
	e.streams.statistics.Close()
	e.streams.connectionCreated.Close()
	e.streams.loading.Close()
	e.streams.tool.Close()
	e.log.Info().Msg("map destroyed")
}

func (e *Engine) MapReady() *pubsub.Stream[bool] { return e.streams.ready }

func (e *Engine) ElementSelected() *pubsub.Stream[ElementSelection] {
	return e.streams.elementSelected
}

func (e *Engine) ConnectionSelected() *pubsub.Stream[ConnectionSelection] {
	return e.streams.connectionSelected
}

func (e *Engine) MeasurementCompleted() *pubsub.Stream[interaction.Measurement] {
	return e.streams.measurement
}

func (e *Engine) AreaSelected() *pubsub.Stream[interaction.AreaSelection] {
	return e.streams.areaSelection
}

func (e *Engine) MapStatistics() *pubsub.Stream[Statistics] { return e.streams.statistics }

func (e *Engine) ConnectionCreated() *pubsub.Stream[model.NetworkConnection] {
	return e.streams.connectionCreated
}

func (e *Engine) LoadingMetrics() *pubsub.Stream[loader.Metrics] { return e.streams.loading }

func (e *Engine) ToolChanged() *pubsub.Stream[interaction.Tool] { return e.streams.tool }

// PerformanceMetrics is nil until the map is initialized.
func (e *Engine) PerformanceMetrics() *pubsub.Stream[perf.Metrics] {
	if e.monitor == nil {
		return nil
	}
	return e.monitor.MetricsStream()
}

// OptimizationConfig is nil until the map is initialized.
func (e *Engine) OptimizationConfig() *pubsub.Stream[perf.Config] {
	if e.monitor == nil {
		return nil
	}
	return e.monitor.ConfigStream()
}
