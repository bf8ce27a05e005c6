package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes map engine metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	frameDuration       *prometheus.HistogramVec
	fps                 prometheus.Gauge
	performanceScore    prometheus.Gauge
	visibleElements     prometheus.Gauge
	optimizationLevel   *prometheus.GaugeVec
	droppedLinks        prometheus.Counter
	clusters            prometheus.Gauge
	syncRunsTotal       *prometheus.CounterVec
	syncRunDuration     prometheus.Histogram
	streamClients       prometheus.Gauge
}

// New creates a fresh Metrics registry with HTTP, render and sync metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fibermap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the map engine",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fibermap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the map engine",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	frameDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fibermap",
		Name:      "frame_render_seconds",
		Help:      "Time spent drawing one frame, by backend",
		Buckets:   []float64{0.001, 0.004, 0.008, 0.016, 0.033, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"backend"})

	fps := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fibermap",
		Name:      "frames_per_second",
		Help:      "Most recent frame rate sample",
	})

	performanceScore := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fibermap",
		Name:      "performance_score",
		Help:      "Performance score from 0 to 100",
	})

	visibleElements := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fibermap",
		Name:      "visible_elements",
		Help:      "Elements in the current working set",
	})

	optimizationLevel := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fibermap",
		Name:      "optimization_level",
		Help:      "Active optimization level (1 for the active level, 0 otherwise)",
	}, []string{"level"})

	droppedLinks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fibermap",
		Name:      "dropped_links_total",
		Help:      "Connections dropped because an endpoint was missing",
	})

	clusters := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fibermap",
		Name:      "clusters",
		Help:      "Clusters in the last clustering pass",
	})

	syncRunsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fibermap",
		Name:      "sync_runs_total",
		Help:      "Total number of repository sync runs, by result",
	}, []string{"result"})

	syncRunDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fibermap",
		Name:      "sync_run_duration_seconds",
		Help:      "Duration of repository snapshot loads",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	streamClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fibermap",
		Name:      "event_stream_clients",
		Help:      "Connected websocket event stream clients",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		frameDuration,
		fps,
		performanceScore,
		visibleElements,
		optimizationLevel,
		droppedLinks,
		clusters,
		syncRunsTotal,
		syncRunDuration,
		streamClients,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		frameDuration:       frameDuration,
		fps:                 fps,
		performanceScore:    performanceScore,
		visibleElements:     visibleElements,
		optimizationLevel:   optimizationLevel,
		droppedLinks:        droppedLinks,
		clusters:            clusters,
		syncRunsTotal:       syncRunsTotal,
		syncRunDuration:     syncRunDuration,
		streamClients:       streamClients,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveFrame records one drawn frame.
func (m *Metrics) ObserveFrame(backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.frameDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// SetPerformance mirrors the latest performance sample.
func (m *Metrics) SetPerformance(fps, score float64, visible int) {
	if m == nil {
		return
	}
	m.fps.Set(fps)
	m.performanceScore.Set(score)
	m.visibleElements.Set(float64(visible))
}

// SetOptimizationLevel marks level as the active one among levels.
func (m *Metrics) SetOptimizationLevel(level string, levels []string) {
	if m == nil {
		return
	}
	for _, l := range levels {
		v := 0.0
		if l == level {
			v = 1
		}
		m.optimizationLevel.WithLabelValues(l).Set(v)
	}
}

func (m *Metrics) AddDroppedLinks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedLinks.Add(float64(n))
}

func (m *Metrics) SetClusters(n int) {
	if m == nil {
		return
	}
	m.clusters.Set(float64(n))
}

// IncSyncRun counts a sync run with result "ok" or "error".
func (m *Metrics) IncSyncRun(result string) {
	if m == nil {
		return
	}
	m.syncRunsTotal.WithLabelValues(result).Inc()
}

// ObserveSyncRunDuration observes a repository snapshot load duration.
func (m *Metrics) ObserveSyncRunDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.syncRunDuration.Observe(duration.Seconds())
}

func (m *Metrics) AddStreamClients(delta int) {
	if m == nil {
		return
	}
	m.streamClients.Add(float64(delta))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
