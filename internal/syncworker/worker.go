// Package syncworker keeps the map engine in step with the element repository: it loads a
// snapshot, follows the change feed and starts over with backoff when the feed fails.
package syncworker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/metrics"
	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/repository"
)

// Sink receives repository state. Implementations must be safe to call from the worker
// goroutine; the engine marshals both calls onto its main turn.
type Sink interface {
	Replace(ctx context.Context, elements []model.NetworkElement, connections []model.NetworkConnection) error
	Apply(ctx context.Context, ev model.ElementEvent) error
}

type Worker struct {
	log            zerolog.Logger
	repo           repository.Repository
	sink           Sink
	retryInterval  time.Duration
	maxBackoff     time.Duration
	resyncInterval time.Duration
	metrics        *metrics.Metrics

	synced   atomic.Bool
	failures atomic.Int64
	lastSync atomic.Int64
	applied  atomic.Int64
}

type Options struct {
	// RetryInterval is the base delay before retrying after a failure.
	RetryInterval time.Duration
	MaxBackoff    time.Duration
	// ResyncInterval forces a fresh snapshot even while the feed is healthy. Zero disables it.
	ResyncInterval time.Duration
}

func New(log zerolog.Logger, repo repository.Repository, sink Sink, opts Options, m *metrics.Metrics) *Worker {
	ri := opts.RetryInterval
	if ri <= 0 {
		ri = 400 * time.Millisecond
	}
	mb := opts.MaxBackoff
	if mb <= 0 {
		mb = 10 * time.Second
	}
	rs := opts.ResyncInterval
	if rs < 0 {
		rs = 0
	}
	return &Worker{
		log:            log,
		repo:           repo,
		sink:           sink,
		retryInterval:  ri,
		maxBackoff:     mb,
		resyncInterval: rs,
		metrics:        m,
	}
}

// Synced reports whether at least one snapshot reached the sink.
func (w *Worker) Synced() bool {
	return w != nil && w.synced.Load()
}

// LastSync returns the time of the most recent successful snapshot.
func (w *Worker) LastSync() time.Time {
	if w == nil {
		return time.Time{}
	}
	ns := w.lastSync.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (w *Worker) ConsecutiveFailures() int {
	if w == nil {
		return 0
	}
	return int(w.failures.Load())
}

// Applied counts change events forwarded to the sink.
func (w *Worker) Applied() int64 {
	if w == nil {
		return 0
	}
	return w.applied.Load()
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.repo == nil || w.sink == nil {
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		err := w.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			consecutiveFailures++
			w.log.Warn().Err(err).Int("failures", consecutiveFailures).Msg("element sync interrupted")
		} else {
			consecutiveFailures = 0
		}
		w.failures.Store(int64(consecutiveFailures))

		timer.Reset(backoffDuration(w.retryInterval, w.maxBackoff, consecutiveFailures))
	}
}

// runOnce loads a snapshot and follows the change feed. It returns nil when a scheduled
// resync ends the watch.
func (w *Worker) runOnce(ctx context.Context) error {
	if err := w.snapshot(ctx); err != nil {
		return err
	}

	watchCtx := ctx
	if w.resyncInterval > 0 {
		var cancel context.CancelFunc
		watchCtx, cancel = context.WithTimeout(ctx, w.resyncInterval)
		defer cancel()
	}

	err := w.repo.Watch(watchCtx, func(ev model.ElementEvent) {
		if err := w.sink.Apply(ctx, ev); err != nil {
			w.log.Warn().Err(err).Str("element_id", ev.Element.ID).Str("kind", string(ev.Kind)).Msg("element event not applied")
			return
		}
		w.applied.Add(1)
	})
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		w.log.Debug().Dur("interval", w.resyncInterval).Msg("scheduled element resync")
		return nil
	}
	return err
}

func (w *Worker) snapshot(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		w.metrics.IncSyncRun(result)
		w.metrics.ObserveSyncRunDuration(time.Since(start))
	}()

	elements, err := w.repo.Elements(ctx)
	if err != nil {
		return err
	}
	connections, err := w.repo.Connections(ctx)
	if err != nil {
		return err
	}
	if err := w.sink.Replace(ctx, elements, connections); err != nil {
		return err
	}

	w.synced.Store(true)
	w.lastSync.Store(time.Now().UnixNano())
	w.log.Info().Int("elements", len(elements)).Int("connections", len(connections)).Msg("element snapshot loaded")
	return nil
}

func backoffDuration(base, ceiling time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = 400 * time.Millisecond
	}
	if ceiling <= 0 {
		ceiling = 10 * time.Second
	}
	if failures <= 0 {
		return base
	}

	// Exponential-ish backoff: base * 2^failures, capped.
	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > ceiling {
		return ceiling
	}
	return d
}
