package engine

import (
	"sync"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/scheduler"
)

// Statistics summarizes the dataset. Generation increases with every recomputation; a result
// older than the latest request is discarded.
type Statistics struct {
	Generation          uint64                       `json:"generation"`
	TotalElements       int                          `json:"total_elements"`
	TotalConnections    int                          `json:"total_connections"`
	Previews            int                          `json:"previews"`
	Positioned          int                          `json:"positioned"`
	ByType              map[model.ElementType]int    `json:"by_type"`
	ByStatus            map[model.ElementStatus]int  `json:"by_status"`
	ConnectionsByType   map[model.ConnectionType]int `json:"connections_by_type"`
	ConnectionsByStatus map[model.ElementStatus]int  `json:"connections_by_status"`
	Rendered            int                          `json:"rendered"`
	Clusters            int                          `json:"clusters"`
}

type statsJob struct {
	gen         uint64
	elements    []model.NetworkElement
	previews    int
	connections []model.NetworkConnection
}

func computeStatistics(job statsJob) Statistics {
	st := Statistics{
		Generation:          job.gen,
		TotalElements:       len(job.elements),
		TotalConnections:    len(job.connections),
		Previews:            job.previews,
		ByType:              make(map[model.ElementType]int),
		ByStatus:            make(map[model.ElementStatus]int),
		ConnectionsByType:   make(map[model.ConnectionType]int),
		ConnectionsByStatus: make(map[model.ElementStatus]int),
	}
	for _, el := range job.elements {
		st.ByType[el.Type]++
		st.ByStatus[el.Status]++
		if el.HasPosition() {
			st.Positioned++
		}
	}
	for _, c := range job.connections {
		st.ConnectionsByType[c.Type]++
		st.ConnectionsByStatus[c.Status]++
	}
	return st
}

// statsWorker computes statistics off the main turn. Only the newest pending job is kept.
type statsWorker struct {
	log     zerolog.Logger
	sched   scheduler.Scheduler
	publish func(Statistics)

	in       chan statsJob
	quit     chan struct{}
	stopOnce sync.Once
}

func startStatsWorker(log zerolog.Logger, sched scheduler.Scheduler, publish func(Statistics)) *statsWorker {
	w := &statsWorker{
		log:     log.With().Str("component", "statistics").Logger(),
		sched:   sched,
		publish: publish,
		in:      make(chan statsJob, 1),
		quit:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *statsWorker) submit(job statsJob) {
	for {
		select {
		case w.in <- job:
			return
		case <-w.quit:
			return
		default:
		}
		// Replace the stale job waiting in the buffer.
		select {
		case <-w.in:
		default:
		}
	}
}

func (w *statsWorker) run() {
	for {
		select {
		case <-w.quit:
			return
		case job := <-w.in:
			st := computeStatistics(job)
			w.log.Debug().Uint64("generation", st.Generation).Int("elements", st.TotalElements).Msg("statistics computed")
			w.sched.Post(func() { w.publish(st) })
		}
	}
}

func (w *statsWorker) stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

// requestStatistics queues a recomputation for the current dataset.
func (e *Engine) requestStatistics() {
	e.statsGen++
	if e.stats == nil {
		return
	}
	e.stats.submit(statsJob{
		gen:         e.statsGen,
		elements:    e.data.list(),
		previews:    len(e.data.previews),
		connections: append([]model.NetworkConnection(nil), e.data.connections...),
	})
}

func (e *Engine) publishStatistics(st Statistics) {
	if e.destroyed || st.Generation != e.statsGen {
		return
	}
	st.Rendered = len(e.scene.rendered)
	st.Clusters = e.scene.clusterCount
	e.streams.statistics.Publish(st)
}
