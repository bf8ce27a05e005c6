package engine

import (
	"sort"
	"time"

	"github.com/paulmach/orb"

	"fibermap/core-go/internal/cluster"
	"fibermap/core-go/internal/loader"
	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/perf"
	"fibermap/core-go/internal/render"
	"fibermap/core-go/internal/scene"
	"fibermap/core-go/internal/viewport"
)

// dataset is the engine's copy of repository state plus uncommitted previews.
type dataset struct {
	elements    map[string]model.NetworkElement
	connections []model.NetworkConnection
	previews    map[string]model.NetworkElement
}

func newDataset() dataset {
	return dataset{
		elements: make(map[string]model.NetworkElement),
		previews: make(map[string]model.NetworkElement),
	}
}

// list returns committed elements followed by previews, each sorted by id.
func (d dataset) list() []model.NetworkElement {
	out := make([]model.NetworkElement, 0, len(d.elements)+len(d.previews))
	for _, el := range d.elements {
		out = append(out, el)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	n := len(out)
	for id, el := range d.previews {
		if _, committed := d.elements[id]; !committed {
			out = append(out, el)
		}
	}
	previews := out[n:]
	sort.Slice(previews, func(i, j int) bool { return previews[i].ID < previews[j].ID })
	return out
}

func (d dataset) lookup(id string) (model.NetworkElement, bool) {
	if el, ok := d.elements[id]; ok {
		return el, true
	}
	el, ok := d.previews[id]
	return el, ok
}

func (d dataset) connection(id string) (model.NetworkConnection, bool) {
	for _, c := range d.connections {
		if c.ID == id {
			return c, true
		}
	}
	return model.NetworkConnection{}, false
}

func (d *dataset) removeElement(id string) {
	delete(d.elements, id)
	delete(d.previews, id)
	kept := d.connections[:0]
	for _, c := range d.connections {
		if c.SourceID != id && c.TargetID != id {
			kept = append(kept, c)
		}
	}
	d.connections = kept
}

// sceneState is what the engine last handed to the backend.
type sceneState struct {
	nodes []*scene.RenderNode
	links []*scene.RenderLink

	visibleNodes []*scene.RenderNode
	visibleLinks []*scene.RenderLink

	rendered      []*scene.RenderNode
	renderedLinks []*scene.RenderLink
	index         map[string]*scene.RenderNode
	// owner maps an element id to the aggregate node that absorbed it.
	owner map[string]string

	clusterActive bool
	clusterCount  int
	presentedZoom float64

	selected           string
	selectedConnection string
}

// rebuild adapts the dataset into fresh render records and reloads the working set.
func (e *Engine) rebuild() {
	e.requestStatistics()
	if !e.initialized {
		return
	}

	nodes := e.adapter.Nodes(e.data.list())
	for _, n := range nodes {
		if _, ok := e.data.previews[n.ID]; ok {
			n.Preview = true
		}
	}
	links := e.adapter.Links(e.data.connections, nodes)
	if d := e.adapter.Dropped() - e.dropped; d > 0 {
		e.metrics.AddDroppedLinks(d)
		e.dropped = e.adapter.Dropped()
	}

	e.scene.nodes, e.scene.links = nodes, links
	// Cached clusters point at the previous pass's nodes.
	e.clusters.Invalidate()
	e.loader.SetData(nodes, links)
	e.reload()
}

// reload windows the data through the loader, or presents everything when virtualization
// is off.
func (e *Engine) reload() {
	if e.perfCfg.VirtualizationEnabled {
		e.loader.LoadNow()
		return
	}
	e.loader.Cancel()
	e.loaded(e.loader.LoadAll())
}

func (e *Engine) loaded(res loader.Result) {
	e.scene.visibleNodes = res.Nodes
	e.scene.visibleLinks = res.Links
	e.present(true)
}

// present clusters the working set when the zoom calls for it and hands the result to the
// layout and the backend.
func (e *Engine) present(reheat bool) {
	zoom := e.view.NormalizedZoom()
	nodes, links := e.scene.visibleNodes, e.scene.visibleLinks

	active := e.clusters.Active(zoom)
	var owner map[string]string
	aggregates := 0
	if active {
		cs := e.clusters.Clusters(nodes, zoom)
		nodes = cluster.Nodes(cs)
		owner = make(map[string]string)
		for _, c := range cs {
			if c.Individual() {
				continue
			}
			aggregates++
			for _, m := range c.Members {
				owner[m.ID] = c.ID
			}
		}
		links = rewire(links, owner, scene.Index(nodes))
	}

	e.scene.rendered = nodes
	e.scene.renderedLinks = links
	e.scene.index = scene.Index(nodes)
	e.scene.owner = owner
	e.scene.clusterActive = active
	e.scene.clusterCount = aggregates
	e.scene.presentedZoom = zoom
	e.metrics.SetClusters(aggregates)

	e.sim.SetGraph(nodes, links)
	if reheat {
		e.sim.Restart(e.sim.Options().ReheatAlpha)
	}
	e.backend.UpdateNodes(nodes)
	e.backend.UpdateLinks(links)
	e.highlight()
	e.backend.UpdatePositions()
}

// rewire points links at the aggregates that absorbed their endpoints. Links inside one
// aggregate disappear; parallel links between the same pair collapse into one.
func rewire(links []*scene.RenderLink, owner map[string]string, index map[string]*scene.RenderNode) []*scene.RenderLink {
	out := make([]*scene.RenderLink, 0, len(links))
	merged := make(map[string]int)
	for _, l := range links {
		src, dst := l.SourceID, l.TargetID
		if id, ok := owner[src]; ok {
			src = id
		}
		if id, ok := owner[dst]; ok {
			dst = id
		}
		if src == dst {
			continue
		}
		if src == l.SourceID && dst == l.TargetID {
			out = append(out, l)
			continue
		}

		key := pairKey(src, dst)
		if i, ok := merged[key]; ok {
			out[i].Strength = max(out[i].Strength, l.Strength)
			continue
		}
		s, t := index[src], index[dst]
		if s == nil || t == nil {
			continue
		}
		merged[key] = len(out)
		out = append(out, &scene.RenderLink{
			ID:         "agg-" + key,
			Connection: l.Connection,
			Source:     s,
			Target:     t,
			SourceID:   src,
			TargetID:   dst,
			Strength:   l.Strength,
		})
	}
	return out
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func (e *Engine) viewportChanged(viewport.Transform) {
	e.centerSimulation()
	if e.perfCfg.VirtualizationEnabled {
		e.loader.ViewportChanged()
	}

	zoom := e.view.NormalizedZoom()
	active := e.clusters.Active(zoom)
	if active != e.scene.clusterActive || (active && zoom != e.scene.presentedZoom) {
		e.present(false)
		return
	}
	e.backend.UpdatePositions()
}

func (e *Engine) applyPerfConfig(cfg perf.Config) {
	prev := e.perfCfg
	e.perfCfg = cfg
	e.loader.SetMaxVisible(cfg.MaxVisibleElements)
	e.clusters.SetEnabled(e.cfg.Cluster.Enabled && cfg.ClusteringEnabled)

	if !e.initialized {
		return
	}
	if prev.VirtualizationEnabled != cfg.VirtualizationEnabled ||
		prev.MaxVisibleElements != cfg.MaxVisibleElements ||
		prev.ClusteringEnabled != cfg.ClusteringEnabled {
		e.reload()
	}
}

func (e *Engine) frameDrawn(s render.Stats) {
	d := time.Duration(s.RenderMillis * float64(time.Millisecond))
	visible := s.Drawn
	if visible == 0 {
		visible = s.Nodes
	}
	e.monitor.RecordFrame(d, visible)
	e.metrics.ObserveFrame(e.backend.Name(), d)
}

// centerSimulation aims the layout's centering force at the middle of the viewport.
func (e *Engine) centerSimulation() {
	cx, cy := e.view.ViewportBounds().Center()
	e.sim.SetCenter(cx, cy)
}

func (e *Engine) contentBounds() (viewport.Bounds, bool) {
	points := make([]orb.Point, 0, len(e.scene.rendered))
	for _, n := range e.scene.rendered {
		points = append(points, orb.Point{n.X, n.Y})
	}
	return viewport.BoundsOf(points)
}

// highlight forwards the selection to the backend, following it into an aggregate when the
// selected element was absorbed by one.
func (e *Engine) highlight() {
	if !e.initialized {
		return
	}
	id := e.scene.selected
	if owner, ok := e.scene.owner[id]; ok {
		id = owner
	}
	e.backend.HighlightSelected(id)
}
