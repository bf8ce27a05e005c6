package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"fibermap/core-go/internal/interaction"
	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/viewport"
)

// ElementSelection is published on the element-selected stream. Both fields are empty when
// the selection is cleared; Members is set when an aggregate was picked.
type ElementSelection struct {
	Element   *model.NetworkElement `json:"element"`
	ClusterID string                `json:"cluster_id,omitempty"`
	Members   []string              `json:"members,omitempty"`
}

type ConnectionSelection struct {
	Connection *model.NetworkConnection `json:"connection"`
}

// NodeView is a read-only snapshot of one rendered node.
type NodeView struct {
	ID       string              `json:"id"`
	Label    string              `json:"label"`
	Type     model.ElementType   `json:"type"`
	Status   model.ElementStatus `json:"status"`
	Color    string              `json:"color"`
	Lat      float64             `json:"lat"`
	Lng      float64             `json:"lng"`
	X        float64             `json:"x"`
	Y        float64             `json:"y"`
	Count    int                 `json:"count"`
	Members  []string            `json:"members,omitempty"`
	Preview  bool                `json:"preview,omitempty"`
	Selected bool                `json:"selected,omitempty"`
}

// SelectElement highlights el and announces it. A nil element clears the selection.
func (e *Engine) SelectElement(el *model.NetworkElement) {
	if el == nil {
		if e.scene.selected == "" {
			return
		}
		e.scene.selected = ""
		e.highlight()
		e.streams.elementSelected.Publish(ElementSelection{})
		return
	}

	cp := *el
	e.scene.selected = cp.ID
	e.scene.selectedConnection = ""
	e.highlight()
	e.streams.elementSelected.Publish(ElementSelection{Element: &cp})
}

// SelectedElement returns the id of the selected element, if any.
func (e *Engine) SelectedElement() string { return e.scene.selected }

// SelectConnection announces a connection as selected.
func (e *Engine) SelectConnection(id string) error {
	c, ok := e.data.connection(id)
	if !ok {
		return fmt.Errorf("connection %q: %w", id, ErrUnknownElement)
	}
	e.scene.selectedConnection = id
	e.streams.connectionSelected.Publish(ConnectionSelection{Connection: &c})
	return nil
}

func (e *Engine) nodeClicked(id string) {
	n, ok := e.scene.index[id]
	if !ok {
		return
	}
	if n.IsCluster() {
		e.zoomToMembers(n.Members)
		members := append([]string(nil), n.Members...)
		e.streams.elementSelected.Publish(ElementSelection{ClusterID: n.ID, Members: members})
		return
	}
	if el, ok := e.data.lookup(id); ok {
		e.SelectElement(&el)
		return
	}
	if n.Element != nil {
		e.SelectElement(n.Element)
	}
}

// zoomToMembers fits the view to the positions of the given elements.
func (e *Engine) zoomToMembers(ids []string) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	points := make([]orb.Point, 0, len(ids))
	for _, n := range e.scene.visibleNodes {
		if _, ok := want[n.ID]; ok {
			points = append(points, orb.Point{n.X, n.Y})
		}
	}
	if b, ok := viewport.BoundsOf(points); ok {
		e.view.FitBounds(b, fitPadding)
	}
}

func (e *Engine) areaSelected(sel interaction.AreaSelection) {
	e.streams.areaSelection.Publish(sel)
}

// AddElementAtPosition places el as an uncommitted preview at screen pixel (x, y). An empty
// id is replaced with a fresh UUID. The placed element is returned.
func (e *Engine) AddElementAtPosition(el model.NetworkElement, x, y float64) (model.NetworkElement, error) {
	if !e.initialized {
		return model.NetworkElement{}, ErrNotInitialized
	}
	if strings.TrimSpace(el.ID) == "" {
		el.ID = uuid.NewString()
	}
	p := e.view.PixelToGeo(x, y)
	el.Position = &model.GeoPosition{Lat: p.Lat(), Lng: p.Lon()}
	if el.Status == "" {
		el.Status = model.StatusPlanned
	}
	if el.Type == "" {
		el.Type = model.ElementUnknown
	}

	e.data.previews[el.ID] = el
	e.rebuild()
	return el, nil
}

// HandleConnection links two known elements with a new connection and announces it on the
// connection-created stream. Persisting it is up to the subscriber.
func (e *Engine) HandleConnection(sourceID, targetID string, status model.ElementStatus) (model.NetworkConnection, error) {
	if sourceID == "" || targetID == "" || sourceID == targetID {
		return model.NetworkConnection{}, errors.New("connection needs two distinct endpoints")
	}
	for _, id := range []string{sourceID, targetID} {
		if _, ok := e.data.lookup(id); !ok {
			return model.NetworkConnection{}, fmt.Errorf("element %q: %w", id, ErrUnknownElement)
		}
	}
	if status == "" {
		status = model.StatusPlanned
	}

	c := model.NetworkConnection{
		ID:       uuid.NewString(),
		SourceID: sourceID,
		TargetID: targetID,
		Type:     model.ConnectionFiber,
		Status:   status,
	}
	e.data.connections = append(e.data.connections, c)
	e.rebuild()
	e.streams.connectionCreated.Publish(c)
	return c, nil
}

// UpdateMapElements replaces the dataset. Previews whose ids are now committed are dropped.
func (e *Engine) UpdateMapElements(elements []model.NetworkElement, connections []model.NetworkConnection) {
	next := make(map[string]model.NetworkElement, len(elements))
	for _, el := range elements {
		if el.ID == "" {
			e.log.Warn().Msg("skipping element without id")
			continue
		}
		next[el.ID] = el
	}
	for id := range e.data.previews {
		if _, ok := next[id]; ok {
			delete(e.data.previews, id)
		}
	}
	e.data.elements = next
	e.data.connections = append([]model.NetworkConnection(nil), connections...)

	if _, ok := e.data.lookup(e.scene.selected); e.scene.selected != "" && !ok {
		e.SelectElement(nil)
	}
	e.rebuild()
}

// ApplyElementEvent folds one repository change into the dataset.
func (e *Engine) ApplyElementEvent(ev model.ElementEvent) {
	id := ev.Element.ID
	if id == "" {
		e.log.Warn().Str("kind", string(ev.Kind)).Msg("ignoring element event without id")
		return
	}
	switch ev.Kind {
	case model.ElementCreated, model.ElementUpdated:
		e.data.elements[id] = ev.Element
		delete(e.data.previews, id)
	case model.ElementDeleted:
		e.data.removeElement(id)
		if e.scene.selected == id {
			e.SelectElement(nil)
		}
	default:
		e.log.Warn().Str("kind", string(ev.Kind)).Str("element_id", id).Msg("ignoring unknown element event")
		return
	}
	e.rebuild()
}

// Replace is UpdateMapElements for callers off the main turn.
func (e *Engine) Replace(ctx context.Context, elements []model.NetworkElement, connections []model.NetworkConnection) error {
	return e.Do(ctx, func() { e.UpdateMapElements(elements, connections) })
}

// Apply is ApplyElementEvent for callers off the main turn.
func (e *Engine) Apply(ctx context.Context, ev model.ElementEvent) error {
	return e.Do(ctx, func() { e.ApplyElementEvent(ev) })
}

// Elements returns committed elements followed by previews.
func (e *Engine) Elements() []model.NetworkElement {
	return e.data.list()
}

func (e *Engine) Connections() []model.NetworkConnection {
	return append([]model.NetworkConnection(nil), e.data.connections...)
}

// Nodes snapshots the rendered scene with geographic and screen coordinates.
func (e *Engine) Nodes() []NodeView {
	if !e.initialized {
		return nil
	}
	t := e.view.Transform()
	selected := e.scene.selected
	if owner, ok := e.scene.owner[selected]; ok {
		selected = owner
	}

	out := make([]NodeView, 0, len(e.scene.rendered))
	for _, n := range e.scene.rendered {
		geo := e.view.WorldToGeo(n.X, n.Y)
		sx, sy := t.Apply(n.X, n.Y)
		count := 1
		if n.IsCluster() {
			count = len(n.Members)
		}
		out = append(out, NodeView{
			ID:       n.ID,
			Label:    n.Label,
			Type:     n.Type(),
			Status:   n.Status(),
			Color:    e.backend.ElementColor(n.Type(), n.Status()),
			Lat:      geo.Lat(),
			Lng:      geo.Lon(),
			X:        sx,
			Y:        sy,
			Count:    count,
			Members:  append([]string(nil), n.Members...),
			Preview:  n.Preview,
			Selected: n.ID == selected,
		})
	}
	return out
}
