package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"fibermap/core-go/internal/model"
	"fibermap/core-go/internal/pubsub"
)

// Memory is an in-process Repository. Mutations are broadcast to watchers.
type Memory struct {
	mu          sync.RWMutex
	elements    map[string]model.NetworkElement
	connections map[string]model.NetworkConnection
	events      *pubsub.Stream[model.ElementEvent]
}

func NewMemory(elements []model.NetworkElement, connections []model.NetworkConnection) *Memory {
	m := &Memory{
		elements:    make(map[string]model.NetworkElement, len(elements)),
		connections: make(map[string]model.NetworkConnection, len(connections)),
		events:      pubsub.NewStream[model.ElementEvent](256),
	}
	for _, e := range elements {
		m.elements[e.ID] = e
	}
	for _, c := range connections {
		m.connections[c.ID] = c
	}
	return m
}

// Seed is the on-disk form of a Memory repository.
type Seed struct {
	Elements    []model.NetworkElement    `json:"elements"`
	Connections []model.NetworkConnection `json:"connections"`
}

// LoadSeedFile builds a Memory repository from a JSON seed document. An empty path yields an
// empty repository.
func LoadSeedFile(path string) (*Memory, error) {
	if path == "" {
		return NewMemory(nil, nil), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed Seed
	if err := json.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for i, e := range seed.Elements {
		if e.ID == "" {
			return nil, fmt.Errorf("parse seed %s: element %d has no id", path, i)
		}
	}
	return NewMemory(seed.Elements, seed.Connections), nil
}

func (m *Memory) Elements(ctx context.Context) ([]model.NetworkElement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.NetworkElement, 0, len(m.elements))
	for _, e := range m.elements {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Connections(ctx context.Context) ([]model.NetworkConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.NetworkConnection, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Watch(ctx context.Context, fn func(model.ElementEvent)) error {
	sub := m.events.Subscribe(ctx)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrUnavailable
			}
			fn(ev)
		}
	}
}

// Put stores e and notifies watchers with a created or updated event.
func (m *Memory) Put(e model.NetworkElement) {
	m.mu.Lock()
	_, exists := m.elements[e.ID]
	m.elements[e.ID] = e
	m.mu.Unlock()

	kind := model.ElementCreated
	if exists {
		kind = model.ElementUpdated
	}
	m.events.Publish(model.ElementEvent{Kind: kind, Element: e})
}

// Delete removes the element and every connection touching it.
func (m *Memory) Delete(id string) bool {
	m.mu.Lock()
	e, ok := m.elements[id]
	if ok {
		delete(m.elements, id)
		for cid, c := range m.connections {
			if c.SourceID == id || c.TargetID == id {
				delete(m.connections, cid)
			}
		}
	}
	m.mu.Unlock()

	if ok {
		m.events.Publish(model.ElementEvent{Kind: model.ElementDeleted, Element: e})
	}
	return ok
}

func (m *Memory) PutConnection(c model.NetworkConnection) {
	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()
}

// Watchers reports the number of active Watch calls.
func (m *Memory) Watchers() int {
	return m.events.SubscriberCount()
}

// Close ends every Watch with ErrUnavailable.
func (m *Memory) Close() {
	m.events.Close()
}
