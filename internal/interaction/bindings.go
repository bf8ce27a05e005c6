package interaction

import "fibermap/core-go/internal/render"

// Handler handles one pointer event and reports whether it consumed it.
type Handler func(ev render.PointerEvent) bool

// Handlers is one namespace's set of pointer handlers. Nil fields are skipped.
type Handlers struct {
	Down  Handler
	Move  Handler
	Up    Handler
	Click Handler
}

func (h Handlers) forKind(k render.PointerKind) Handler {
	switch k {
	case render.PointerDown:
		return h.Down
	case render.PointerMove:
		return h.Move
	case render.PointerUp:
		return h.Up
	case render.PointerClick:
		return h.Click
	}
	return nil
}

type binding struct {
	namespace string
	handlers  Handlers
}

// Bindings is an ordered registry of namespaced pointer handlers. Binding a namespace that is
// already present replaces it in place.
type Bindings struct {
	entries  []binding
	installs int
}

func NewBindings() *Bindings {
	return &Bindings{}
}

func (b *Bindings) Bind(namespace string, h Handlers) {
	b.installs++
	for i := range b.entries {
		if b.entries[i].namespace == namespace {
			b.entries[i].handlers = h
			return
		}
	}
	b.entries = append(b.entries, binding{namespace: namespace, handlers: h})
}

func (b *Bindings) Unbind(namespace string) bool {
	for i := range b.entries {
		if b.entries[i].namespace == namespace {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch offers ev to each namespace in bind order until one consumes it.
func (b *Bindings) Dispatch(ev render.PointerEvent) bool {
	for _, e := range b.entries {
		if h := e.handlers.forKind(ev.Kind); h != nil && h(ev) {
			return true
		}
	}
	return false
}

// Namespaces lists bound namespaces in order.
func (b *Bindings) Namespaces() []string {
	out := make([]string, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.namespace
	}
	return out
}

func (b *Bindings) Len() int { return len(b.entries) }

// Installs counts Bind calls over the registry's lifetime.
func (b *Bindings) Installs() int { return b.installs }
