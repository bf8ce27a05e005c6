package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fibermap/core-go/internal/pubsub"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = (eventsPongWait * 9) / 10
	eventsBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The map UI is served from a different origin during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// event is one message on the events socket.
type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleEvents upgrades to a websocket and forwards every engine stream until the client
// goes away.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		h.writeError(w, http.StatusServiceUnavailable, "engine_unavailable", "map engine not configured", nil)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Warn().Err(err).Msg("events upgrade failed")
		return
	}
	defer conn.Close()

	h.metrics.AddStreamClients(1)
	defer h.metrics.AddStreamClients(-1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan event, eventsBuffer)
	h.subscribeAll(ctx, out)

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, out)
}

func (h *Handler) subscribeAll(ctx context.Context, out chan<- event) {
	e := h.engine
	forward(ctx, "map_ready", e.MapReady(), out)
	forward(ctx, "element_selected", e.ElementSelected(), out)
	forward(ctx, "connection_selected", e.ConnectionSelected(), out)
	forward(ctx, "measurement_completed", e.MeasurementCompleted(), out)
	forward(ctx, "area_selected", e.AreaSelected(), out)
	forward(ctx, "map_statistics", e.MapStatistics(), out)
	forward(ctx, "connection_created", e.ConnectionCreated(), out)
	forward(ctx, "loading_metrics", e.LoadingMetrics(), out)
	forward(ctx, "tool_changed", e.ToolChanged(), out)

	// The monitor streams exist only once the map is initialized.
	_ = e.Do(ctx, func() {
		if s := e.PerformanceMetrics(); s != nil {
			forward(ctx, "performance_metrics", s, out)
		}
		if s := e.OptimizationConfig(); s != nil {
			forward(ctx, "optimization_config", s, out)
		}
	})
}

// forward copies a stream onto out until ctx ends or the stream closes.
func forward[T any](ctx context.Context, kind string, s *pubsub.Stream[T], out chan<- event) {
	sub := s.Subscribe(ctx)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-sub.C():
				if !ok {
					return
				}
				select {
				case out <- event{Type: kind, Data: v}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// readPump discards client messages and cancels the connection context on close.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("events client closed unexpectedly")
			}
			return
		}
	}
}

func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, out <-chan event) {
	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(eventsWriteWait))
			return
		case ev := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug().Err(err).Str("type", ev.Type).Msg("events write failed")
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
