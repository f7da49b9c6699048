package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oshokin/alarm-bridge/internal/api/wire"
	"github.com/oshokin/alarm-bridge/internal/bus"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

// Path is where the event stream is served.
const Path = "/events"

const (
	// writeTimeout bounds one frame write.
	writeTimeout = 10 * time.Second
	// pingInterval keeps idle connections alive through proxies.
	pingInterval = 30 * time.Second
	// streamBuffer is how many events may wait for a slow client before
	// the subscriber worker blocks.
	streamBuffer = 64
)

// Subscriber registers event handlers on the bus.
type Subscriber interface {
	Subscribe(handler bus.Handler, kinds ...bus.Kind) (bus.Handle, error)
	Unsubscribe(handle bus.Handle)
}

// Handler serves the websocket event stream.
type Handler struct {
	// events is where connections subscribe.
	events Subscriber
	// upgrader performs the websocket handshake.
	upgrader websocket.Upgrader
	// ctx carries the logger.
	ctx context.Context
}

// NewHandler creates a handler. Cross-origin requests are accepted; put the
// endpoint behind a proxy if origins must be restricted.
func NewHandler(ctx context.Context, events Subscriber) *Handler {
	return &Handler{
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx: logger.WithName(ctx, "websocket"),
	}
}

// Mux returns a mux serving the handler at Path.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET "+Path, h)

	return mux
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKinds(r.URL.Query()["kind"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(logger.WithKV(h.ctx, "remote", r.RemoteAddr))
	defer cancel()

	// Subscribe before the handshake so every event published after the
	// client sees the upgrade response is delivered.
	events := make(chan bus.Event, streamBuffer)

	handle, err := h.events.Subscribe(func(handlerCtx context.Context, evt bus.Event) error {
		select {
		case events <- evt:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-handlerCtx.Done():
			return handlerCtx.Err()
		}
	}, kinds...)
	if err != nil {
		logger.ErrorKV(ctx, "Websocket subscription failed", "error", err)
		http.Error(w, "event bus unavailable", http.StatusServiceUnavailable)

		return
	}

	defer h.events.Unsubscribe(handle)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logger.WarnKV(ctx, "Websocket upgrade failed", "error", err)
		return
	}

	defer func() {
		_ = conn.Close()
	}()

	logger.InfoKV(ctx, "Websocket client connected", "kinds", kinds)

	// The reader only watches for the client going away.
	go func() {
		defer cancel()

		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	h.writeLoop(ctx, conn, events)

	logger.InfoKV(ctx, "Websocket client disconnected")
}

// writeLoop sends events and pings until ctx ends or a write fails.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan bus.Event) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))

			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case evt := <-events:
			payload, err := wire.MarshalEvent(evt)
			if err != nil {
				logger.ErrorKV(ctx, "Failed to encode event", "sequence", evt.Sequence, "error", err)
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			if err = conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.WarnKV(ctx, "Websocket write failed", "error", err)
				return
			}
		}
	}
}

// parseKinds accepts repeated and comma separated kind names.
func parseKinds(values []string) ([]bus.Kind, error) {
	var kinds []bus.Kind

	for _, value := range values {
		for name := range strings.SplitSeq(value, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}

			kind, err := bus.ParseKind(name)
			if err != nil {
				return nil, err
			}

			kinds = append(kinds, kind)
		}
	}

	return kinds, nil
}
