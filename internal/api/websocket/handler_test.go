package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-bridge/internal/api/wire"
	"github.com/oshokin/alarm-bridge/internal/bus"
	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// startServer serves a handler backed by a fresh bus.
func startServer(t *testing.T) (*bus.Bus, *httptest.Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	events := bus.New(ctx)
	server := httptest.NewServer(NewHandler(ctx, events).Mux())

	t.Cleanup(func() {
		cancel()
		server.Close()
		_ = events.Close()
	})

	return events, server
}

// dial opens a websocket to the server with the given query.
func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + Path + query

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	_ = resp.Body.Close()

	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn
}

// TestHandler_StreamsFilteredEvents verifies only the requested kinds reach the client, in order.
func TestHandler_StreamsFilteredEvents(t *testing.T) {
	t.Parallel()

	events, server := startServer(t)
	conn := dial(t, server, "?kind=alarmAdded&kind=alarmRemoved,alarmFired")

	changes := []domain.Change{
		domain.Added{Alarm: domain.Alarm{ID: "a", State: domain.StateScheduled}},
		domain.StateChanged{ID: "b", PreviousState: domain.StateScheduled, NewState: domain.StateRunning},
		domain.Removed{ID: "c", LastState: domain.StatePaused},
		domain.ListChanged{TotalCount: 2, ScheduledCount: 1},
	}
	require.NoError(t, events.Publish(context.Background(), changes))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var kinds []bus.Kind

	for range 3 {
		messageType, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, messageType)

		evt, err := wire.UnmarshalEvent(payload)
		require.NoError(t, err)

		kinds = append(kinds, evt.Kind)
	}

	require.Equal(t, []bus.Kind{bus.KindAdded, bus.KindFired, bus.KindRemoved}, kinds)
}

// TestHandler_RejectsUnknownKind verifies a bad filter fails before the upgrade.
func TestHandler_RejectsUnknownKind(t *testing.T) {
	t.Parallel()

	_, server := startServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + Path + "?kind=alarmExploded"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_ = resp.Body.Close()
}

// TestHandler_UnsubscribesOnClose verifies a departed client releases its subscription.
func TestHandler_UnsubscribesOnClose(t *testing.T) {
	t.Parallel()

	events, server := startServer(t)
	conn := dial(t, server, "")

	require.Equal(t, 1, events.Len())
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return events.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

// TestParseKinds verifies repeated and comma separated filters.
func TestParseKinds(t *testing.T) {
	t.Parallel()

	kinds, err := parseKinds([]string{"alarmAdded, alarmFired", "", "ALARMREMOVED"})
	require.NoError(t, err)
	require.Equal(t, []bus.Kind{bus.KindAdded, bus.KindFired, bus.KindRemoved}, kinds)

	kinds, err = parseKinds(nil)
	require.NoError(t, err)
	require.Empty(t, kinds)

	_, err = parseKinds([]string{"alarmAdded,ring"})
	require.ErrorIs(t, err, bus.ErrUnknownKind)
}
