package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	cachemem "github.com/alanyoungcy/wagerengine/internal/cache/memory"
	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/server/ws"
)

func startHub(t *testing.T) (*ws.Hub, *cachemem.SignalBus, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := cachemem.NewSignalBus()
	hub := ws.NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, bus, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func publish(t *testing.T, bus *cachemem.SignalBus, ev domain.Event) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev.Channel(), data))
}

func waitClients(t *testing.T, hub *ws.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastJSON(t *testing.T) {
	hub, bus, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	publish(t, bus, domain.Event{ID: "1", Type: domain.EventMarketResolved, MarketID: "m1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var got domain.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, domain.EventMarketResolved, got.Type)
	assert.Equal(t, "m1", got.MarketID)
}

func TestHub_SubscriptionFilter(t *testing.T) {
	hub, bus, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":  "subscribe",
		"markets": []string{"m2"},
	}))
	// The filter applies once the read pump has handled it.
	time.Sleep(50 * time.Millisecond)

	publish(t, bus, domain.Event{ID: "1", Type: domain.EventBetPlaced, MarketID: "m1"})
	publish(t, bus, domain.Event{ID: "2", Type: domain.EventBetPlaced, MarketID: "m2"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got domain.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "2", got.ID)
}

func TestHub_ProtoFrames(t *testing.T) {
	hub, bus, srv := startHub(t)
	conn := dial(t, srv, "?format=proto")
	waitClients(t, hub, 1)

	publish(t, bus, domain.Event{ID: "7", Type: domain.EventWeightsFinalized, MarketID: "m3"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	assert.Equal(t, "weights_finalized", st.GetFields()["type"].GetStringValue())
	assert.Equal(t, "m3", st.GetFields()["market_id"].GetStringValue())
}

func TestHub_ReplaySince(t *testing.T) {
	hub, bus, srv := startHub(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		data, err := json.Marshal(domain.Event{ID: id, Type: domain.EventBetPlaced})
		require.NoError(t, err)
		require.NoError(t, bus.StreamAppend(ctx, domain.EventStream, data))
	}

	conn := dial(t, srv, "?since=0")
	waitClients(t, hub, 1)

	var ids []string
	for range 2 {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var got domain.Event
		require.NoError(t, json.Unmarshal(data, &got))
		ids = append(ids, got.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}
