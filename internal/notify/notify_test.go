package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/wagerengine/internal/cache/memory"
	"github.com/alanyoungcy/wagerengine/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestFormat(t *testing.T) {
	actor := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	title, msg := Format(domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: "0xabc",
		Actor:    actor,
		Attrs:    map[string]string{"value": "42", "bets": "3"},
	})
	assert.Equal(t, "market resolved", title)
	assert.Equal(t, "market: 0xabc\nby: "+actor.Hex()+"\nbets: 3\nvalue: 42", msg)
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, []string{"market_resolved"}, discard())

	require.NoError(t, n.Notify(context.Background(), domain.Event{Type: domain.EventBetPlaced}))
	require.NoError(t, n.Notify(context.Background(), domain.Event{Type: domain.EventMarketResolved}))
	assert.Equal(t, []string{"market resolved"}, s.sent())
}

func TestNotifier_CollectsSenderErrors(t *testing.T) {
	ok := &recordingSender{}
	bad := &recordingSender{err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, ok}, nil, discard())

	err := n.Notify(context.Background(), domain.Event{Type: domain.EventProtocolInitialized})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, ok.sent(), 1, "later senders still run")
}

func TestNotifier_RunRelaysBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := cachemem.NewSignalBus()
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, []string{"weights_finalized"}, discard())
	go func() { _ = n.Run(ctx, bus) }()

	ev := domain.Event{Type: domain.EventWeightsFinalized, MarketID: "m"}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, ev.Channel(), data)
		return len(s.sent()) > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "weights finalized", s.sent()[0])
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "bet placed", "market_id: <m1>"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>bet placed</b>\nmarket_id: &lt;m1&gt;", got["text"])
}

func TestDiscordSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDiscordSender_TruncatesAndMutes(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	long := strings.Repeat("x", 3000)
	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "t", long))
	content, _ := got["content"].(string)
	assert.Equal(t, discordContentLimit, len([]rune(content)))
	assert.Equal(t, map[string]any{"parse": []any{}}, got["allowed_mentions"])
}
