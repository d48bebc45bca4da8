package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerengine/internal/config"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWire_MemoryDefaults(t *testing.T) {
	c := config.Defaults()
	cfg := &c

	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Store)
	assert.NotNil(t, deps.Engine)
	assert.Nil(t, deps.Archive, "s3 is off by default")
	assert.Nil(t, deps.Notifier, "no senders configured")
	assert.Empty(t, deps.Health)
}

func TestWire_NotifierWithSender(t *testing.T) {
	c := config.Defaults()
	cfg := &c
	cfg.Notify.DiscordWebhookURL = "http://127.0.0.1:1/webhook"

	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, deps.Notifier)
}

func TestFullMode_StopsOnCancel(t *testing.T) {
	c := config.Defaults()
	cfg := &c
	cfg.Server.Enabled = false
	cfg.Pipeline.Enabled = false

	a := New(cfg, testLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestRun_UnknownMode(t *testing.T) {
	c := config.Defaults()
	cfg := &c
	cfg.Mode = "trade"

	a := New(cfg, testLogger())
	defer a.Close()
	assert.ErrorContains(t, a.Run(context.Background()), "unsupported mode")
}

func TestStartPipeline_BadKeeperKey(t *testing.T) {
	c := config.Defaults()
	cfg := &c
	cfg.Pipeline.Enabled = true
	cfg.Keeper.PrivateKey = "not-hex"

	a := New(cfg, testLogger())
	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Error(t, a.WorkerMode(context.Background(), deps))
}
