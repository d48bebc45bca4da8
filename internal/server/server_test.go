package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/wagerengine/internal/cache/memory"
	"github.com/alanyoungcy/wagerengine/internal/crypto"
	"github.com/alanyoungcy/wagerengine/internal/delegation"
	"github.com/alanyoungcy/wagerengine/internal/server"
	"github.com/alanyoungcy/wagerengine/internal/server/handler"
	"github.com/alanyoungcy/wagerengine/internal/server/middleware"
	"github.com/alanyoungcy/wagerengine/internal/service"
	storemem "github.com/alanyoungcy/wagerengine/internal/store/memory"
)

const (
	adminKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	userKey  = "59c6995e998f97a5a0044966f0945389dc9c86dae88c7a8412f4603b6b78690d"

	usdc     = "0x00000000000000000000000000000000000000c1"
	treasury = "0x00000000000000000000000000000000000000a2"
)

type fixture struct {
	handler http.Handler
	admin   *crypto.Signer
	user    *crypto.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := cachemem.NewSignalBus()
	enclave := delegation.NewLocalEnclave(0, logger)
	engine := service.NewEngine(service.Deps{
		Store:   storemem.New(),
		Locks:   cachemem.NewLockManager(),
		Bus:     bus,
		Cache:   cachemem.NewMarketCache(16, time.Minute),
		Enclave: enclave,
	}, service.DefaultOptions(), logger)
	go func() { _ = enclave.Run(ctx) }()
	go func() { _ = engine.Run(ctx) }()

	srv := server.NewServer(server.Config{
		Port:       0,
		RateLimit:  1000,
		RateWindow: time.Minute,
		ClockSkew:  time.Minute,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Protocol: handler.NewProtocolHandler(engine, logger),
		Markets:  handler.NewMarketHandler(engine, nil, logger),
		Bets:     handler.NewBetHandler(engine, time.Second, logger),
	}, nil, cachemem.NewRateLimiter(), logger)

	admin, err := crypto.NewSigner(adminKey)
	require.NoError(t, err)
	user, err := crypto.NewSigner(userKey)
	require.NoError(t, err)
	return &fixture{handler: srv.Handler(), admin: admin, user: user}
}

func (f *fixture) do(t *testing.T, s *crypto.Signer, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.doAt(t, s, time.Now(), method, path, body)
}

func (f *fixture) doAt(t *testing.T, s *crypto.Signer, at time.Time, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if s != nil {
		ts := at.Unix()
		nonce := uuid.NewString()
		sig, err := s.SignRequest(method, path, ts, nonce, data)
		require.NoError(t, err)
		req.Header.Set(middleware.HeaderSignature, sig)
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(middleware.HeaderNonce, nonce)
		req.Header.Set(middleware.HeaderAddress, s.Address().Hex())
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) initialize(t *testing.T) {
	t.Helper()
	rec := f.do(t, f.admin, http.MethodPost, "/api/protocol/initialize", map[string]any{
		"treasury":           treasury,
		"house_fee_bps":      150,
		"parimutuel_fee_bps": 100,
		"allowed_assets":     []string{usdc},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestInitializeAndReadConfig(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	rec := f.do(t, nil, http.MethodGet, "/api/protocol/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decodeBody(t, rec)
	assert.Equal(t, f.admin.Address().Hex(), cfg["admin"])
	assert.EqualValues(t, 150, cfg["house_fee_bps"])

	rec = f.do(t, f.admin, http.MethodPost, "/api/protocol/initialize", map[string]any{"treasury": treasury})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnsignedMutationRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, nil, http.MethodPost, "/api/protocol/initialize", map[string]any{"treasury": treasury})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaleSignatureRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.doAt(t, f.admin, time.Now().Add(-time.Hour), http.MethodPost, "/api/protocol/initialize",
		map[string]any{"treasury": treasury})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMarketLifecycleErrors(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	pool := map[string]any{
		"name":       "btc-eoy",
		"asset":      usdc,
		"start_time": time.Now().Unix(),
		"end_time":   time.Now().Add(24 * time.Hour).Unix(),
	}

	rec := f.do(t, f.user, http.MethodPost, "/api/pools", pool)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, f.admin, http.MethodPost, "/api/pools", pool)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id, _ := decodeBody(t, rec)["id"].(string)
	require.NotEmpty(t, id)

	rec = f.do(t, nil, http.MethodGet, "/api/markets/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, nil, http.MethodGet, "/api/markets/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries, _ := decodeBody(t, rec)["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "market_created", entries[0].(map[string]any)["event"])

	rec = f.do(t, f.admin, http.MethodPost, "/api/pools", pool)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, nil, http.MethodGet, "/api/markets/0xdeadbeef", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, nil, http.MethodGet, "/api/markets/0xdeadbeef/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, f.admin, http.MethodPost, "/api/pools", map[string]any{"name": "no-asset"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, f.admin, http.MethodPost, "/api/markets/"+id+"/resolve", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPausedProtocolIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	rec := f.do(t, f.admin, http.MethodPost, "/api/protocol/pause", map[string]any{"paused": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, f.admin, http.MethodPost, "/api/pools", map[string]any{
		"name":       "paused",
		"asset":      usdc,
		"start_time": 1,
		"end_time":   2,
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReplayedPauseIsRejected(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)

	data := []byte(`{"paused":true}`)
	ts := time.Now().Unix()
	sig, err := f.admin.SignRequest(http.MethodPost, "/api/protocol/pause", ts, "pause-1", data)
	require.NoError(t, err)
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/protocol/pause", bytes.NewReader(data))
		req.Header.Set(middleware.HeaderSignature, sig)
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(middleware.HeaderNonce, "pause-1")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, send().Code)
	rec := f.do(t, f.admin, http.MethodPost, "/api/protocol/pause", map[string]any{"paused": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, send().Code)

	rec = f.do(t, f.admin, http.MethodGet, "/api/protocol/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"paused":false`)
}
