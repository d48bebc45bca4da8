package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientKey_Prefix(t *testing.T) {
	c := &Client{prefix: "wager:"}
	assert.Equal(t, "wager:lock:market:1", c.key("lock:", "market:1"))

	bare := &Client{}
	assert.Equal(t, "stream:events", bare.key("stream:events"))
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, "wager:", namespace("wager"))
	assert.Equal(t, "wager:", namespace("wager:"))
	assert.Equal(t, "", namespace(""))
}

func TestClientConfig_Options(t *testing.T) {
	opts, err := ClientConfig{Addr: "localhost:6379", DB: 2, PoolSize: 20, TLSEnabled: true}.options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.NotNil(t, opts.TLSConfig)

	opts, err = ClientConfig{Addr: "rediss://:secret@cache.internal:6380/3", PoolSize: 7}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.NotNil(t, opts.TLSConfig)

	_, err = ClientConfig{Addr: "redis://host:6379/notadb"}.options()
	assert.Error(t, err)
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("events:*"))
	assert.True(t, hasPattern("events:bet_?"))
	assert.False(t, hasPattern("events:bet_placed"))
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	b, ok = payloadBytes([]byte{1})
	assert.True(t, ok)
	assert.Equal(t, []byte{1}, b)

	_, ok = payloadBytes(42)
	assert.False(t, ok)
}

func TestNewSignalBus_DefaultMaxLen(t *testing.T) {
	assert.Equal(t, defaultStreamMaxLen, NewSignalBus(&Client{}, 0).maxLen)
	assert.Equal(t, int64(50), NewSignalBus(&Client{}, 50).maxLen)
}
