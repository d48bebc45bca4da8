package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Protocol.ConfirmSecret = "0123456789abcdef"
	return cfg
}

func TestDefaults_ValidWithSecret(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Store = "sqlite"
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown mode", "unknown log_level", "unknown store", "confirm_secret", "server: port"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_WorkerNeedsPostgres(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "worker"
	assert.ErrorContains(t, cfg.Validate(), "requires store postgres")

	cfg.Store = "postgres"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wager.toml")
	body := `
mode = "server"

[protocol]
reveal_window = "15m"
confirm_secret = "from-file-secret-value"

[server]
port = 9000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("WAGER_SERVER_PORT", "9100")
	t.Setenv("WAGER_NOTIFY_EVENTS", "market_resolved, ,bet_placed")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 15*time.Minute, cfg.Protocol.RevealWindow.Duration)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"market_resolved", "bet_placed"}, cfg.Notify.Events)
	assert.Equal(t, 24*time.Hour, cfg.Protocol.BatchGrace.Duration)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Keeper.PrivateKey = "0xabc"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Protocol.ConfirmSecret)
	assert.Equal(t, "***", out.Keeper.PrivateKey)
	assert.Equal(t, "", out.Redis.Password)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "market_resolved", cfg.Notify.Events[0])
	assert.Equal(t, "0123456789abcdef", cfg.Protocol.ConfirmSecret)
}
