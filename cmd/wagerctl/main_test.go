package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerengine/internal/commitment"
	"github.com/alanyoungcy/wagerengine/internal/crypto"
	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/server/middleware"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WAGER_KEY", "")
	t.Setenv("WAGER_KEY_PASSWORD", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommit_WithSalt(t *testing.T) {
	out, err := run(t, "commit", "--low", "10", "--high", "20", "--target", "15", "--salt", "0x0102")
	require.NoError(t, err)

	want := commitment.Commit(10, 20, 15, []byte{1, 2})
	assert.Contains(t, out, "commitment: "+want.Hex())
	assert.Contains(t, out, "salt:       0x0102")
}

func TestCommit_BadSalt(t *testing.T) {
	_, err := run(t, "commit", "--salt", "zz")
	assert.Error(t, err)
}

func TestIDs(t *testing.T) {
	out, err := run(t, "ids", "market", "pool", "btc-eoy")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketID(domain.MarketKindPool, "btc-eoy")+"\n", out)

	_, err = run(t, "ids", "bet", "m", "not-an-address", "r1")
	assert.Error(t, err)
}

func TestAmount(t *testing.T) {
	tests := []struct {
		args []string
		want string
		fail bool
	}{
		{args: []string{"amount", "to-base", "1.5"}, want: "1500000\n"},
		{args: []string{"amount", "to-base", "--decimals", "2", "3"}, want: "300\n"},
		{args: []string{"amount", "to-base", "0.0000001"}, fail: true},
		{args: []string{"amount", "to-base", "-1"}, fail: true},
		{args: []string{"amount", "to-base", "99999999999999999999"}, fail: true},
		{args: []string{"amount", "from-base", "1500000"}, want: "1.5\n"},
		{args: []string{"amount", "from-base", "1.5"}, fail: true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args[1:], " "), func(t *testing.T) {
			out, err := run(t, tt.args...)
			if tt.fail {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestSign_Verifies(t *testing.T) {
	out, err := run(t, "sign", "POST", "/api/bets/1/claim", "--data", `{}`, "--key", testKey)
	require.NoError(t, err)

	headers := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		k, v, _ := strings.Cut(line, ": ")
		headers[k] = v
	}
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	assert.Equal(t, signer.Address().Hex(), headers[middleware.HeaderAddress])
	require.NotEmpty(t, headers[middleware.HeaderNonce])

	ts, err := strconv.ParseInt(headers[middleware.HeaderTimestamp], 10, 64)
	require.NoError(t, err)
	got, err := crypto.RecoverRequest("POST", "/api/bets/1/claim", ts, headers[middleware.HeaderNonce], []byte(`{}`), headers[middleware.HeaderSignature])
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), got)
}

func TestKeys_BackupRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	_, err := run(t, "keys", "backup", "--key", testKey, "--out", path, "--password", "hunter22")
	require.NoError(t, err)

	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	out, err := run(t, "keys", "restore", path, "--password", "hunter22")
	require.NoError(t, err)
	assert.Contains(t, out, signer.Address().Hex())

	_, err = run(t, "keys", "restore", path, "--password", "wrong")
	assert.Error(t, err)
}

func TestAdminTransfer_RequiresMatchingBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	_, err := run(t, "keys", "backup", "--key", testKey, "--out", path, "--password", "hunter22")
	require.NoError(t, err)

	other := "0x00000000000000000000000000000000000000b1"
	_, err = run(t, "admin", "transfer", other, "--backup", path, "--password", "hunter22", "--key", testKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup check failed")
}

func TestAdminTransfer_CompletesHandoff(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	_, err = run(t, "keys", "backup", "--key", testKey, "--out", path, "--password", "hunter22")
	require.NoError(t, err)

	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		assert.NotEmpty(t, r.Header.Get(middleware.HeaderSignature))
		switch r.URL.Path {
		case "/api/protocol/admin/challenge":
			_ = json.NewEncoder(w).Encode(map[string]string{"confirmation": "tok"})
		case "/api/protocol/admin/transfer":
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "tok", req["confirmation"])
			_ = json.NewEncoder(w).Encode(domain.GlobalConfig{Admin: signer.Address(), Version: 3})
		}
	}))
	defer srv.Close()

	out, err := run(t, "admin", "transfer", signer.Address().Hex(), "--backup", path,
		"--password", "hunter22", "--key", testKey, "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/protocol/admin/challenge", "/api/protocol/admin/transfer"}, calls)
	assert.Contains(t, out, "config version 3")
}
