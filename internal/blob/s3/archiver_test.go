package s3blob_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/wagerengine/internal/blob/s3"
	"github.com/alanyoungcy/wagerengine/internal/domain"
	"github.com/alanyoungcy/wagerengine/internal/store/memory"
)

type memBlobs struct {
	objects map[string][]byte
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func fixture() (domain.Market, []domain.UserBet) {
	m := domain.Market{
		ID:              "0xabc",
		Name:            "sol-close",
		Mode:            domain.ModeParimutuel,
		Asset:           common.HexToAddress("0x01"),
		VaultBalance:    148_500_000,
		Distributable:   147_015_000,
		TotalWeight:     uint256.NewInt(3_000),
		Resolved:        true,
		ResolutionValue: 150,
		Finalized:       true,
	}
	bets := []domain.UserBet{
		{
			ID:             "0xb1",
			Owner:          common.HexToAddress("0xa1"),
			Deposit:        99_000_000,
			Revealed:       true,
			RevealedLow:    140,
			RevealedHigh:   160,
			RevealedTarget: 150,
			Salt:           []byte("secret"),
			Weight:         uint256.NewInt(2_000),
			Status:         domain.BetStatusCalculated,
		},
		{
			ID:      "0xb2",
			Owner:   common.HexToAddress("0xa2"),
			Deposit: 49_500_000,
			Status:  domain.BetStatusRefunded,
		},
	}
	return m, bets
}

func TestEncodeMarket(t *testing.T) {
	m, bets := fixture()
	buf, err := s3blob.EncodeMarket(m, bets, 6, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	assert.NotContains(t, string(buf), "secret")
	assert.NotContains(t, string(buf), "salt")

	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 3)

	assert.Equal(t, "market", lines[0]["kind"])
	assert.Equal(t, "147.015", lines[0]["distributable"])
	assert.Equal(t, "3000", lines[0]["total_weight"])
	assert.Equal(t, float64(2), lines[0]["bets"])

	assert.Equal(t, "bet", lines[1]["kind"])
	assert.Equal(t, "99", lines[1]["deposit"])
	assert.Equal(t, float64(150), lines[1]["target"])
	assert.Equal(t, "2000", lines[1]["weight"])

	assert.Equal(t, "49.5", lines[2]["deposit"])
	assert.Equal(t, "0", lines[2]["weight"])
	assert.NotContains(t, lines[2], "target")
}

func TestArchiver_ArchiveMarket(t *testing.T) {
	ctx := context.Background()
	blobs := &memBlobs{objects: map[string][]byte{}}
	audit := memory.NewAuditStore()
	a := s3blob.NewArchiver(blobs, blobs, audit, 6)

	m, bets := fixture()
	ok, err := a.Archived(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	path, err := a.ArchiveMarket(ctx, m, bets)
	require.NoError(t, err)
	assert.Equal(t, "archive/markets/0xabc.jsonl", path)

	ok, err = a.Archived(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := a.Open(ctx, m.ID)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, 3, bytes.Count(body, []byte("\n")))

	infos, err := a.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)

	entries, err := audit.List(ctx, domain.AuditFilter{MarketID: m.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.market", entries[0].Event)
	assert.Equal(t, m.ID, entries[0].MarketID)
}
