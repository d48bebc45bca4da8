package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

const (
	archivePrefix = "archive/markets/"
	contentJSONL  = "application/x-ndjson"

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// MarketRecord is the first line of a market archive.
type MarketRecord struct {
	Kind            string `json:"kind"`
	ID              string `json:"id"`
	Name            string `json:"name"`
	Mode            string `json:"mode"`
	Asset           string `json:"asset"`
	StartTime       int64  `json:"start_time"`
	EndTime         int64  `json:"end_time"`
	ResolutionValue int64  `json:"resolution_value"`
	ResolutionTS    int64  `json:"resolution_ts"`
	Finalized       bool   `json:"finalized"`
	Vault           string `json:"vault"`
	Locked          string `json:"locked"`
	Distributable   string `json:"distributable"`
	TotalWeight     string `json:"total_weight"`
	Bets            int    `json:"bets"`
	ArchivedAt      string `json:"archived_at"`
}

// BetRecord is one bet line of a market archive. Salts are never exported.
type BetRecord struct {
	Kind          string `json:"kind"`
	ID            string `json:"id"`
	Owner         string `json:"owner"`
	Deposit       string `json:"deposit"`
	Commitment    string `json:"commitment"`
	Revealed      bool   `json:"revealed"`
	Low           int64  `json:"low,omitempty"`
	High          int64  `json:"high,omitempty"`
	Target        int64  `json:"target,omitempty"`
	MultiplierBps uint64 `json:"multiplier_bps,omitempty"`
	Weight        string `json:"weight"`
	Payout        string `json:"payout"`
	Status        string `json:"status"`
}

// Archiver exports settled markets as JSONL, one object per market at
// archive/markets/{id}.jsonl. Amounts are written in whole-token units.
type Archiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	audit    domain.AuditStore
	decimals int32
	now      func() time.Time
}

// NewArchiver creates an Archiver. decimals is the token precision used for
// formatting amounts.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, decimals int32) *Archiver {
	return &Archiver{
		writer:   writer,
		reader:   reader,
		audit:    audit,
		decimals: decimals,
		now:      time.Now,
	}
}

var _ domain.SettlementArchiver = (*Archiver)(nil)

// ArchivePath is the object key of a market archive.
func ArchivePath(marketID string) string {
	return archivePrefix + marketID + ".jsonl"
}

// ArchiveMarket uploads the market and its bets and records the export in
// the audit log. It returns the object key.
func (a *Archiver) ArchiveMarket(ctx context.Context, m domain.Market, bets []domain.UserBet) (string, error) {
	buf, err := EncodeMarket(m, bets, a.decimals, a.now())
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s: %w", m.ID, err)
	}

	path := ArchivePath(m.ID)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentJSONL)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive market %s upload: %w", m.ID, err)
	}

	if err := a.audit.Log(ctx, "archive.market", map[string]any{
		"path":      path,
		"market_id": m.ID,
		"bets":      len(bets),
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive market %s audit log: %w", m.ID, err)
	}
	return path, nil
}

// Archived reports whether a market archive already exists.
func (a *Archiver) Archived(ctx context.Context, marketID string) (bool, error) {
	return a.reader.Exists(ctx, ArchivePath(marketID))
}

// Open streams a market archive. The caller closes the reader.
func (a *Archiver) Open(ctx context.Context, marketID string) (io.ReadCloser, error) {
	return a.reader.Get(ctx, ArchivePath(marketID))
}

// List returns every stored market archive.
func (a *Archiver) List(ctx context.Context) ([]domain.BlobInfo, error) {
	return a.reader.List(ctx, archivePrefix)
}

// EncodeMarket renders the archive body: a market line followed by one line
// per bet.
func EncodeMarket(m domain.Market, bets []domain.UserBet, decimals int32, at time.Time) ([]byte, error) {
	amount := func(v uint64) string {
		return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals).String()
	}

	records := make([]any, 0, len(bets)+1)
	records = append(records, MarketRecord{
		Kind:            "market",
		ID:              m.ID,
		Name:            m.Name,
		Mode:            string(m.Mode),
		Asset:           m.Asset.Hex(),
		StartTime:       m.StartTime,
		EndTime:         m.EndTime,
		ResolutionValue: m.ResolutionValue,
		ResolutionTS:    m.ResolutionTS,
		Finalized:       m.Finalized,
		Vault:           amount(m.VaultBalance),
		Locked:          amount(m.LockedForPayouts),
		Distributable:   amount(m.Distributable),
		TotalWeight:     m.Weight().Dec(),
		Bets:            len(bets),
		ArchivedAt:      at.UTC().Format(time.RFC3339),
	})

	for _, b := range bets {
		rec := BetRecord{
			Kind:          "bet",
			ID:            b.ID,
			Owner:         b.Owner.Hex(),
			Deposit:       amount(b.Deposit),
			Commitment:    b.Commitment.Hex(),
			Revealed:      b.Revealed,
			MultiplierBps: b.MultiplierBps,
			Weight:        "0",
			Payout:        amount(b.Payout),
			Status:        string(b.Status),
		}
		if b.Revealed {
			rec.Low, rec.High, rec.Target = b.RevealedLow, b.RevealedHigh, b.RevealedTarget
		}
		if b.Weight != nil {
			rec.Weight = b.Weight.Dec()
		}
		records = append(records, rec)
	}
	return marshalJSONL(records)
}

// marshalJSONL serialises values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
