package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// AuditStore is an append-only in-memory audit log. IDs grow monotonically,
// so the slice is already in insertion order.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore returns an empty log.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

// Log appends an entry, copying detail so later caller mutations are not
// recorded.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		MarketID:  domain.AuditMarket(detail),
		Detail:    maps.Clone(detail),
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns matching entries newest first.
func (s *AuditStore) List(_ context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEntry
	for _, e := range slices.Backward(s.entries) {
		if f.MarketID != "" && e.MarketID != f.MarketID {
			continue
		}
		if f.Event != "" && e.Event != f.Event {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.CreatedAt.After(*f.Until) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, f.Offset, f.Limit), nil
}
