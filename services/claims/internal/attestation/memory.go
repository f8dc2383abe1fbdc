package attestation

import (
	"context"
	"fmt"
	"time"

	"github.com/accordsai/claimlane/services/claims/internal/claims"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryReceipts remembers attestation ids for retention, long enough to
// outlive the freshness window.
type MemoryReceipts struct{ cache *gocache.Cache }

func NewMemoryReceipts(retention time.Duration) *MemoryReceipts {
	if retention <= 0 {
		retention = time.Hour
	}
	return &MemoryReceipts{cache: gocache.New(retention, retention/2)}
}

func (m *MemoryReceipts) ReserveReceipt(_ context.Context, r Receipt) (bool, error) {
	if err := m.cache.Add(r.AttestationID, r, gocache.DefaultExpiration); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *MemoryReceipts) GetReceipt(_ context.Context, attestationID string) (Receipt, error) {
	v, ok := m.cache.Get(attestationID)
	if !ok {
		return Receipt{}, fmt.Errorf("%w: attestation %s", claims.ErrNotFound, attestationID)
	}
	return v.(Receipt), nil
}

func (m *MemoryReceipts) CompleteReceipt(_ context.Context, attestationID string, payout claims.Amount) error {
	v, ok := m.cache.Get(attestationID)
	if !ok {
		return fmt.Errorf("%w: attestation %s", claims.ErrNotFound, attestationID)
	}
	r := v.(Receipt)
	r.Status = StatusApplied
	r.PayoutAmount = &payout
	m.cache.SetDefault(attestationID, r)
	return nil
}

func (m *MemoryReceipts) ReleaseReceipt(_ context.Context, attestationID string) error {
	m.cache.Delete(attestationID)
	return nil
}
