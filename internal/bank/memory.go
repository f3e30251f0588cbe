package bank

import (
	"context"
	"sync"
	"time"

	"github.com/otic-labs/vision-backend/internal/shared"
	"github.com/otic-labs/vision-backend/internal/token"
)

// MemoryBank is an in-process Bank used for single-node deployments and
// tests. Appends are atomic under the lock; reads return copies, so a
// registration that lands mid-query never corrupts a partial read.
type MemoryBank struct {
	mu      sync.RWMutex
	tenants map[string][]*token.VisualToken
	ids     map[string]struct{}
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		tenants: make(map[string][]*token.VisualToken),
		ids:     make(map[string]struct{}),
	}
}

func (b *MemoryBank) Register(ctx context.Context, tenantID string, tok *token.VisualToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tok.TenantID != tenantID {
		return &TenantMismatchError{BankTenant: tenantID, TokenTenant: tok.TenantID}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.ids[tok.ID]; exists {
		return shared.ErrConflict
	}

	stored := *tok
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	b.tenants[tenantID] = append(b.tenants[tenantID], &stored)
	b.ids[tok.ID] = struct{}{}
	return nil
}

func (b *MemoryBank) TokensFor(ctx context.Context, tenantID string) ([]*token.VisualToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	stored := b.tenants[tenantID]
	out := make([]*token.VisualToken, len(stored))
	copy(out, stored)
	return out, nil
}

func (b *MemoryBank) TokensForProduct(ctx context.Context, tenantID, productID string) ([]*token.VisualToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*token.VisualToken
	for _, t := range b.tenants[tenantID] {
		if t.ProductID == productID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Size reports the number of tokens held for a tenant.
func (b *MemoryBank) Size(tenantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tenants[tenantID])
}
