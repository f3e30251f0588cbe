package bank

import (
	"context"

	"github.com/otic-labs/vision-backend/internal/token"
)

// Bank is a per-tenant, append-only collection of registered visual tokens.
// Register never overwrites or deletes; queries see a snapshot of the bank
// at call time and tolerate concurrent registrations.
type Bank interface {
	Register(ctx context.Context, tenantID string, tok *token.VisualToken) error
	TokensFor(ctx context.Context, tenantID string) ([]*token.VisualToken, error)
	TokensForProduct(ctx context.Context, tenantID, productID string) ([]*token.VisualToken, error)
}

// TenantMismatchError reports a token written into the wrong tenant
// partition. This is an integration bug in the caller, never retried.
type TenantMismatchError struct {
	BankTenant  string
	TokenTenant string
}

func (e *TenantMismatchError) Error() string {
	return "tenant mismatch: token belongs to " + e.TokenTenant + ", bank partition is " + e.BankTenant
}
