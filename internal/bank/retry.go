package bank

import (
	"context"
	"errors"
	"time"

	"github.com/otic-labs/vision-backend/internal/shared"
	"github.com/otic-labs/vision-backend/internal/token"
	"github.com/sethvargo/go-retry"
)

// RetryConfig bounds the single retry policy applied at the remote bank
// boundary. One policy here replaces per-call-site retry loops.
type RetryConfig struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
	}
}

// RetryingBank decorates a Bank with exponential backoff on transient
// failures. Consistency errors (tenant mismatch, conflicts) and context
// cancellation are never retried.
type RetryingBank struct {
	inner Bank
	cfg   RetryConfig
}

func WithRetry(inner Bank, cfg RetryConfig) *RetryingBank {
	if cfg.MaxAttempts == 0 {
		cfg = DefaultRetryConfig()
	}
	return &RetryingBank{inner: inner, cfg: cfg}
}

func (b *RetryingBank) Register(ctx context.Context, tenantID string, tok *token.VisualToken) error {
	retried := false
	return retry.Do(ctx, b.policy(), func(ctx context.Context) error {
		err := b.inner.Register(ctx, tenantID, tok)
		if err == nil {
			return nil
		}
		// A conflict on a retry attempt means an earlier attempt landed the
		// row before its error surfaced. The registration is durable, so
		// report success instead of a phantom failure.
		if retried && errors.Is(err, shared.ErrConflict) {
			return nil
		}
		if permanent(err) {
			return err
		}
		retried = true
		return retry.RetryableError(err)
	})
}

func (b *RetryingBank) TokensFor(ctx context.Context, tenantID string) (tokens []*token.VisualToken, err error) {
	err = b.do(ctx, func(ctx context.Context) error {
		tokens, err = b.inner.TokensFor(ctx, tenantID)
		return err
	})
	return tokens, err
}

func (b *RetryingBank) TokensForProduct(ctx context.Context, tenantID, productID string) (tokens []*token.VisualToken, err error) {
	err = b.do(ctx, func(ctx context.Context) error {
		tokens, err = b.inner.TokensForProduct(ctx, tenantID, productID)
		return err
	})
	return tokens, err
}

func (b *RetryingBank) policy() retry.Backoff {
	return retry.WithMaxRetries(b.cfg.MaxAttempts-1, retry.NewExponential(b.cfg.BaseDelay))
}

func (b *RetryingBank) do(ctx context.Context, op func(context.Context) error) error {
	return retry.Do(ctx, b.policy(), func(ctx context.Context) error {
		err := op(ctx)
		if err == nil || permanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func permanent(err error) bool {
	var mismatch *TenantMismatchError
	return errors.As(err, &mismatch) ||
		errors.Is(err, shared.ErrConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
