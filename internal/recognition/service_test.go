package recognition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/otic-labs/vision-backend/internal/bank"
	"github.com/otic-labs/vision-backend/internal/descriptor"
	"github.com/otic-labs/vision-backend/internal/shared"
)

func newTestService(b bank.Bank) *Service {
	return NewService(ServiceConfig{Bank: b})
}

func TestService_RegisterThenRecognize(t *testing.T) {
	b := bank.NewMemoryBank()
	svc := newTestService(b)
	ctx := context.Background()

	redCan := solidFrame(230, 30, 30).Buffer
	blueCan := solidFrame(20, 30, 230).Buffer

	if _, err := svc.Register(ctx, "tenant-1", "prod-red-soda", redCan, nil, 0.9, time.Now()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.Register(ctx, "tenant-1", "prod-blue-soda", blueCan, nil, 0.9, time.Now()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result, err := svc.Recognize(ctx, "tenant-1", redCan, RecognizeOptions{})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if result.Outcome != shared.OutcomeConfident {
		t.Fatalf("expected confident outcome, got %s", result.Outcome)
	}
	if result.Candidates[0].ProductID != "prod-red-soda" {
		t.Errorf("expected prod-red-soda, got %s", result.Candidates[0].ProductID)
	}
	if result.Candidates[0].Similarity < 0.75 {
		t.Errorf("expected top similarity at least 0.75, got %f", result.Candidates[0].Similarity)
	}
	if result.ElapsedMs < 0 {
		t.Errorf("elapsed must be non-negative, got %d", result.ElapsedMs)
	}
}

func TestService_AmbiguousWhenProductsLookAlike(t *testing.T) {
	b := bank.NewMemoryBank()
	svc := newTestService(b)
	ctx := context.Background()

	// Two products registered from the same capture score identically, which
	// lands inside the ambiguity margin.
	redCan := solidFrame(230, 30, 30).Buffer
	if _, err := svc.Register(ctx, "tenant-1", "prod-cola", redCan, nil, 0.9, time.Now()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.Register(ctx, "tenant-1", "prod-cherry-cola", redCan, nil, 0.9, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result, err := svc.Recognize(ctx, "tenant-1", redCan, RecognizeOptions{})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if result.Outcome != shared.OutcomeAmbiguous {
		t.Errorf("near-identical candidates should classify as ambiguous, got %s", result.Outcome)
	}
	if result.Confident {
		t.Error("ambiguous results must not auto-select")
	}
}

func TestService_RecognizeEmptyBank(t *testing.T) {
	svc := newTestService(bank.NewMemoryBank())

	result, err := svc.Recognize(context.Background(), "tenant-1", solidFrame(230, 30, 30).Buffer, RecognizeOptions{})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if result.Outcome != shared.OutcomeNoMatch {
		t.Errorf("expected no-match on empty bank, got %s", result.Outcome)
	}
}

func TestService_RecognizeNeverWritesBank(t *testing.T) {
	b := bank.NewMemoryBank()
	svc := newTestService(b)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "tenant-1", "prod-a", solidFrame(230, 30, 30).Buffer, nil, 0.9, time.Now()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.Recognize(ctx, "tenant-1", solidFrame(230, 30, 30).Buffer, RecognizeOptions{}); err != nil {
			t.Fatalf("Recognize failed: %v", err)
		}
	}
	if b.Size("tenant-1") != 1 {
		t.Errorf("recognition must not write to the bank, size %d", b.Size("tenant-1"))
	}
}

func TestService_TenantIsolation(t *testing.T) {
	b := bank.NewMemoryBank()
	svc := newTestService(b)
	ctx := context.Background()

	redCan := solidFrame(230, 30, 30).Buffer
	if _, err := svc.Register(ctx, "tenant-1", "prod-red-soda", redCan, nil, 0.9, time.Now()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result, err := svc.Recognize(ctx, "tenant-2", redCan, RecognizeOptions{})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if result.Outcome != shared.OutcomeNoMatch {
		t.Errorf("another tenant's tokens must stay invisible, got %s", result.Outcome)
	}
}

func TestService_ThresholdOverrides(t *testing.T) {
	b := bank.NewMemoryBank()
	svc := newTestService(b)
	ctx := context.Background()

	redCan := solidFrame(230, 30, 30).Buffer
	if _, err := svc.Register(ctx, "tenant-1", "prod-red-soda", redCan, nil, 0.9, time.Now()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// An impossible confident bar turns a perfect match into no-match.
	strict := Thresholds{Confident: 1.1, AmbiguityMargin: 0.05, NoMatchFloor: 0.40}
	result, err := svc.Recognize(ctx, "tenant-1", redCan, RecognizeOptions{Thresholds: &strict})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if result.Outcome != shared.OutcomeNoMatch {
		t.Errorf("expected no-match under strict thresholds, got %s", result.Outcome)
	}
}

func TestService_TopKOverride(t *testing.T) {
	b := bank.NewMemoryBank()
	svc := newTestService(b)
	ctx := context.Background()

	shades := [][3]byte{{230, 30, 30}, {200, 40, 40}, {180, 60, 60}, {20, 30, 230}}
	for i, c := range shades {
		buf := solidFrame(c[0], c[1], c[2]).Buffer
		productID := "prod-" + string(rune('a'+i))
		if _, err := svc.Register(ctx, "tenant-1", productID, buf, nil, 0.9, time.Now()); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	result, err := svc.Recognize(ctx, "tenant-1", solidFrame(230, 30, 30).Buffer, RecognizeOptions{TopK: 2})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if len(result.Candidates) > 2 {
		t.Errorf("expected at most 2 candidates, got %d", len(result.Candidates))
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := newTestService(bank.NewMemoryBank())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "tenant-1", "prod-a", nil, nil, 0.9, time.Now()); err == nil {
		t.Error("expected error for nil buffer")
	}

	var invalid *descriptor.InvalidImageError
	_, err := svc.Register(ctx, "tenant-1", "prod-a", &descriptor.ImageBuffer{Width: 2, Height: 2, Pix: []byte{0}}, nil, 0.9, time.Now())
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidImageError, got %v", err)
	}
}

func TestService_DuplicateRegistrationConflicts(t *testing.T) {
	svc := newTestService(bank.NewMemoryBank())
	ctx := context.Background()

	capturedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	redCan := solidFrame(230, 30, 30).Buffer

	if _, err := svc.Register(ctx, "tenant-1", "prod-a", redCan, nil, 0.9, capturedAt); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Identical capture metadata encodes to the same token id.
	_, err := svc.Register(ctx, "tenant-1", "prod-a", redCan, nil, 0.9, capturedAt)
	if !errors.Is(err, shared.ErrConflict) {
		t.Errorf("expected ErrConflict for identical registration, got %v", err)
	}
}
