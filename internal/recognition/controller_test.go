package recognition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/otic-labs/vision-backend/internal/bank"
	"github.com/otic-labs/vision-backend/internal/descriptor"
	"github.com/otic-labs/vision-backend/internal/shared"
	"github.com/otic-labs/vision-backend/internal/token"
)

func solidFrame(r, g, b byte) *Frame {
	const w, h = 32, 32
	pix := make([]byte, 0, w*h*descriptor.Channels)
	for i := 0; i < w*h; i++ {
		pix = append(pix, r, g, b)
	}
	return &Frame{
		Buffer:     &descriptor.ImageBuffer{Width: w, Height: h, Pix: pix},
		CapturedAt: time.Now(),
	}
}

// seedProduct extracts the frame and registers it as a token for productID.
func seedProduct(t *testing.T, b bank.Bank, tenantID, productID string, frame *Frame) {
	t.Helper()
	extractor := descriptor.NewExtractor(descriptor.Config{})
	desc, err := extractor.Extract(frame.Buffer, nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	tok, err := token.NewEncoder().Encode(desc, tenantID, productID, time.Now(), 0.9)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := b.Register(context.Background(), tenantID, tok); err != nil {
		t.Fatalf("register failed: %v", err)
	}
}

func staticSource(frame *Frame) SourceFunc {
	return func(ctx context.Context) (*Frame, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return frame, nil
	}
}

func TestController_RunOnce_ConfidentMatch(t *testing.T) {
	b := bank.NewMemoryBank()
	redFrame := solidFrame(230, 30, 30)
	seedProduct(t, b, "tenant-1", "prod-soda", redFrame)

	ctrl := NewController(ControllerConfig{
		TenantID: "tenant-1",
		Source:   staticSource(redFrame),
		Bank:     b,
	})

	result, err := ctrl.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if result.Outcome != shared.OutcomeConfident {
		t.Errorf("expected confident outcome, got %s", result.Outcome)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].ProductID != "prod-soda" {
		t.Errorf("expected prod-soda as top candidate, got %+v", result.Candidates)
	}
	if ctrl.State() != StateIdle {
		t.Errorf("controller should return to idle, got %s", ctrl.State())
	}
	if result.ConsecutiveNoMatch != 0 {
		t.Errorf("hit should reset the no-match streak, got %d", result.ConsecutiveNoMatch)
	}
}

func TestController_RunOnce_RejectsConcurrentCycle(t *testing.T) {
	b := bank.NewMemoryBank()
	release := make(chan struct{})
	started := make(chan struct{})

	var startedOnce sync.Once
	blocking := SourceFunc(func(ctx context.Context) (*Frame, error) {
		startedOnce.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return solidFrame(230, 30, 30), nil
		}
	})

	ctrl := NewController(ControllerConfig{TenantID: "tenant-1", Source: blocking, Bank: b})

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.RunOnce(context.Background())
	}()

	<-started
	if _, err := ctrl.RunOnce(context.Background()); !errors.Is(err, shared.ErrBusy) {
		t.Errorf("expected ErrBusy while a cycle is in flight, got %v", err)
	}

	close(release)
	<-done

	if _, err := ctrl.RunOnce(context.Background()); errors.Is(err, shared.ErrBusy) {
		t.Error("controller should accept a new cycle once idle again")
	}
}

func TestController_NoMatchStreakAndRegistrationSuggestion(t *testing.T) {
	b := bank.NewMemoryBank()
	seedProduct(t, b, "tenant-1", "prod-soda", solidFrame(230, 30, 30))

	blueFrame := solidFrame(20, 30, 230)
	ctrl := NewController(ControllerConfig{
		TenantID:              "tenant-1",
		Source:                staticSource(blueFrame),
		Bank:                  b,
		MaxConsecutiveNoMatch: 3,
	})

	for i := 1; i <= 3; i++ {
		result, err := ctrl.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce %d failed: %v", i, err)
		}
		if result.Outcome != shared.OutcomeNoMatch {
			t.Fatalf("cycle %d: expected no-match, got %s", i, result.Outcome)
		}
		if result.ConsecutiveNoMatch != i {
			t.Errorf("cycle %d: expected streak %d, got %d", i, i, result.ConsecutiveNoMatch)
		}
		if suggest := i >= 3; result.SuggestRegistration != suggest {
			t.Errorf("cycle %d: expected suggest=%v, got %v", i, suggest, result.SuggestRegistration)
		}
	}

	// A hit resets the streak.
	ctrl2 := NewController(ControllerConfig{
		TenantID:              "tenant-1",
		Source:                staticSource(solidFrame(230, 30, 30)),
		Bank:                  b,
		MaxConsecutiveNoMatch: 3,
	})
	result, err := ctrl2.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if result.ConsecutiveNoMatch != 0 || result.SuggestRegistration {
		t.Errorf("hit should clear the streak, got %d / %v", result.ConsecutiveNoMatch, result.SuggestRegistration)
	}
}

func TestController_Cancellation(t *testing.T) {
	b := bank.NewMemoryBank()
	seedProduct(t, b, "tenant-1", "prod-soda", solidFrame(230, 30, 30))

	blocking := SourceFunc(func(ctx context.Context) (*Frame, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctrl := NewController(ControllerConfig{TenantID: "tenant-1", Source: blocking, Bank: b})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.RunOnce(ctx)
		errCh <- err
	}()

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunOnce did not return after cancellation")
	}

	if ctrl.State() != StateIdle {
		t.Errorf("cancelled cycle should leave the controller idle, got %s", ctrl.State())
	}
	if b.Size("tenant-1") != 1 {
		t.Errorf("cancelled cycle must not write to the bank, size %d", b.Size("tenant-1"))
	}
}

func TestController_EmptyBankIsNoMatch(t *testing.T) {
	ctrl := NewController(ControllerConfig{
		TenantID: "tenant-empty",
		Source:   staticSource(solidFrame(230, 30, 30)),
		Bank:     bank.NewMemoryBank(),
	})

	result, err := ctrl.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if result.Outcome != shared.OutcomeNoMatch {
		t.Errorf("empty bank should classify as no-match, got %s", result.Outcome)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("empty bank should yield no candidates, got %d", len(result.Candidates))
	}
}

func TestController_AutoCaptureLoop(t *testing.T) {
	b := bank.NewMemoryBank()
	redFrame := solidFrame(230, 30, 30)
	seedProduct(t, b, "tenant-1", "prod-soda", redFrame)

	source := NewChannelSource()
	ctrl := NewController(ControllerConfig{
		TenantID:        "tenant-1",
		Source:          source,
		Bank:            b,
		CaptureInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl.Start(ctx)
	defer ctrl.Stop()

	source.Offer(redFrame)

	select {
	case result := <-ctrl.Results():
		if result.Outcome != shared.OutcomeConfident {
			t.Errorf("expected confident outcome, got %s", result.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("auto-capture loop produced no result")
	}
}

func TestChannelSource_ReplacesPendingFrame(t *testing.T) {
	source := NewChannelSource()

	stale := solidFrame(10, 10, 10)
	fresh := solidFrame(230, 30, 30)
	source.Offer(stale)
	source.Offer(fresh)

	frame, err := source.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if frame != fresh {
		t.Error("a newer offer should replace the pending frame")
	}
}
