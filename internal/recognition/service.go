package recognition

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/otic-labs/vision-backend/internal/bank"
	"github.com/otic-labs/vision-backend/internal/descriptor"
	"github.com/otic-labs/vision-backend/internal/matcher"
	"github.com/otic-labs/vision-backend/internal/shared"
	"github.com/otic-labs/vision-backend/internal/token"
)

// prefilterLimit caps how many index candidates the exact matcher rescoring
// sees when the qdrant pre-filter is engaged.
const prefilterLimit = 64

type ServiceConfig struct {
	Bank      bank.Bank
	Store     *bank.Store
	Extractor *descriptor.Extractor
	Matcher   *matcher.Matcher
	Encoder   *token.Encoder
	Sessions  *SessionStore

	Thresholds Thresholds
	TopK       int

	// PrefilterCutoff is the bank size above which recognition goes through
	// the vector index instead of scanning every token. Zero disables the
	// pre-filter entirely.
	PrefilterCutoff int

	Logger *slog.Logger
}

// Service is the one-shot recognition and registration surface used by the
// HTTP layer. Streaming sessions use a Controller instead; both share the
// same extractor, matcher and classification.
type Service struct {
	bank      bank.Bank
	store     *bank.Store
	extractor *descriptor.Extractor
	matcher   *matcher.Matcher
	encoder   *token.Encoder
	sessions  *SessionStore

	thresholds      Thresholds
	topK            int
	prefilterCutoff int

	log *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Extractor == nil {
		cfg.Extractor = descriptor.NewExtractor(descriptor.Config{})
	}
	if cfg.Matcher == nil {
		cfg.Matcher = matcher.New(matcher.DefaultWeights())
	}
	if cfg.Encoder == nil {
		cfg.Encoder = token.NewEncoder()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Service{
		bank:            cfg.Bank,
		store:           cfg.Store,
		extractor:       cfg.Extractor,
		matcher:         cfg.Matcher,
		encoder:         cfg.Encoder,
		sessions:        cfg.Sessions,
		thresholds:      cfg.Thresholds,
		topK:            cfg.TopK,
		prefilterCutoff: cfg.PrefilterCutoff,
		log:             cfg.Logger.With("component", "recognition-service"),
	}
}

// RecognizeOptions override the service defaults for one request.
type RecognizeOptions struct {
	TopK       int
	Thresholds *Thresholds
	ROI        *image.Rectangle
}

// Recognize runs extract + match + classify over one decoded frame.
func (s *Service) Recognize(ctx context.Context, tenantID string, buf *descriptor.ImageBuffer, opts RecognizeOptions) (*Result, error) {
	start := time.Now()

	desc, err := s.extractor.Extract(buf, opts.ROI)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	tokens, err := s.loadTokens(ctx, tenantID, desc)
	if err != nil {
		return nil, fmt.Errorf("load bank: %w", err)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = s.topK
	}
	thresholds := s.thresholds
	if opts.Thresholds != nil {
		thresholds = *opts.Thresholds
	}

	candidates := s.matcher.Match(desc, tokens, topK)
	outcome, confident := Classify(candidates, thresholds)

	elapsed := time.Since(start)
	s.recordOutcome(tenantID, outcome, elapsed)

	return &Result{
		Outcome:    outcome,
		Confident:  confident,
		Candidates: candidates,
		Elapsed:    elapsed,
		ElapsedMs:  elapsed.Milliseconds(),
		CapturedAt: start.UTC(),
	}, nil
}

// Register extracts a descriptor from a registration capture, encodes it as
// an immutable token and appends it to the tenant's bank. This is the only
// path that writes to the bank, and it is always an explicit caller action.
func (s *Service) Register(ctx context.Context, tenantID, productID string, buf *descriptor.ImageBuffer, roi *image.Rectangle, quality float64, capturedAt time.Time) (*token.VisualToken, error) {
	desc, err := s.extractor.Extract(buf, roi)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	tok, err := s.encoder.Encode(desc, tenantID, productID, capturedAt, quality)
	if err != nil {
		return nil, err
	}

	if err := s.bank.Register(ctx, tenantID, tok); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	if s.sessions != nil {
		if err := s.sessions.IncrementRegistrations(ctx, tenantID); err != nil {
			s.log.Warn("registration metric failed", "error", err, "tenant_id", tenantID)
		}
	}

	return tok, nil
}

// Thresholds returns the service defaults, used by streaming controllers.
func (s *Service) Thresholds() Thresholds {
	return s.thresholds
}

func (s *Service) TopK() int {
	return s.topK
}

// loadTokens fetches the comparison set: the whole bank for small tenants,
// or the vector-index neighbourhood for large ones. The index only narrows
// the set; scoring is always exact.
func (s *Service) loadTokens(ctx context.Context, tenantID string, desc *descriptor.ColorDescriptor) ([]*token.VisualToken, error) {
	if s.store != nil && s.prefilterCutoff > 0 {
		count, err := s.store.CountFor(ctx, tenantID)
		if err == nil && count > int64(s.prefilterCutoff) {
			tokens, err := s.store.SearchByDescriptor(ctx, tenantID, desc, prefilterLimit)
			if err == nil {
				return tokens, nil
			}
			s.log.Warn("vector pre-filter failed, falling back to full scan",
				"error", err, "tenant_id", tenantID)
		}
	}

	return s.bank.TokensFor(ctx, tenantID)
}

func (s *Service) recordOutcome(tenantID string, outcome shared.Outcome, elapsed time.Duration) {
	if s.sessions == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := s.sessions.IncrementOutcome(ctx, tenantID, outcome); err != nil {
		s.log.Warn("outcome metric failed", "error", err, "tenant_id", tenantID)
		return
	}
	if err := s.sessions.RecordLatency(ctx, tenantID, elapsed.Milliseconds()); err != nil {
		s.log.Warn("latency metric failed", "error", err, "tenant_id", tenantID)
	}
}
