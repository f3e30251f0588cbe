package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/otic-labs/vision-backend/internal/bank"
	"github.com/otic-labs/vision-backend/internal/descriptor"
	"github.com/otic-labs/vision-backend/internal/matcher"
	"github.com/otic-labs/vision-backend/internal/shared"
	"github.com/otic-labs/vision-backend/internal/token"
)

// State names the controller's position in the recognition cycle.
type State string

const (
	StateIdle       State = "idle"
	StateCapturing  State = "capturing"
	StateExtracting State = "extracting"
	StateMatching   State = "matching"
)

// FrameSource delivers captured frames. Capture blocks until a frame is
// ready or ctx is done.
type FrameSource interface {
	Capture(ctx context.Context) (*Frame, error)
}

type ControllerConfig struct {
	TenantID string
	Source   FrameSource
	Bank     bank.Bank

	Extractor *descriptor.Extractor
	Matcher   *matcher.Matcher

	Thresholds Thresholds
	TopK       int

	ExtractTimeout time.Duration
	MatchTimeout   time.Duration

	// CaptureInterval drives the auto-capture loop. The timer is armed only
	// while the controller is Idle: a cycle in flight suspends it, so capture
	// requests never queue up behind slow extraction or matching.
	CaptureInterval time.Duration

	// BankRefresh bounds bank staleness for a running session. Registrations
	// are append-only, so a stale bank can only miss the newest product,
	// never return a wrong match.
	BankRefresh time.Duration

	MaxConsecutiveNoMatch int

	Logger *slog.Logger
}

// Controller runs the recognition cycle for one camera session:
// Idle -> Capturing -> Extracting -> Matching -> outcome -> Idle. Only one
// cycle runs at a time; starting a cycle while not Idle fails with ErrBusy.
// Recognition never writes to the bank; registration is a separate,
// caller-confirmed path.
type Controller struct {
	cfg ControllerConfig
	log *slog.Logger

	mu                 sync.Mutex
	state              State
	consecutiveNoMatch int

	bankMu     sync.Mutex
	bankTokens []*token.VisualToken
	bankLoaded time.Time

	results chan *Result

	runMu   sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 2 * time.Second
	}
	if cfg.MatchTimeout <= 0 {
		cfg.MatchTimeout = 2 * time.Second
	}
	if cfg.CaptureInterval <= 0 {
		cfg.CaptureInterval = 2 * time.Second
	}
	if cfg.BankRefresh <= 0 {
		cfg.BankRefresh = 30 * time.Second
	}
	if cfg.MaxConsecutiveNoMatch <= 0 {
		cfg.MaxConsecutiveNoMatch = 5
	}
	if cfg.Extractor == nil {
		cfg.Extractor = descriptor.NewExtractor(descriptor.Config{})
	}
	if cfg.Matcher == nil {
		cfg.Matcher = matcher.New(matcher.DefaultWeights())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Controller{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "recognition-controller", "tenant_id", cfg.TenantID),
		state:   StateIdle,
		results: make(chan *Result, 8),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) ConsecutiveNoMatch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveNoMatch
}

// Results streams auto-capture outcomes in capture order.
func (c *Controller) Results() <-chan *Result {
	return c.results
}

// RunOnce executes a single recognition cycle. Cancelling ctx at any point
// returns the controller to Idle with no bank writes.
func (c *Controller) RunOnce(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, shared.ErrBusy
	}
	c.state = StateCapturing
	c.mu.Unlock()

	defer c.setState(StateIdle)

	start := time.Now()

	frame, err := c.cfg.Source.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	c.setState(StateExtracting)
	desc, err := c.extract(ctx, frame)
	if err != nil {
		return nil, err
	}

	c.setState(StateMatching)
	candidates, err := c.match(ctx, desc)
	if err != nil {
		return nil, err
	}

	outcome, confident := Classify(candidates, c.cfg.Thresholds)

	c.mu.Lock()
	if outcome == shared.OutcomeNoMatch {
		c.consecutiveNoMatch++
	} else {
		c.consecutiveNoMatch = 0
	}
	streak := c.consecutiveNoMatch
	c.mu.Unlock()

	elapsed := time.Since(start)
	return &Result{
		Outcome:             outcome,
		Confident:           confident,
		Candidates:          candidates,
		Elapsed:             elapsed,
		ElapsedMs:           elapsed.Milliseconds(),
		CapturedAt:          frame.CapturedAt,
		ConsecutiveNoMatch:  streak,
		SuggestRegistration: streak >= c.cfg.MaxConsecutiveNoMatch,
	}, nil
}

// Start launches the auto-capture loop. Results are delivered through
// Results() in capture order. Stop (or cancelling the parent context) ends
// the loop and releases any in-flight capture wait.
func (c *Controller) Start(parent context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.running = true
	c.done = make(chan struct{})

	go c.loop(ctx)
}

func (c *Controller) Stop() {
	c.runMu.Lock()
	cancel := c.cancel
	done := c.done
	c.running = false
	c.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)

	timer := time.NewTimer(c.cfg.CaptureInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		result, err := c.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("recognition cycle failed", "error", err)
		} else {
			select {
			case c.results <- result:
			default:
				c.log.Warn("results buffer full, dropping result")
			}
		}

		// Re-arm only after the cycle finished: the timer stays suspended
		// while a cycle is in flight.
		timer.Reset(c.cfg.CaptureInterval)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) extract(ctx context.Context, frame *Frame) (*descriptor.ColorDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExtractTimeout)
	defer cancel()

	type extractResult struct {
		desc *descriptor.ColorDescriptor
		err  error
	}

	ch := make(chan extractResult, 1)
	go func() {
		desc, err := c.cfg.Extractor.Extract(frame.Buffer, frame.ROI)
		ch <- extractResult{desc: desc, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("extract: %w", ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("extract: %w", res.err)
		}
		return res.desc, nil
	}
}

func (c *Controller) match(ctx context.Context, desc *descriptor.ColorDescriptor) ([]matcher.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MatchTimeout)
	defer cancel()

	tokens, err := c.loadBank(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bank: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}

	return c.cfg.Matcher.Match(desc, tokens, c.cfg.TopK), nil
}

// loadBank returns the tenant's tokens, reloading at most once per
// BankRefresh interval.
func (c *Controller) loadBank(ctx context.Context) ([]*token.VisualToken, error) {
	c.bankMu.Lock()
	defer c.bankMu.Unlock()

	if c.bankTokens != nil && time.Since(c.bankLoaded) < c.cfg.BankRefresh {
		return c.bankTokens, nil
	}

	tokens, err := c.cfg.Bank.TokensFor(ctx, c.cfg.TenantID)
	if err != nil {
		if c.bankTokens != nil {
			// Serve the stale snapshot rather than failing the cycle.
			return c.bankTokens, nil
		}
		return nil, err
	}

	c.bankTokens = tokens
	c.bankLoaded = time.Now()
	return tokens, nil
}
