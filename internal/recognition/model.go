package recognition

import (
	"image"
	"time"

	"github.com/otic-labs/vision-backend/internal/descriptor"
	"github.com/otic-labs/vision-backend/internal/matcher"
	"github.com/otic-labs/vision-backend/internal/shared"
)

// Frame is one captured image ready for extraction.
type Frame struct {
	Buffer     *descriptor.ImageBuffer
	ROI        *image.Rectangle
	CapturedAt time.Time
}

// Result is the outcome of one recognition cycle. It is transient: the core
// never persists results, only per-tenant counters.
type Result struct {
	Outcome    shared.Outcome      `json:"outcome"`
	Confident  bool                `json:"confident"`
	Candidates []matcher.Candidate `json:"candidates"`

	Elapsed    time.Duration `json:"-"`
	ElapsedMs  int64         `json:"elapsed_ms"`
	CapturedAt time.Time     `json:"captured_at"`

	// ConsecutiveNoMatch counts NoMatch cycles since the last hit. When it
	// reaches the configured limit, SuggestRegistration is set so the caller
	// can stop auto-retrying and offer the registration path. The controller
	// exposes the signal; acting on it is the caller's policy.
	ConsecutiveNoMatch  int  `json:"consecutive_no_match"`
	SuggestRegistration bool `json:"suggest_registration"`
}

// Thresholds split a ranking into confident / ambiguous / no-match. They are
// caller-supplied policy; the matcher itself never sees them.
type Thresholds struct {
	// Confident is the minimum top similarity for a confident hit.
	Confident float64

	// AmbiguityMargin: a top candidate this close to the runner-up is
	// surfaced for human disambiguation instead of auto-selected.
	AmbiguityMargin float64

	// NoMatchFloor: below this the best candidate is not worth surfacing.
	NoMatchFloor float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Confident:       0.75,
		AmbiguityMargin: 0.05,
		NoMatchFloor:    0.40,
	}
}

// Classify applies thresholds to a ranked candidate list.
func Classify(candidates []matcher.Candidate, t Thresholds) (shared.Outcome, bool) {
	if len(candidates) == 0 || candidates[0].Similarity < t.NoMatchFloor {
		return shared.OutcomeNoMatch, false
	}
	if len(candidates) >= 2 && candidates[0].Similarity-candidates[1].Similarity <= t.AmbiguityMargin {
		return shared.OutcomeAmbiguous, false
	}
	if candidates[0].Similarity >= t.Confident {
		return shared.OutcomeConfident, true
	}
	return shared.OutcomeNoMatch, false
}
