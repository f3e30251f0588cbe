package matcher

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/otic-labs/vision-backend/internal/descriptor"
	"github.com/otic-labs/vision-backend/internal/token"
)

// ErrEmptyBank signals "nothing to compare against" for callers that asked
// for it explicitly via MatchStrict. An empty bank is otherwise a normal
// outcome: Match returns an empty candidate list, not an error.
var ErrEmptyBank = errors.New("empty bank")

var (
	maxColorDist   = math.Sqrt(3)
	maxSpatialDist = math.Sqrt(2)
)

// Weights combines the three distance terms. Colour dominates; spatial
// layout and lighting refine.
type Weights struct {
	Color    float64
	Spatial  float64
	Lighting float64
}

func DefaultWeights() Weights {
	return Weights{Color: 0.60, Spatial: 0.25, Lighting: 0.15}
}

// Components holds the per-term distances behind a similarity score, kept
// for explainability.
type Components struct {
	Color    float64 `json:"color"`
	Spatial  float64 `json:"spatial"`
	Lighting float64 `json:"lighting"`
}

// Candidate is one ranked match: the product, the token that scored best
// for it, and the similarity that token achieved.
type Candidate struct {
	ProductID    string     `json:"product_id"`
	TokenID      string     `json:"token_id"`
	Similarity   float64    `json:"similarity"`
	Components   Components `json:"components"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// Matcher scores descriptors against a bank of tokens. It is policy-free:
// it always returns its best-effort ranking, and deciding confident versus
// ambiguous is the caller's job.
type Matcher struct {
	weights Weights
}

func New(weights Weights) *Matcher {
	if weights.Color == 0 && weights.Spatial == 0 && weights.Lighting == 0 {
		weights = DefaultWeights()
	}
	// Normalize so the combined distance stays in [0,1].
	total := weights.Color + weights.Spatial + weights.Lighting
	weights.Color /= total
	weights.Spatial /= total
	weights.Lighting /= total
	return &Matcher{weights: weights}
}

// Match ranks every product in the token sequence against desc, best first,
// truncated to topK. A product with multiple tokens scores as its best
// token, and the reported token id is the one that achieved the maximum.
func (m *Matcher) Match(desc *descriptor.ColorDescriptor, tokens []*token.VisualToken, topK int) []Candidate {
	canonical := desc.Canonical()

	best := make(map[string]Candidate)
	order := make([]string, 0)

	for _, tok := range tokens {
		sim, comps := m.similarity(canonical, &tok.Descriptor.ColorDescriptor)
		cand := Candidate{
			ProductID:    tok.ProductID,
			TokenID:      tok.ID,
			Similarity:   sim,
			Components:   comps,
			RegisteredAt: tok.CreatedAt,
		}

		current, seen := best[tok.ProductID]
		if !seen {
			best[tok.ProductID] = cand
			order = append(order, tok.ProductID)
			continue
		}
		if cand.Similarity > current.Similarity ||
			(cand.Similarity == current.Similarity && cand.RegisteredAt.After(current.RegisteredAt)) {
			best[tok.ProductID] = cand
		}
	}

	candidates := make([]Candidate, 0, len(best))
	for _, productID := range order {
		candidates = append(candidates, best[productID])
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].RegisteredAt.After(candidates[j].RegisteredAt)
	})

	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

// MatchStrict behaves like Match but treats an empty bank as ErrEmptyBank.
func (m *Matcher) MatchStrict(desc *descriptor.ColorDescriptor, tokens []*token.VisualToken, topK int) ([]Candidate, error) {
	if len(tokens) == 0 {
		return nil, ErrEmptyBank
	}
	return m.Match(desc, tokens, topK), nil
}

// Similarity scores two descriptors in [0,1]; 1 means identical.
func (m *Matcher) Similarity(a, b *descriptor.ColorDescriptor) (float64, Components) {
	return m.similarity(a.Canonical(), b.Canonical())
}

// similarity expects both descriptors in canonical cluster order. Clusters
// are paired greedily by nearest weight, since enumeration order carries no
// meaning across two independent extractions.
func (m *Matcher) similarity(a, b *descriptor.ColorDescriptor) (float64, Components) {
	pairs := pairByWeight(a.Clusters, b.Clusters)

	var colorSum, spatialSum float64
	for _, p := range pairs {
		w := (p.a.Weight + p.b.Weight) / 2
		if w == 0 {
			continue
		}
		colorSum += w * colorDist(p.a, p.b) / maxColorDist
		spatialSum += w * spatialDist(p.a, p.b) / maxSpatialDist
	}

	comps := Components{
		Color:    clamp01(colorSum),
		Spatial:  clamp01(spatialSum),
		Lighting: clamp01(math.Abs(a.Lighting - b.Lighting)),
	}

	distance := m.weights.Color*comps.Color +
		m.weights.Spatial*comps.Spatial +
		m.weights.Lighting*comps.Lighting

	return 1 - clamp01(distance), comps
}

type clusterPair struct {
	a, b descriptor.Cluster
}

func pairByWeight(a, b []descriptor.Cluster) []clusterPair {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	used := make([]bool, len(b))
	pairs := make([]clusterPair, 0, n)
	for i := 0; i < n; i++ {
		bestJ := -1
		bestDiff := math.Inf(1)
		for j := range b {
			if used[j] {
				continue
			}
			if diff := math.Abs(a[i].Weight - b[j].Weight); diff < bestDiff {
				bestJ = j
				bestDiff = diff
			}
		}
		used[bestJ] = true
		pairs = append(pairs, clusterPair{a: a[i], b: b[bestJ]})
	}
	return pairs
}

func colorDist(a, b descriptor.Cluster) float64 {
	dr := a.R - b.R
	dg := a.G - b.G
	db := a.B - b.B
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

func spatialDist(a, b descriptor.Cluster) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
