package descriptor

import (
	"image"
	"sort"
)

const (
	DefaultClusters   = 6
	DefaultIterations = 10

	// maxSamples caps how many pixels one extraction visits. Sampling uses a
	// fixed stride so the same image always visits the same pixels.
	maxSamples = 16384
)

type Config struct {
	// Clusters is k, the fixed number of dominant colours per descriptor.
	Clusters int

	// Iterations caps centroid refinement rounds.
	Iterations int
}

// Extractor turns raw image buffers into ColorDescriptors via k-means over
// the RGB cube. Extraction is deterministic: centroids are seeded from
// evenly spaced points on the gray diagonal, never from random state, so the
// same bytes and the same k always produce the same descriptor.
type Extractor struct {
	cfg Config
}

func NewExtractor(cfg Config) *Extractor {
	if cfg.Clusters <= 0 {
		cfg.Clusters = DefaultClusters
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}
	return &Extractor{cfg: cfg}
}

func (e *Extractor) ClusterCount() int {
	return e.cfg.Clusters
}

type sample struct {
	r, g, b float64
	x, y    float64
}

// Extract computes the colour signature of buf. roi optionally restricts
// analysis to a crop; centroid coordinates are normalized within the
// analyzed region.
func (e *Extractor) Extract(buf *ImageBuffer, roi *image.Rectangle) (*ColorDescriptor, error) {
	if err := buf.validate(); err != nil {
		return nil, err
	}

	region := image.Rect(0, 0, buf.Width, buf.Height)
	if roi != nil {
		region = roi.Intersect(region)
		if region.Empty() {
			return nil, &InvalidImageError{Reason: "region of interest outside image bounds"}
		}
	}

	samples := e.collect(buf, region)

	k := e.cfg.Clusters
	centroids := seedCentroids(k)
	assignments := make([]int, len(samples))

	for iter := 0; iter < e.cfg.Iterations; iter++ {
		moved := assign(samples, centroids, assignments)
		recenter(samples, assignments, centroids)
		if !moved && iter > 0 {
			break
		}
	}
	assign(samples, centroids, assignments)

	clusters := summarize(samples, assignments, centroids, k)

	return &ColorDescriptor{
		Clusters: clusters,
		Lighting: lighting(samples),
	}, nil
}

func (e *Extractor) collect(buf *ImageBuffer, region image.Rectangle) []sample {
	w := region.Dx()
	h := region.Dy()

	stride := 1
	for (w/stride)*(h/stride) > maxSamples {
		stride++
	}

	fw := float64(w)
	fh := float64(h)

	samples := make([]sample, 0, (w/stride+1)*(h/stride+1))
	for y := region.Min.Y; y < region.Max.Y; y += stride {
		row := y * buf.Width * Channels
		for x := region.Min.X; x < region.Max.X; x += stride {
			off := row + x*Channels
			samples = append(samples, sample{
				r: float64(buf.Pix[off]) / 255,
				g: float64(buf.Pix[off+1]) / 255,
				b: float64(buf.Pix[off+2]) / 255,
				x: (float64(x-region.Min.X) + 0.5) / fw,
				y: (float64(y-region.Min.Y) + 0.5) / fh,
			})
		}
	}
	return samples
}

// seedCentroids places k starting centroids evenly along the gray diagonal
// of the RGB cube.
func seedCentroids(k int) [][3]float64 {
	centroids := make([][3]float64, k)
	for i := range centroids {
		v := (float64(i) + 0.5) / float64(k)
		centroids[i] = [3]float64{v, v, v}
	}
	return centroids
}

func assign(samples []sample, centroids [][3]float64, assignments []int) bool {
	moved := false
	for i, s := range samples {
		best := 0
		bestDist := colorDistSq(s, centroids[0])
		for j := 1; j < len(centroids); j++ {
			if d := colorDistSq(s, centroids[j]); d < bestDist {
				best = j
				bestDist = d
			}
		}
		if assignments[i] != best {
			assignments[i] = best
			moved = true
		}
	}
	return moved
}

func recenter(samples []sample, assignments []int, centroids [][3]float64) {
	sums := make([][3]float64, len(centroids))
	counts := make([]int, len(centroids))
	for i, s := range samples {
		c := assignments[i]
		sums[c][0] += s.r
		sums[c][1] += s.g
		sums[c][2] += s.b
		counts[c]++
	}
	for j := range centroids {
		if counts[j] == 0 {
			continue
		}
		n := float64(counts[j])
		centroids[j] = [3]float64{sums[j][0] / n, sums[j][1] / n, sums[j][2] / n}
	}
}

func summarize(samples []sample, assignments []int, centroids [][3]float64, k int) []Cluster {
	counts := make([]int, k)
	posX := make([]float64, k)
	posY := make([]float64, k)
	for i := range samples {
		c := assignments[i]
		counts[c]++
		posX[c] += samples[i].x
		posY[c] += samples[i].y
	}

	total := float64(len(samples))
	clusters := make([]Cluster, k)
	for j := 0; j < k; j++ {
		if counts[j] == 0 {
			// Padded slot: zero weight, neutral centroid.
			clusters[j] = Cluster{X: 0.5, Y: 0.5}
			continue
		}
		n := float64(counts[j])
		clusters[j] = Cluster{
			R:      centroids[j][0],
			G:      centroids[j][1],
			B:      centroids[j][2],
			Weight: n / total,
			X:      posX[j] / n,
			Y:      posY[j] / n,
		}
	}

	sortClusters(clusters)
	return clusters
}

// sortClusters orders clusters by descending weight with a full deterministic
// tie-break, so equal extractions enumerate identically.
func sortClusters(clusters []Cluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		a, b := clusters[i], clusters[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.R != b.R {
			return a.R < b.R
		}
		if a.G != b.G {
			return a.G < b.G
		}
		return a.B < b.B
	})
}

// lighting estimates scene colour temperature as the red share of the
// red/blue channel mass, mapped to [0,1]. Degenerate frames report 0.5.
func lighting(samples []sample) float64 {
	var r, b float64
	for _, s := range samples {
		r += s.r
		b += s.b
	}
	if r+b == 0 {
		return 0.5
	}
	return r / (r + b)
}

func colorDistSq(s sample, c [3]float64) float64 {
	dr := s.r - c[0]
	dg := s.g - c[1]
	db := s.b - c[2]
	return dr*dr + dg*dg + db*db
}
