package bank

import "github.com/otic-labs/vision-backend/internal/descriptor"

// VectorDims returns the qdrant vector dimensionality for descriptors with
// k clusters: six values per cluster plus the lighting scalar.
func VectorDims(k int) int {
	return k*6 + 1
}

// Vectorize flattens a canonical descriptor into a fixed-order float vector
// for the qdrant side index. The index is only a pre-filter; exact scoring
// always happens in the matcher.
func Vectorize(desc *descriptor.ColorDescriptor) []float32 {
	out := make([]float32, 0, VectorDims(len(desc.Clusters)))
	out = append(out, float32(desc.Lighting))
	for _, c := range desc.Clusters {
		out = append(out,
			float32(c.R), float32(c.G), float32(c.B),
			float32(c.Weight), float32(c.X), float32(c.Y))
	}
	return out
}
