package descriptor

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

const (
	// channels per pixel in an ImageBuffer (RGB).
	Channels = 3

	// maxExtractDim is the longest edge an image is scaled down to before
	// extraction. Descriptors are resolution-independent above this size.
	maxExtractDim = 256

	weightEpsilon = 1e-6
)

// Cluster is one dominant colour of an image: an RGB triple (normalized to
// [0,1]), the fraction of pixel mass it covers, and the mean normalized
// position of its member pixels within the analyzed region.
type Cluster struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`

	Weight float64 `json:"weight"`

	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ColorDescriptor is the compact visual signature of one image: a fixed-size
// list of dominant colour clusters ordered by descending weight, plus a
// scalar lighting estimate (red/blue balance, [0,1]).
type ColorDescriptor struct {
	Clusters []Cluster `json:"clusters"`
	Lighting float64   `json:"lighting"`
}

// Validate checks the descriptor invariants: non-zero cluster count, weights
// summing to 1 within epsilon, all weights and centroids within [0,1].
func (d *ColorDescriptor) Validate() error {
	if d == nil || len(d.Clusters) == 0 {
		return fmt.Errorf("descriptor has no clusters")
	}

	var sum float64
	for i, c := range d.Clusters {
		if c.Weight < 0 || c.Weight > 1+weightEpsilon {
			return fmt.Errorf("cluster %d weight %f out of range", i, c.Weight)
		}
		if c.X < 0 || c.X > 1 || c.Y < 0 || c.Y > 1 {
			return fmt.Errorf("cluster %d centroid (%f, %f) out of range", i, c.X, c.Y)
		}
		if c.R < 0 || c.R > 1 || c.G < 0 || c.G > 1 || c.B < 0 || c.B > 1 {
			return fmt.Errorf("cluster %d colour out of range", i)
		}
		sum += c.Weight
	}

	if sum < 1-weightEpsilon || sum > 1+weightEpsilon {
		return fmt.Errorf("cluster weights sum to %f, want 1", sum)
	}

	if d.Lighting < 0 || d.Lighting > 1 {
		return fmt.Errorf("lighting %f out of range", d.Lighting)
	}

	return nil
}

// Canonical returns a copy with clusters in canonical order (descending
// weight, deterministic tie-break). Two extractions that found the same
// clusters in different enumeration order compare and hash identically once
// canonicalized.
func (d *ColorDescriptor) Canonical() *ColorDescriptor {
	out := d.Clone()
	sortClusters(out.Clusters)
	return out
}

// Clone returns a deep copy of the descriptor.
func (d *ColorDescriptor) Clone() *ColorDescriptor {
	if d == nil {
		return nil
	}
	out := &ColorDescriptor{
		Clusters: make([]Cluster, len(d.Clusters)),
		Lighting: d.Lighting,
	}
	copy(out.Clusters, d.Clusters)
	return out
}

// InvalidImageError reports a malformed image buffer. It is an input error:
// the caller passed data that cannot be analyzed.
type InvalidImageError struct {
	Reason string
}

func (e *InvalidImageError) Error() string {
	return "invalid image: " + e.Reason
}

// ImageBuffer is a decoded frame: row-major RGB bytes, three bytes per
// pixel. Decoding from JPEG/PNG is the caller's concern.
type ImageBuffer struct {
	Width  int
	Height int
	Pix    []byte
}

func (b *ImageBuffer) validate() error {
	if b == nil {
		return &InvalidImageError{Reason: "nil buffer"}
	}
	if b.Width <= 0 || b.Height <= 0 {
		return &InvalidImageError{Reason: fmt.Sprintf("zero dimensions %dx%d", b.Width, b.Height)}
	}
	if len(b.Pix) != b.Width*b.Height*Channels {
		return &InvalidImageError{Reason: fmt.Sprintf(
			"pixel data length %d does not match %dx%dx%d",
			len(b.Pix), b.Width, b.Height, Channels)}
	}
	return nil
}

// FromImage converts a decoded image into an ImageBuffer, downscaling large
// frames first so extraction cost stays bounded.
func FromImage(img image.Image) *ImageBuffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxExtractDim || h > maxExtractDim {
		if w >= h {
			img = resize.Resize(maxExtractDim, 0, img, resize.Bicubic)
		} else {
			img = resize.Resize(0, maxExtractDim, img, resize.Bicubic)
		}
		bounds = img.Bounds()
		w, h = bounds.Dx(), bounds.Dy()
	}

	buf := &ImageBuffer{
		Width:  w,
		Height: h,
		Pix:    make([]byte, 0, w*h*Channels),
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			buf.Pix = append(buf.Pix, byte(r>>8), byte(g>>8), byte(b>>8))
		}
	}
	return buf
}
