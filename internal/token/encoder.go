package token

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/otic-labs/vision-backend/internal/descriptor"
)

// EncodingError reports a descriptor or metadata that cannot form a valid
// token. It is an input error, never retried.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return "encoding failed: " + e.Reason
}

// Encoder serializes descriptors into immutable VisualTokens. The token id
// is a stable hash over tenant, product, the canonicalized descriptor and
// the capture timestamp, so the same registration event always produces the
// same id while distinct registrations never collide.
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Encode(desc *descriptor.ColorDescriptor, tenantID, productID string, capturedAt time.Time, quality float64) (*VisualToken, error) {
	if tenantID == "" {
		return nil, &EncodingError{Reason: "missing tenant id"}
	}
	if productID == "" {
		return nil, &EncodingError{Reason: "missing product id"}
	}
	if quality < 0 || quality > 1 {
		return nil, &EncodingError{Reason: fmt.Sprintf("quality %f out of range", quality)}
	}
	if err := desc.Validate(); err != nil {
		return nil, &EncodingError{Reason: err.Error()}
	}

	canonical := desc.Canonical()

	sum := sha256.Sum256(canonicalPayload(canonical, tenantID, productID, capturedAt))

	return &VisualToken{
		ID:         "tok_" + hex.EncodeToString(sum[:16]),
		TenantID:   tenantID,
		ProductID:  productID,
		Descriptor: DescriptorColumn{ColorDescriptor: *canonical},
		Quality:    quality,
		CapturedAt: capturedAt.UTC(),
	}, nil
}

// canonicalPayload writes every identity-relevant field in a fixed order
// with a fixed float encoding. Clusters must already be in canonical order.
func canonicalPayload(desc *descriptor.ColorDescriptor, tenantID, productID string, capturedAt time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteString(tenantID)
	buf.WriteByte('|')
	buf.WriteString(productID)
	buf.WriteByte('|')
	buf.WriteString(strconv.FormatInt(capturedAt.UTC().UnixMilli(), 10))
	buf.WriteByte('|')
	writeFloat(&buf, desc.Lighting)
	for _, c := range desc.Clusters {
		buf.WriteByte('|')
		writeFloat(&buf, c.R)
		writeFloat(&buf, c.G)
		writeFloat(&buf, c.B)
		writeFloat(&buf, c.Weight)
		writeFloat(&buf, c.X)
		writeFloat(&buf, c.Y)
	}
	return buf.Bytes()
}

func writeFloat(buf *bytes.Buffer, v float64) {
	buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	buf.WriteByte(';')
}
