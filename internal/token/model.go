package token

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/otic-labs/vision-backend/internal/descriptor"
)

// VisualToken is one registered visual signature for a product. Tokens are
// immutable: re-registering a product adds a newer token, it never edits an
// existing one.
type VisualToken struct {
	ID        string `gorm:"primaryKey" json:"id"`
	TenantID  string `gorm:"not null;index:idx_tenant_product" json:"tenant_id"`
	ProductID string `gorm:"not null;index:idx_tenant_product" json:"product_id"`

	Descriptor DescriptorColumn `gorm:"type:jsonb;not null" json:"descriptor"`

	// Quality is the capture-quality score supplied at registration, [0,1].
	Quality float64 `gorm:"not null" json:"quality"`

	CapturedAt time.Time `gorm:"not null" json:"captured_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// DescriptorColumn stores a ColorDescriptor as a JSON column.
type DescriptorColumn struct {
	descriptor.ColorDescriptor
}

func (d DescriptorColumn) Value() (driver.Value, error) {
	return json.Marshal(d.ColorDescriptor)
}

func (d *DescriptorColumn) Scan(value any) error {
	if value == nil {
		*d = DescriptorColumn{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into DescriptorColumn", value)
	}

	return json.Unmarshal(bytes, &d.ColorDescriptor)
}
