package dto

type RegisterTokenRequest struct {
	TenantID    string `json:"tenant_id" example:"ten_9f2c41d8"`
	ProductID   string `json:"product_id" example:"prod_red_soda"`
	ImageBase64 string `json:"image_base64"`

	// Quality is the capture quality score in [0,1], derived by the client
	// from focus/stability signals.
	Quality float64 `json:"quality" example:"0.9"`

	CapturedAt string `json:"captured_at,omitempty" example:"2024-01-15T10:00:00Z"`
	ROI        *Rect  `json:"roi,omitempty"`
}

type TokenResponse struct {
	ID           string  `json:"id" example:"tok_1a2b3c"`
	TenantID     string  `json:"tenant_id" example:"ten_9f2c41d8"`
	ProductID    string  `json:"product_id" example:"prod_red_soda"`
	Quality      float64 `json:"quality" example:"0.9"`
	ClusterCount int     `json:"cluster_count" example:"6"`
	Lighting     float64 `json:"lighting" example:"0.52"`
	CapturedAt   string  `json:"captured_at" example:"2024-01-15T10:00:00Z"`
	CreatedAt    string  `json:"created_at" example:"2024-01-15T10:00:01Z"`
}

type TokenListResponse struct {
	TenantID string          `json:"tenant_id" example:"ten_9f2c41d8"`
	Tokens   []TokenResponse `json:"tokens"`
}
