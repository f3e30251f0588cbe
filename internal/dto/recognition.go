package dto

type Rect struct {
	X      int `json:"x" example:"0"`
	Y      int `json:"y" example:"0"`
	Width  int `json:"width" example:"320"`
	Height int `json:"height" example:"240"`
}

type RecognizeRequest struct {
	TenantID    string `json:"tenant_id" example:"ten_9f2c41d8"`
	ImageBase64 string `json:"image_base64"`

	TopK int   `json:"top_k,omitempty" example:"5"`
	ROI  *Rect `json:"roi,omitempty"`

	ConfidentThreshold *float64 `json:"confident_threshold,omitempty" example:"0.75"`
	AmbiguityMargin    *float64 `json:"ambiguity_margin,omitempty" example:"0.05"`
	NoMatchFloor       *float64 `json:"no_match_floor,omitempty" example:"0.4"`
}

type ComponentsResponse struct {
	Color    float64 `json:"color" example:"0.12"`
	Spatial  float64 `json:"spatial" example:"0.08"`
	Lighting float64 `json:"lighting" example:"0.03"`
}

type CandidateResponse struct {
	ProductID    string             `json:"product_id" example:"prod_red_soda"`
	TokenID      string             `json:"token_id" example:"tok_1a2b3c"`
	Similarity   float64            `json:"similarity" example:"0.91"`
	Components   ComponentsResponse `json:"components"`
	RegisteredAt string             `json:"registered_at" example:"2024-01-15T10:00:00Z"`
}

type RecognizeResponse struct {
	Outcome    string              `json:"outcome" example:"confident"`
	Confident  bool                `json:"confident" example:"true"`
	Candidates []CandidateResponse `json:"candidates"`
	ElapsedMs  int64               `json:"elapsed_ms" example:"42"`
}

type SessionResponse struct {
	ID           string `json:"id" example:"recs_1a2b3c4d"`
	TenantID     string `json:"tenant_id" example:"ten_9f2c41d8"`
	DeviceID     string `json:"device_id,omitempty" example:"dev_counter_1"`
	Status       string `json:"status" example:"active"`
	StartedAt    string `json:"started_at" example:"2024-01-15T10:00:00Z"`
	LastActiveAt string `json:"last_active_at" example:"2024-01-15T10:05:00Z"`
}

type FrameResponse struct {
	Timestamp   int64  `json:"timestamp" example:"1705312800000"`
	ImageBase64 string `json:"image_base64"`
}

type FrameListResponse struct {
	SessionID string          `json:"session_id" example:"recs_1a2b3c4d"`
	Frames    []FrameResponse `json:"frames"`
}

type MetricsResponse struct {
	TenantID      string `json:"tenant_id" example:"ten_9f2c41d8"`
	Date          string `json:"date" example:"2024-01-15"`
	Hour          int    `json:"hour" example:"14"`
	Recognitions  int64  `json:"recognitions" example:"120"`
	Confident     int64  `json:"confident" example:"95"`
	Ambiguous     int64  `json:"ambiguous" example:"10"`
	NoMatch       int64  `json:"no_match" example:"15"`
	Registrations int64  `json:"registrations" example:"3"`
	AvgLatencyMs  int64  `json:"avg_latency_ms" example:"38"`
}

type MetricsListResponse struct {
	TenantID string            `json:"tenant_id" example:"ten_9f2c41d8"`
	Hours    int               `json:"hours" example:"24"`
	Metrics  []MetricsResponse `json:"metrics"`
}
