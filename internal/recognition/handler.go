package recognition

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/otic-labs/vision-backend/internal/bank"
	"github.com/otic-labs/vision-backend/internal/descriptor"
	"github.com/otic-labs/vision-backend/internal/dto"
	"github.com/otic-labs/vision-backend/internal/matcher"
	"github.com/otic-labs/vision-backend/internal/shared"
	"github.com/otic-labs/vision-backend/internal/token"
)

type Handler struct {
	service  *Service
	bank     bank.Bank
	sessions *SessionStore
	frames   *FrameStore
	logger   *slog.Logger
}

func NewHandler(service *Service, bankStore bank.Bank, sessions *SessionStore, frames *FrameStore, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		bank:     bankStore,
		sessions: sessions,
		frames:   frames,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/recognitions", h.Recognize)
	g.POST("/tokens", h.RegisterToken)
	g.GET("/tenants/:tenant_id/tokens", h.ListTokens)
	g.GET("/tenants/:tenant_id/metrics", h.Metrics)
	g.GET("/sessions/:session_id", h.GetSession)
	g.GET("/sessions/:session_id/frames", h.SessionFrames)
	g.GET("/sessions/:session_id/frames/latest", h.LatestSessionFrame)
}

// Recognize runs one recognition cycle over a submitted frame.
//
//	@Summary	Recognize a product from one frame
//	@Tags		recognition
//	@Accept		json
//	@Produce	json
//	@Param		request	body		dto.RecognizeRequest	true	"Frame and matching options"
//	@Success	200		{object}	dto.RecognizeResponse
//	@Failure	400		{object}	shared.APIError
//	@Router		/v1/recognitions [post]
func (h *Handler) Recognize(c echo.Context) error {
	var req dto.RecognizeRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if req.TenantID == "" {
		return shared.BadRequest("missing_tenant", "tenant_id is required")
	}

	buf, err := decodeImage(req.ImageBase64)
	if err != nil {
		return shared.BadRequest("invalid_image", err.Error())
	}

	opts := RecognizeOptions{
		TopK: req.TopK,
		ROI:  toRegion(req.ROI),
	}
	if req.ConfidentThreshold != nil || req.AmbiguityMargin != nil || req.NoMatchFloor != nil {
		t := h.service.Thresholds()
		if req.ConfidentThreshold != nil {
			t.Confident = *req.ConfidentThreshold
		}
		if req.AmbiguityMargin != nil {
			t.AmbiguityMargin = *req.AmbiguityMargin
		}
		if req.NoMatchFloor != nil {
			t.NoMatchFloor = *req.NoMatchFloor
		}
		opts.Thresholds = &t
	}

	result, err := h.service.Recognize(c.Request().Context(), req.TenantID, buf, opts)
	if err != nil {
		var invalid *descriptor.InvalidImageError
		if errors.As(err, &invalid) {
			return shared.BadRequest("invalid_image", invalid.Error())
		}
		h.logger.Error("recognition failed", "error", err, "tenant_id", req.TenantID)
		return shared.InternalError("recognition_failed", "recognition failed")
	}

	return c.JSON(http.StatusOK, resultToResponse(result))
}

// RegisterToken registers a product's visual signature into the tenant bank.
//
//	@Summary	Register a visual token
//	@Tags		tokens
//	@Accept		json
//	@Produce	json
//	@Param		request	body		dto.RegisterTokenRequest	true	"Registration capture"
//	@Success	201		{object}	dto.TokenResponse
//	@Failure	400		{object}	shared.APIError
//	@Failure	422		{object}	shared.APIError
//	@Router		/v1/tokens [post]
func (h *Handler) RegisterToken(c echo.Context) error {
	var req dto.RegisterTokenRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}
	if req.TenantID == "" {
		return shared.BadRequest("missing_tenant", "tenant_id is required")
	}
	if req.ProductID == "" {
		return shared.BadRequest("missing_product", "product_id is required")
	}

	buf, err := decodeImage(req.ImageBase64)
	if err != nil {
		return shared.BadRequest("invalid_image", err.Error())
	}

	var capturedAt time.Time
	if req.CapturedAt != "" {
		capturedAt, err = time.Parse(time.RFC3339, req.CapturedAt)
		if err != nil {
			return shared.BadRequest("invalid_captured_at", "captured_at must be RFC3339")
		}
	}

	tok, err := h.service.Register(c.Request().Context(), req.TenantID, req.ProductID, buf, toRegion(req.ROI), req.Quality, capturedAt)
	if err != nil {
		var invalid *descriptor.InvalidImageError
		var encoding *token.EncodingError
		var mismatch *bank.TenantMismatchError
		switch {
		case errors.As(err, &invalid):
			return shared.BadRequest("invalid_image", invalid.Error())
		case errors.As(err, &encoding):
			return shared.UnprocessableEntity("encoding_failed", encoding.Error())
		case errors.As(err, &mismatch):
			h.logger.Error("tenant mismatch on registration", "error", err, "tenant_id", req.TenantID)
			return shared.InternalError("tenant_mismatch", "token routed to wrong tenant partition")
		case errors.Is(err, shared.ErrConflict):
			return shared.Conflict("duplicate_token", "token already registered")
		default:
			h.logger.Error("registration failed", "error", err, "tenant_id", req.TenantID)
			return shared.InternalError("registration_failed", "registration failed")
		}
	}

	return c.JSON(http.StatusCreated, tokenToResponse(tok))
}

// ListTokens lists a tenant's registered tokens, optionally per product.
//
//	@Summary	List visual tokens
//	@Tags		tokens
//	@Produce	json
//	@Param		tenant_id	path		string	true	"Tenant identifier"
//	@Param		product_id	query		string	false	"Filter by product"
//	@Success	200			{object}	dto.TokenListResponse
//	@Router		/v1/tenants/{tenant_id}/tokens [get]
func (h *Handler) ListTokens(c echo.Context) error {
	tenantID := c.Param("tenant_id")
	productID := c.QueryParam("product_id")

	var (
		tokens []*token.VisualToken
		err    error
	)
	if productID != "" {
		tokens, err = h.bank.TokensForProduct(c.Request().Context(), tenantID, productID)
	} else {
		tokens, err = h.bank.TokensFor(c.Request().Context(), tenantID)
	}
	if err != nil {
		h.logger.Error("token list failed", "error", err, "tenant_id", tenantID)
		return shared.InternalError("list_failed", "failed to list tokens")
	}

	resp := dto.TokenListResponse{
		TenantID: tenantID,
		Tokens:   make([]dto.TokenResponse, len(tokens)),
	}
	for i, tok := range tokens {
		resp.Tokens[i] = tokenToResponse(tok)
	}
	return c.JSON(http.StatusOK, resp)
}

// Metrics returns hourly recognition counters.
//
//	@Summary	Tenant recognition metrics
//	@Tags		metrics
//	@Produce	json
//	@Param		tenant_id	path		string	true	"Tenant identifier"
//	@Param		hours		query		int		false	"Window size in hours (max 168)"
//	@Success	200			{object}	dto.MetricsListResponse
//	@Router		/v1/tenants/{tenant_id}/metrics [get]
func (h *Handler) Metrics(c echo.Context) error {
	tenantID := c.Param("tenant_id")

	hours := 24
	if v := c.QueryParam("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return shared.BadRequest("invalid_hours", "hours must be a positive integer")
		}
		hours = parsed
	}
	if hours > 168 {
		hours = 168
	}

	metrics, err := h.sessions.GetMetrics(c.Request().Context(), tenantID, hours)
	if err != nil {
		h.logger.Error("metrics query failed", "error", err, "tenant_id", tenantID)
		return shared.InternalError("metrics_failed", "failed to load metrics")
	}

	resp := dto.MetricsListResponse{
		TenantID: tenantID,
		Hours:    hours,
		Metrics:  make([]dto.MetricsResponse, len(metrics)),
	}
	for i, m := range metrics {
		resp.Metrics[i] = dto.MetricsResponse{
			TenantID:      m.TenantID,
			Date:          m.Date,
			Hour:          m.Hour,
			Recognitions:  m.Recognitions,
			Confident:     m.Confident,
			Ambiguous:     m.Ambiguous,
			NoMatch:       m.NoMatch,
			Registrations: m.Registrations,
			AvgLatencyMs:  m.AvgLatencyMs,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// GetSession returns the record of one streaming session.
//
//	@Summary	Inspect a streaming session
//	@Tags		sessions
//	@Produce	json
//	@Param		session_id	path		string	true	"Session identifier"
//	@Success	200			{object}	dto.SessionResponse
//	@Failure	404			{object}	shared.APIError
//	@Router		/v1/sessions/{session_id} [get]
func (h *Handler) GetSession(c echo.Context) error {
	id := c.Param("session_id")
	sess, err := h.sessions.GetSession(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("session_not_found", "session not found")
		}
		h.logger.Error("session lookup failed", "error", err, "session_id", id)
		return shared.InternalError("session_lookup_failed", "failed to load session")
	}
	return c.JSON(http.StatusOK, sessionToResponse(sess))
}

// SessionFrames returns the buffered captures of a streaming session in
// capture order, trimmed by the since/until bounds.
//
//	@Summary	List buffered session frames
//	@Tags		sessions
//	@Produce	json
//	@Param		session_id	path		string	true	"Session identifier"
//	@Param		since		query		int		false	"Lower bound, unix milliseconds"
//	@Param		until		query		int		false	"Upper bound, unix milliseconds"
//	@Param		limit		query		int		false	"Maximum frames (max 200)"
//	@Success	200			{object}	dto.FrameListResponse
//	@Router		/v1/sessions/{session_id}/frames [get]
func (h *Handler) SessionFrames(c echo.Context) error {
	sessionID := c.Param("session_id")

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return shared.BadRequest("invalid_limit", "limit must be a positive integer")
		}
		limit = parsed
	}
	if limit > 200 {
		limit = 200
	}

	var start int64
	end := time.Now().UnixMilli()
	if v := c.QueryParam("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return shared.BadRequest("invalid_since", "since must be unix milliseconds")
		}
		start = parsed
	}
	if v := c.QueryParam("until"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return shared.BadRequest("invalid_until", "until must be unix milliseconds")
		}
		end = parsed
	}

	frames, err := h.frames.Frames(c.Request().Context(), sessionID, start, end, limit)
	if err != nil {
		h.logger.Error("frame list failed", "error", err, "session_id", sessionID)
		return shared.InternalError("frame_list_failed", "failed to load frames")
	}

	resp := dto.FrameListResponse{
		SessionID: sessionID,
		Frames:    make([]dto.FrameResponse, len(frames)),
	}
	for i, f := range frames {
		resp.Frames[i] = frameToResponse(f)
	}
	return c.JSON(http.StatusOK, resp)
}

// LatestSessionFrame returns the most recent buffered capture of a session.
//
//	@Summary	Latest buffered session frame
//	@Tags		sessions
//	@Produce	json
//	@Param		session_id	path		string	true	"Session identifier"
//	@Success	200			{object}	dto.FrameResponse
//	@Failure	404			{object}	shared.APIError
//	@Router		/v1/sessions/{session_id}/frames/latest [get]
func (h *Handler) LatestSessionFrame(c echo.Context) error {
	sessionID := c.Param("session_id")

	frame, err := h.frames.LatestFrame(c.Request().Context(), sessionID)
	if err != nil {
		h.logger.Error("frame lookup failed", "error", err, "session_id", sessionID)
		return shared.InternalError("frame_lookup_failed", "failed to load frame")
	}
	if frame == nil {
		return shared.NotFound("frame_not_found", "no frames buffered for session")
	}
	return c.JSON(http.StatusOK, frameToResponse(frame))
}

func sessionToResponse(s *Session) dto.SessionResponse {
	return dto.SessionResponse{
		ID:           s.ID,
		TenantID:     s.TenantID,
		DeviceID:     s.DeviceID,
		Status:       string(s.Status),
		StartedAt:    s.StartedAt.UTC().Format(time.RFC3339),
		LastActiveAt: s.LastActiveAt.UTC().Format(time.RFC3339),
	}
}

func frameToResponse(f *StoredFrame) dto.FrameResponse {
	return dto.FrameResponse{
		Timestamp:   f.Timestamp,
		ImageBase64: base64.StdEncoding.EncodeToString(f.Data),
	}
}

func decodeImage(encoded string) (*descriptor.ImageBuffer, error) {
	if encoded == "" {
		return nil, errors.New("image_base64 is required")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("image_base64 is not valid base64")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New("image data is not a decodable JPEG or PNG")
	}
	return descriptor.FromImage(img), nil
}

func toRegion(r *dto.Rect) *image.Rectangle {
	if r == nil {
		return nil
	}
	region := image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
	return &region
}

func resultToResponse(result *Result) dto.RecognizeResponse {
	resp := dto.RecognizeResponse{
		Outcome:    result.Outcome.String(),
		Confident:  result.Confident,
		Candidates: make([]dto.CandidateResponse, len(result.Candidates)),
		ElapsedMs:  result.ElapsedMs,
	}
	for i, cand := range result.Candidates {
		resp.Candidates[i] = candidateToResponse(cand)
	}
	return resp
}

func candidateToResponse(cand matcher.Candidate) dto.CandidateResponse {
	return dto.CandidateResponse{
		ProductID:  cand.ProductID,
		TokenID:    cand.TokenID,
		Similarity: cand.Similarity,
		Components: dto.ComponentsResponse{
			Color:    cand.Components.Color,
			Spatial:  cand.Components.Spatial,
			Lighting: cand.Components.Lighting,
		},
		RegisteredAt: cand.RegisteredAt.Format(time.RFC3339),
	}
}

func tokenToResponse(tok *token.VisualToken) dto.TokenResponse {
	return dto.TokenResponse{
		ID:           tok.ID,
		TenantID:     tok.TenantID,
		ProductID:    tok.ProductID,
		Quality:      tok.Quality,
		ClusterCount: len(tok.Descriptor.Clusters),
		Lighting:     tok.Descriptor.Lighting,
		CapturedAt:   tok.CapturedAt.Format(time.RFC3339),
		CreatedAt:    tok.CreatedAt.Format(time.RFC3339),
	}
}
