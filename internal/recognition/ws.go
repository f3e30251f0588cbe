package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/otic-labs/vision-backend/internal/bank"
	"github.com/otic-labs/vision-backend/internal/descriptor"
	"github.com/otic-labs/vision-backend/internal/shared"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 2 * 1024 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamEvent is one JSON message pushed to a streaming client.
type StreamEvent struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id,omitempty"`
	Result    *Result `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// StreamHandler runs streaming recognition sessions over websocket. Clients
// send binary JPEG/PNG frames; the session controller auto-captures on its
// interval and pushes results back as JSON events.
type StreamHandler struct {
	manager  *Manager
	service  *Service
	bank     bank.Bank
	frames   *FrameStore
	sessions *SessionStore

	captureInterval time.Duration
	log             *slog.Logger
}

type StreamHandlerConfig struct {
	Manager         *Manager
	Service         *Service
	Bank            bank.Bank
	Frames          *FrameStore
	Sessions        *SessionStore
	CaptureInterval time.Duration
	Logger          *slog.Logger
}

func NewStreamHandler(cfg StreamHandlerConfig) *StreamHandler {
	if cfg.CaptureInterval <= 0 {
		cfg.CaptureInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &StreamHandler{
		manager:         cfg.Manager,
		service:         cfg.Service,
		bank:            cfg.Bank,
		frames:          cfg.Frames,
		sessions:        cfg.Sessions,
		captureInterval: cfg.CaptureInterval,
		log:             cfg.Logger.With("component", "stream-handler"),
	}
}

func (h *StreamHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/stream", h.HandleStream)
}

// HandleStream upgrades the connection and runs one recognition session for
// its lifetime.
//
//	@Summary	Streaming recognition session
//	@Tags		recognition
//	@Param		tenant_id	query	string	true	"Tenant identifier"
//	@Param		device_id	query	string	false	"Device identifier"
//	@Router		/v1/recognitions/stream [get]
func (h *StreamHandler) HandleStream(c echo.Context) error {
	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return shared.BadRequest("missing_tenant", "tenant_id is required")
	}
	deviceID := c.QueryParam("device_id")

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return err
	}

	source := NewChannelSource()
	controller := NewController(ControllerConfig{
		TenantID:        tenantID,
		Source:          source,
		Bank:            h.bank,
		Thresholds:      h.service.Thresholds(),
		TopK:            h.service.TopK(),
		CaptureInterval: h.captureInterval,
		Logger:          h.log,
	})

	sess := &StreamSession{
		ID:         shared.NewID("recs_"),
		TenantID:   tenantID,
		DeviceID:   deviceID,
		Source:     source,
		Controller: controller,
	}
	h.manager.Add(sess)

	if h.sessions != nil {
		record := &Session{ID: sess.ID, TenantID: tenantID, DeviceID: deviceID}
		if err := h.sessions.CreateSession(c.Request().Context(), record); err != nil {
			h.log.Warn("session record failed", "error", err, "session_id", sess.ID)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	controller.Start(ctx)

	go h.writePump(ctx, ws, sess)
	h.readPump(ws, sess)

	cancel()
	h.manager.Remove(sess.ID)
	if h.sessions != nil {
		endCtx, endCancel := context.WithTimeout(context.Background(), time.Second)
		if err := h.sessions.EndSession(endCtx, sess.ID, SessionEnded); err != nil && err != shared.ErrNotFound {
			h.log.Warn("session end failed", "error", err, "session_id", sess.ID)
		}
		endCancel()
	}
	if h.frames != nil {
		cleanCtx, cleanCancel := context.WithTimeout(context.Background(), time.Second)
		if err := h.frames.DeleteFrames(cleanCtx, sess.ID); err != nil {
			h.log.Debug("frame cleanup failed", "error", err, "session_id", sess.ID)
		}
		cleanCancel()
	}

	return nil
}

func (h *StreamHandler) readPump(ws *websocket.Conn, sess *StreamSession) {
	defer ws.Close()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read failed", "error", err, "session_id", sess.ID)
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			continue
		}

		h.handleFrame(sess, data)
	}
}

func (h *StreamHandler) handleFrame(sess *StreamSession, data []byte) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		h.log.Debug("frame decode failed", "error", err, "session_id", sess.ID)
		return
	}

	now := time.Now()
	sess.Source.Offer(&Frame{
		Buffer:     descriptor.FromImage(img),
		CapturedAt: now,
	})

	if h.frames != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		bounds := img.Bounds()
		err := h.frames.StoreFrame(ctx, &StoredFrame{
			SessionID: sess.ID,
			Timestamp: now.UnixMilli(),
			Data:      data,
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
		})
		if err != nil {
			h.log.Debug("frame store failed", "error", err, "session_id", sess.ID)
		}
	}
}

func (h *StreamHandler) writePump(ctx context.Context, ws *websocket.Conn, sess *StreamSession) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	hello := StreamEvent{Type: "session_started", SessionID: sess.ID}
	if err := h.writeEvent(ws, &hello); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case result := <-sess.Controller.Results():
			event := StreamEvent{Type: "result", SessionID: sess.ID, Result: result}
			if err := h.writeEvent(ws, &event); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) writeEvent(ws *websocket.Conn, event *StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}
