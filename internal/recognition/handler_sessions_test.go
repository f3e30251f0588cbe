package recognition

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/otic-labs/vision-backend/internal/bank"
	"github.com/otic-labs/vision-backend/internal/dto"
	"github.com/otic-labs/vision-backend/internal/shared"
)

func newSessionTestHandler(t *testing.T) (*Handler, *SessionStore, *FrameStore) {
	t.Helper()
	client := getTestRedisClient(t)
	sessions := NewSessionStore(client)
	frames := NewFrameStore(client, time.Minute)
	b := bank.NewMemoryBank()
	svc := NewService(ServiceConfig{Bank: b})
	return NewHandler(svc, b, sessions, frames, slog.Default()), sessions, frames
}

func TestHandler_GetSession(t *testing.T) {
	h, sessions, _ := newSessionTestHandler(t)
	e := echo.New()
	ctx := context.Background()

	sess := &Session{TenantID: "tenant-1", DeviceID: "dev-1"}
	if err := sessions.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	t.Cleanup(func() { sessions.EndSession(ctx, sess.ID, SessionEnded) })

	rec, c := doJSON(t, e, http.MethodGet, "/v1/sessions/"+sess.ID, nil)
	c.SetParamNames("session_id")
	c.SetParamValues(sess.ID)
	if err := h.GetSession(c); err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}

	var resp dto.SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if resp.ID != sess.ID || resp.TenantID != "tenant-1" || resp.Status != string(SessionActive) {
		t.Errorf("unexpected session response: %+v", resp)
	}
}

func TestHandler_GetSession_NotFound(t *testing.T) {
	h, _, _ := newSessionTestHandler(t)
	e := echo.New()

	_, c := doJSON(t, e, http.MethodGet, "/v1/sessions/recs_missing", nil)
	c.SetParamNames("session_id")
	c.SetParamValues("recs_missing")

	err := h.GetSession(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_SessionFrames(t *testing.T) {
	h, _, frames := newSessionTestHandler(t)
	e := echo.New()
	ctx := context.Background()

	sessionID := shared.NewID("recs_")
	t.Cleanup(func() { frames.DeleteFrames(ctx, sessionID) })

	base := time.Now().UnixMilli()
	for i, data := range [][]byte{[]byte("frame-one"), []byte("frame-two"), []byte("frame-three")} {
		err := frames.StoreFrame(ctx, &StoredFrame{
			SessionID: sessionID,
			Timestamp: base + int64(i)*100,
			Data:      data,
		})
		if err != nil {
			t.Fatalf("StoreFrame failed: %v", err)
		}
	}

	rec, c := doJSON(t, e, http.MethodGet, "/v1/sessions/"+sessionID+"/frames", nil)
	c.SetParamNames("session_id")
	c.SetParamValues(sessionID)
	if err := h.SessionFrames(c); err != nil {
		t.Fatalf("SessionFrames failed: %v", err)
	}

	var resp dto.FrameListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(resp.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(resp.Frames))
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.Frames[0].ImageBase64)
	if err != nil {
		t.Fatalf("frame data must round-trip through base64: %v", err)
	}
	if string(decoded) != "frame-one" {
		t.Errorf("expected oldest frame first, got %q", decoded)
	}

	rec, c = doJSON(t, e, http.MethodGet, "/v1/sessions/"+sessionID+"/frames?limit=1", nil)
	c.SetParamNames("session_id")
	c.SetParamValues(sessionID)
	if err := h.SessionFrames(c); err != nil {
		t.Fatalf("SessionFrames failed: %v", err)
	}
	resp = dto.FrameListResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(resp.Frames) != 1 {
		t.Errorf("expected limit to cap at 1 frame, got %d", len(resp.Frames))
	}
}

func TestHandler_SessionFrames_InvalidBounds(t *testing.T) {
	h, _, _ := newSessionTestHandler(t)
	e := echo.New()

	for _, query := range []string{"?limit=0", "?since=abc", "?until=abc"} {
		_, c := doJSON(t, e, http.MethodGet, "/v1/sessions/recs_x/frames"+query, nil)
		c.SetParamNames("session_id")
		c.SetParamValues("recs_x")

		err := h.SessionFrames(c)
		var httpErr *echo.HTTPError
		if !errors.As(err, &httpErr) || httpErr.Code != http.StatusBadRequest {
			t.Errorf("query %q: expected 400, got %v", query, err)
		}
	}
}

func TestHandler_LatestSessionFrame(t *testing.T) {
	h, _, frames := newSessionTestHandler(t)
	e := echo.New()
	ctx := context.Background()

	sessionID := shared.NewID("recs_")
	t.Cleanup(func() { frames.DeleteFrames(ctx, sessionID) })

	base := time.Now().UnixMilli()
	for i, data := range [][]byte{[]byte("old-frame"), []byte("new-frame")} {
		err := frames.StoreFrame(ctx, &StoredFrame{
			SessionID: sessionID,
			Timestamp: base + int64(i)*100,
			Data:      data,
		})
		if err != nil {
			t.Fatalf("StoreFrame failed: %v", err)
		}
	}

	rec, c := doJSON(t, e, http.MethodGet, "/v1/sessions/"+sessionID+"/frames/latest", nil)
	c.SetParamNames("session_id")
	c.SetParamValues(sessionID)
	if err := h.LatestSessionFrame(c); err != nil {
		t.Fatalf("LatestSessionFrame failed: %v", err)
	}

	var resp dto.FrameResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	decoded, _ := base64.StdEncoding.DecodeString(resp.ImageBase64)
	if string(decoded) != "new-frame" {
		t.Errorf("expected newest frame, got %q", decoded)
	}
	if resp.Timestamp != base+100 {
		t.Errorf("expected timestamp %d, got %d", base+100, resp.Timestamp)
	}
}

func TestHandler_LatestSessionFrame_Empty(t *testing.T) {
	h, _, _ := newSessionTestHandler(t)
	e := echo.New()

	emptyID := shared.NewID("recs_")
	_, c := doJSON(t, e, http.MethodGet, "/v1/sessions/"+emptyID+"/frames/latest", nil)
	c.SetParamNames("session_id")
	c.SetParamValues(emptyID)

	err := h.LatestSessionFrame(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for empty buffer, got %v", err)
	}
}
