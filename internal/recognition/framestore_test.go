package recognition

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
	}
	return redisClient
}

func TestNewFrameStore_DefaultTTL(t *testing.T) {
	store := NewFrameStore(redis.NewClient(&redis.Options{}), 0)
	if store.frameTTL != 60*time.Second {
		t.Errorf("expected default TTL 60s, got %v", store.frameTTL)
	}
}

func TestFrameStore_StoreAndLatest(t *testing.T) {
	redisClient := getTestRedisClient(t)
	ctx := context.Background()

	sessionID := "test-frames-" + time.Now().Format("20060102150405")
	store := NewFrameStore(redisClient, 60*time.Second)
	defer store.DeleteFrames(ctx, sessionID)

	first := &StoredFrame{
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Data:      []byte("frame-1"),
	}
	second := &StoredFrame{
		SessionID: sessionID,
		Timestamp: first.Timestamp + 100,
		Data:      []byte("frame-2"),
	}

	if err := store.StoreFrame(ctx, first); err != nil {
		t.Fatalf("StoreFrame failed: %v", err)
	}
	if err := store.StoreFrame(ctx, second); err != nil {
		t.Fatalf("StoreFrame failed: %v", err)
	}

	latest, err := store.LatestFrame(ctx, sessionID)
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	if latest == nil {
		t.Fatal("expected a frame")
	}
	if string(latest.Data) != "frame-2" {
		t.Errorf("expected the newest frame, got %s", string(latest.Data))
	}
	if latest.Timestamp != second.Timestamp {
		t.Errorf("expected timestamp %d, got %d", second.Timestamp, latest.Timestamp)
	}
}

func TestFrameStore_LatestFrame_Empty(t *testing.T) {
	redisClient := getTestRedisClient(t)
	store := NewFrameStore(redisClient, 60*time.Second)

	frame, err := store.LatestFrame(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	if frame != nil {
		t.Errorf("expected nil for an unknown session, got %+v", frame)
	}
}

func TestFrameStore_FramesRange(t *testing.T) {
	redisClient := getTestRedisClient(t)
	ctx := context.Background()

	sessionID := "test-range-" + time.Now().Format("20060102150405")
	store := NewFrameStore(redisClient, 60*time.Second)
	defer store.DeleteFrames(ctx, sessionID)

	base := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		frame := &StoredFrame{
			SessionID: sessionID,
			Timestamp: base + int64(i*100),
			Data:      []byte{byte('a' + i)},
		}
		if err := store.StoreFrame(ctx, frame); err != nil {
			t.Fatalf("StoreFrame failed: %v", err)
		}
	}

	frames, err := store.Frames(ctx, sessionID, base, base+250, 10)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(frames) != 3 {
		t.Errorf("expected 3 frames in range, got %d", len(frames))
	}
}

func TestFrameStore_DeleteFrames(t *testing.T) {
	redisClient := getTestRedisClient(t)
	ctx := context.Background()

	sessionID := "test-delete-" + time.Now().Format("20060102150405")
	store := NewFrameStore(redisClient, 60*time.Second)

	frame := &StoredFrame{SessionID: sessionID, Timestamp: time.Now().UnixMilli(), Data: []byte("x")}
	if err := store.StoreFrame(ctx, frame); err != nil {
		t.Fatalf("StoreFrame failed: %v", err)
	}
	if err := store.DeleteFrames(ctx, sessionID); err != nil {
		t.Fatalf("DeleteFrames failed: %v", err)
	}

	latest, err := store.LatestFrame(ctx, sessionID)
	if err != nil {
		t.Fatalf("LatestFrame failed: %v", err)
	}
	if latest != nil {
		t.Error("expected no frames after delete")
	}
}
