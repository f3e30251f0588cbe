package recognition

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoredFrame is one encoded capture kept for a short window so interrupted
// streaming sessions can be inspected.
type StoredFrame struct {
	SessionID string
	Timestamp int64
	Data      []byte
	Width     int
	Height    int
}

// FrameStore buffers session captures in a redis sorted set keyed by
// timestamp, expiring after a TTL.
type FrameStore struct {
	redis    *redis.Client
	frameTTL time.Duration
}

func NewFrameStore(redisClient *redis.Client, frameTTL time.Duration) *FrameStore {
	if frameTTL == 0 {
		frameTTL = 60 * time.Second
	}
	return &FrameStore{
		redis:    redisClient,
		frameTTL: frameTTL,
	}
}

func frameKey(sessionID string) string {
	return fmt.Sprintf("recognition:%s:frames", sessionID)
}

func (s *FrameStore) StoreFrame(ctx context.Context, frame *StoredFrame) error {
	member := redis.Z{
		Score:  float64(frame.Timestamp),
		Member: frame.Data,
	}

	pipe := s.redis.Pipeline()
	pipe.ZAdd(ctx, frameKey(frame.SessionID), member)
	pipe.Expire(ctx, frameKey(frame.SessionID), s.frameTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *FrameStore) LatestFrame(ctx context.Context, sessionID string) (*StoredFrame, error) {
	results, err := s.redis.ZRevRangeWithScores(ctx, frameKey(sessionID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	data, ok := results[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("invalid frame data type")
	}

	return &StoredFrame{
		SessionID: sessionID,
		Timestamp: int64(results[0].Score),
		Data:      []byte(data),
	}, nil
}

func (s *FrameStore) Frames(ctx context.Context, sessionID string, startTime, endTime int64, limit int) ([]*StoredFrame, error) {
	opt := &redis.ZRangeBy{
		Min:   strconv.FormatInt(startTime, 10),
		Max:   strconv.FormatInt(endTime, 10),
		Count: int64(limit),
	}

	results, err := s.redis.ZRangeByScoreWithScores(ctx, frameKey(sessionID), opt).Result()
	if err != nil {
		return nil, err
	}

	frames := make([]*StoredFrame, 0, len(results))
	for _, r := range results {
		data, ok := r.Member.(string)
		if !ok {
			continue
		}
		frames = append(frames, &StoredFrame{
			SessionID: sessionID,
			Timestamp: int64(r.Score),
			Data:      []byte(data),
		})
	}

	return frames, nil
}

func (s *FrameStore) DeleteFrames(ctx context.Context, sessionID string) error {
	return s.redis.Del(ctx, frameKey(sessionID)).Err()
}
