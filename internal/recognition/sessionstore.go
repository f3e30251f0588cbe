package recognition

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/otic-labs/vision-backend/internal/shared"
	"github.com/redis/go-redis/v9"
)

const (
	sessionTTL = 24 * time.Hour
	metricsTTL = 7 * 24 * time.Hour
)

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
	SessionError  SessionStatus = "error"
)

// Session is the persisted record of one streaming recognition session.
type Session struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"tenant_id"`
	DeviceID     string        `json:"device_id,omitempty"`
	Status       SessionStatus `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	LastActiveAt time.Time     `json:"last_active_at"`
}

func (s *Session) RedisKey() string {
	return "recsession:" + s.ID
}

// TenantMetrics is one hourly bucket of per-tenant recognition counters.
type TenantMetrics struct {
	TenantID      string `json:"tenant_id"`
	Date          string `json:"date"`
	Hour          int    `json:"hour"`
	Recognitions  int64  `json:"recognitions"`
	Confident     int64  `json:"confident"`
	Ambiguous     int64  `json:"ambiguous"`
	NoMatch       int64  `json:"no_match"`
	Registrations int64  `json:"registrations"`
	AvgLatencyMs  int64  `json:"avg_latency_ms"`
}

func metricsKey(tenantID, date string, hour int) string {
	return "tenant:" + tenantID + ":metrics:" + date + ":" + strconv.Itoa(hour)
}

// SessionStore keeps streaming session records and hourly tenant counters in
// redis. Recognition results themselves are never persisted here, only
// counts.
type SessionStore struct {
	redis *redis.Client
}

func NewSessionStore(redisClient *redis.Client) *SessionStore {
	return &SessionStore{redis: redisClient}
}

func (s *SessionStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = shared.NewID("recs_")
	}
	sess.Status = SessionActive
	sess.StartedAt = time.Now()
	sess.LastActiveAt = time.Now()

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	return s.redis.Set(ctx, sess.RedisKey(), data, sessionTTL).Err()
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, "recsession:"+id).Bytes()
	if err == redis.Nil {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) TouchSession(ctx context.Context, sess *Session) error {
	sess.LastActiveAt = time.Now()
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sess.RedisKey(), data, sessionTTL).Err()
}

func (s *SessionStore) EndSession(ctx context.Context, id string, status SessionStatus) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	sess.Status = status
	return s.TouchSession(ctx, sess)
}

func (s *SessionStore) increment(ctx context.Context, tenantID, field string, value int64) error {
	now := time.Now().UTC()
	key := metricsKey(tenantID, now.Format("2006-01-02"), now.Hour())

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, field, value)
	pipe.Expire(ctx, key, metricsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) IncrementOutcome(ctx context.Context, tenantID string, outcome shared.Outcome) error {
	pipe := s.redis.Pipeline()
	now := time.Now().UTC()
	key := metricsKey(tenantID, now.Format("2006-01-02"), now.Hour())
	pipe.HIncrBy(ctx, key, "recognitions", 1)
	pipe.HIncrBy(ctx, key, outcome.String(), 1)
	pipe.Expire(ctx, key, metricsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) IncrementRegistrations(ctx context.Context, tenantID string) error {
	return s.increment(ctx, tenantID, "registrations", 1)
}

func (s *SessionStore) RecordLatency(ctx context.Context, tenantID string, latencyMs int64) error {
	now := time.Now().UTC()
	key := metricsKey(tenantID, now.Format("2006-01-02"), now.Hour())

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, "total_latency_ms", latencyMs)
	pipe.HIncrBy(ctx, key, "latency_count", 1)
	pipe.Expire(ctx, key, metricsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) GetMetrics(ctx context.Context, tenantID string, hours int) ([]*TenantMetrics, error) {
	now := time.Now().UTC()
	var metrics []*TenantMetrics

	for i := 0; i < hours; i++ {
		t := now.Add(-time.Duration(i) * time.Hour)
		key := metricsKey(tenantID, t.Format("2006-01-02"), t.Hour())

		data, err := s.redis.HGetAll(ctx, key).Result()
		if err != nil || len(data) == 0 {
			continue
		}

		m := &TenantMetrics{
			TenantID: tenantID,
			Date:     t.Format("2006-01-02"),
			Hour:     t.Hour(),
		}

		m.Recognitions = parseCounter(data, "recognitions")
		m.Confident = parseCounter(data, string(shared.OutcomeConfident))
		m.Ambiguous = parseCounter(data, string(shared.OutcomeAmbiguous))
		m.NoMatch = parseCounter(data, string(shared.OutcomeNoMatch))
		m.Registrations = parseCounter(data, "registrations")

		totalLatency := parseCounter(data, "total_latency_ms")
		latencyCount := parseCounter(data, "latency_count")
		if latencyCount > 0 {
			m.AvgLatencyMs = totalLatency / latencyCount
		}

		metrics = append(metrics, m)
	}

	return metrics, nil
}

func parseCounter(data map[string]string, field string) int64 {
	v, ok := data[field]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
