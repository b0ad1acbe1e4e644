package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/patient-portal/pkg/metrics"
)

const redisKeyPrefix = "portal:session:"

type RedisStore struct {
	client  *redis.Client
	codec   *Codec
	metrics *metrics.Metrics
}

func NewRedisStore(client *redis.Client, codec *Codec, m *metrics.Metrics) *RedisStore {
	return &RedisStore{client: client, codec: codec, metrics: m}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		record(s.metrics, "get", "miss")
		return nil, ErrNotFound
	}
	if err != nil {
		record(s.metrics, "get", "error")
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess, err := s.codec.Decode(data)
	if err != nil {
		record(s.metrics, "get", "error")
		return nil, err
	}
	record(s.metrics, "get", "hit")
	return sess, nil
}

// Save writes the session with a TTL matching its expiry. An already
// expired session is deleted instead.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	ttl := sess.TTL()
	if ttl <= 0 {
		return s.Delete(ctx, sess.ID)
	}

	data, err := s.codec.Encode(sess)
	if err != nil {
		record(s.metrics, "save", "error")
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+sess.ID, data, ttl).Err(); err != nil {
		record(s.metrics, "save", "error")
		return fmt.Errorf("failed to save session: %w", err)
	}
	record(s.metrics, "save", "ok")
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		record(s.metrics, "delete", "error")
		return fmt.Errorf("failed to delete session: %w", err)
	}
	record(s.metrics, "delete", "ok")
	return nil
}

func record(m *metrics.Metrics, op, status string) {
	if m != nil {
		m.SessionOperations.WithLabelValues(op, status).Inc()
	}
}
