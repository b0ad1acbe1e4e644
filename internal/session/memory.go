package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/patient-portal/pkg/metrics"
)

// MemoryStore keeps sessions in process. Entries are stored encoded so every
// Get hands out an independent copy.
type MemoryStore struct {
	cache   *cache.Cache
	codec   *Codec
	metrics *metrics.Metrics
}

func NewMemoryStore(codec *Codec, cleanupInterval time.Duration, m *metrics.Metrics) *MemoryStore {
	return &MemoryStore{
		cache:   cache.New(cache.NoExpiration, cleanupInterval),
		codec:   codec,
		metrics: m,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		record(s.metrics, "get", "miss")
		return nil, ErrNotFound
	}
	sess, err := s.codec.Decode(v.([]byte))
	if err != nil {
		record(s.metrics, "get", "error")
		return nil, err
	}
	record(s.metrics, "get", "hit")
	return sess, nil
}

func (s *MemoryStore) Save(ctx context.Context, sess *Session) error {
	ttl := sess.TTL()
	if ttl <= 0 {
		return s.Delete(ctx, sess.ID)
	}
	data, err := s.codec.Encode(sess)
	if err != nil {
		record(s.metrics, "save", "error")
		return err
	}
	s.cache.Set(sess.ID, data, ttl)
	record(s.metrics, "save", "ok")
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	record(s.metrics, "delete", "ok")
	return nil
}

func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
