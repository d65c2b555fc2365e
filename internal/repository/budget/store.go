package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/bmae/internal/db"
)

// kv is the slice of db.KVStore the budget counters need.
type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Store keeps embedding budget counters in the key-value store.
type Store struct {
	kv kv
}

// New creates a budget counter store.
func New(s kv) *Store {
	return &Store{kv: s}
}

// IncrBy adds val to key. The ttl is applied only when the key has none yet,
// so a counter expires relative to its first write.
func (s *Store) IncrBy(ctx context.Context, key string, val int64, ttl time.Duration) error {
	if err := s.kv.IncrBy(ctx, key, val); err != nil {
		return fmt.Errorf("budget incr %s: %w", key, err)
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.kv.Expire(ctx, key, ttl, true); err != nil {
		return fmt.Errorf("budget expire %s: %w", key, err)
	}
	return nil
}

// Get returns the counter value, 0 for a missing key.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("budget get %s: %w", key, err)
	}
	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget get %s: parse %q: %w", key, data, err)
	}
	return val, nil
}
