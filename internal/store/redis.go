package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/tradesim/internal/model"
)

// sessionKey is the Redis key of the cached snapshot.
const sessionKey = "tradesim:session"

// CachedStore wraps a primary Store with a Redis write-through cache. Writes
// go to the primary store first and then refresh the cache; reads check Redis
// first then fall back to the primary. Cache failures never fail a call.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Load(ctx context.Context) (*model.Snapshot, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, sessionKey).Bytes()
	if err == nil {
		var snap model.Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	} else if err != redis.Nil {
		slog.Warn("session cache read failed", "err", err)
	}

	// Cache miss: read from primary.
	snap, err := s.primary.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, snap)
	return snap, nil
}

func (s *CachedStore) Save(ctx context.Context, snap *model.Snapshot) error {
	if err := s.primary.Save(ctx, snap); err != nil {
		// Drop the cached copy so readers do not see a document the primary rejected.
		s.rdb.Del(ctx, sessionKey)
		return err
	}
	s.cache(ctx, snap)
	return nil
}

func (s *CachedStore) Clear(ctx context.Context) error {
	if err := s.primary.Clear(ctx); err != nil {
		return err
	}
	s.rdb.Del(ctx, sessionKey)
	return nil
}

func (s *CachedStore) cache(ctx context.Context, snap *model.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, sessionKey, data, s.ttl).Err(); err != nil {
		slog.Warn("session cache write failed", "err", err)
	}
}
