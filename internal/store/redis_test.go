package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/tradesim/internal/model"
)

const testTTL = 10 * time.Minute

func newCachedStore(t *testing.T) (*CachedStore, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	primary := NewMemoryStore()
	return NewCachedStore(primary, rdb, testTTL), primary, mr
}

func TestCachedStore_SaveWritesThrough(t *testing.T) {
	ctx := context.Background()
	s, primary, mr := newCachedStore(t)

	want := sampleSnapshot()
	require.NoError(t, s.Save(ctx, want))

	got, err := primary.Load(ctx)
	require.NoError(t, err)
	assertSameSnapshot(t, want, got)

	assert.True(t, mr.Exists(sessionKey))
	assert.Equal(t, testTTL, mr.TTL(sessionKey))
}

func TestCachedStore_LoadPrefersCache(t *testing.T) {
	ctx := context.Background()
	s, primary, _ := newCachedStore(t)

	want := sampleSnapshot()
	require.NoError(t, s.Save(ctx, want))
	require.NoError(t, primary.Clear(ctx))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameSnapshot(t, want, got)
}

func TestCachedStore_MissFillsCache(t *testing.T) {
	ctx := context.Background()
	s, primary, mr := newCachedStore(t)

	want := sampleSnapshot()
	require.NoError(t, primary.Save(ctx, want))
	require.False(t, mr.Exists(sessionKey))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameSnapshot(t, want, got)
	assert.True(t, mr.Exists(sessionKey))
}

func TestCachedStore_SaveClearLoad(t *testing.T) {
	ctx := context.Background()
	s, _, mr := newCachedStore(t)

	require.NoError(t, s.Save(ctx, sampleSnapshot()))
	require.NoError(t, s.Clear(ctx))
	assert.False(t, mr.Exists(sessionKey))

	_, err := s.Load(ctx)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestCachedStore_CorruptCacheFallsBack(t *testing.T) {
	ctx := context.Background()
	s, primary, mr := newCachedStore(t)

	want := sampleSnapshot()
	require.NoError(t, primary.Save(ctx, want))
	require.NoError(t, mr.Set(sessionKey, "{not json"))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameSnapshot(t, want, got)
}

// failingStore rejects every save.
type failingStore struct {
	*MemoryStore
}

var errDiskFull = errors.New("disk full")

func (failingStore) Save(context.Context, *model.Snapshot) error { return errDiskFull }

func TestCachedStore_PrimaryFailureDropsCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()

	require.NoError(t, mr.Set(sessionKey, "stale"))
	s := NewCachedStore(failingStore{NewMemoryStore()}, rdb, testTTL)

	err := s.Save(ctx, sampleSnapshot())
	assert.True(t, errors.Is(err, errDiskFull), "got %v", err)
	assert.False(t, mr.Exists(sessionKey))
}

func TestCachedStore_RedisDownUsesPrimary(t *testing.T) {
	ctx := context.Background()
	s, primary, mr := newCachedStore(t)
	mr.Close()

	want := sampleSnapshot()
	require.NoError(t, s.Save(ctx, want))

	got, err := primary.Load(ctx)
	require.NoError(t, err)
	assertSameSnapshot(t, want, got)

	got, err = s.Load(ctx)
	require.NoError(t, err)
	assertSameSnapshot(t, want, got)
}
