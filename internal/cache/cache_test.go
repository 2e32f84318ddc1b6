package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost/waypost/internal/clock"
	"github.com/waypost/waypost/internal/storage"
)

// countingFetcher records how many times it runs.
type countingFetcher struct {
	calls atomic.Int32
	value string
	err   error
}

func (f *countingFetcher) fetch(ctx context.Context) (string, error) {
	f.calls.Add(1)
	return f.value, f.err
}

// flakyStore fails Set a configurable number of times, then delegates.
type flakyStore struct {
	storage.KeyValueStore
	failures int
	setCalls int
}

func (s *flakyStore) Set(key, value string) error {
	s.setCalls++
	if s.failures > 0 {
		s.failures--
		return storage.ErrQuotaExceeded
	}
	return s.KeyValueStore.Set(key, value)
}

func TestGet_FetchesOnMiss(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), clock.Real{})
	f := &countingFetcher{value: `{"count":42}`}

	v, err := m.Get(context.Background(), "user_count", f.fetch, TTLCounter)
	require.NoError(t, err)
	assert.Equal(t, `{"count":42}`, v)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestGet_SecondCallWithinTTLDoesNotRefetch(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), clock.Real{})
	f := &countingFetcher{value: "cached"}

	_, err := m.Get(context.Background(), "user_count", f.fetch, TTLCounter)
	require.NoError(t, err)
	v, err := m.Get(context.Background(), "user_count", f.fetch, TTLCounter)
	require.NoError(t, err)

	assert.Equal(t, "cached", v)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestGet_FetcherErrorPropagates(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), clock.Real{})
	f := &countingFetcher{err: errors.New("upstream down")}

	_, err := m.Get(context.Background(), "user_count", f.fetch, TTLCounter)
	assert.Error(t, err)

	// Nothing cached on error
	_, _, ok := m.lookup("user_count")
	assert.False(t, ok)
}

func TestGet_ExpiredEntryRefetchesSynchronously(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	m := NewManager(storage.NewMemoryStore(), fake)

	first := &countingFetcher{value: "v1"}
	_, err := m.Get(context.Background(), "page_views", first.fetch, TTLDefault)
	require.NoError(t, err)

	fake.Advance(TTLDefault + time.Minute)

	second := &countingFetcher{value: "v2"}
	v, err := m.Get(context.Background(), "page_views", second.fetch, TTLDefault)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, int32(1), second.calls.Load())
}

func TestGet_StaleCountKeyServedWhileRefreshing(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	m := NewManager(storage.NewMemoryStore(), fake)

	first := &countingFetcher{value: "stale"}
	_, err := m.Get(context.Background(), "user_count", first.fetch, TTLCounter)
	require.NoError(t, err)

	fake.Advance(TTLCounter + time.Second)

	refreshed := make(chan struct{})
	v, err := m.Get(context.Background(), "user_count", func(ctx context.Context) (string, error) {
		defer close(refreshed)
		return "fresh", nil
	}, TTLCounter)
	require.NoError(t, err)
	assert.Equal(t, "stale", v, "stale value served immediately")

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("background refresh never ran")
	}

	// Wait for the refreshed value to land
	assert.Eventually(t, func() bool {
		cached, _, ok := m.lookup("user_count")
		return ok && cached == "fresh"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGet_StaleStatsKeyRefreshesOnlyPastThreshold(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	m := NewManager(storage.NewMemoryStore(), fake)

	// Entry with a 1 minute TTL, aged 2 minutes: expired but younger
	// than the 5 minute background threshold, so it refetches inline.
	first := &countingFetcher{value: "old"}
	_, err := m.Get(context.Background(), "guide_stats", first.fetch, time.Minute)
	require.NoError(t, err)
	fake.Advance(2 * time.Minute)

	second := &countingFetcher{value: "new"}
	v, err := m.Get(context.Background(), "guide_stats", second.fetch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "new", v)
}

func TestSet_WriteFailureEvictsOldestThirdAndRetries(t *testing.T) {
	fake := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	backing := storage.NewMemoryStore()
	m := NewManager(backing, fake)

	// Ten entries with strictly increasing timestamps.
	for i := 0; i < 10; i++ {
		m.Set(fmt.Sprintf("entry_%d", i), "v", time.Hour)
		fake.Advance(time.Second)
	}

	flaky := &flakyStore{KeyValueStore: backing, failures: 1}
	m.store = flaky
	m.Set("newest", "v", time.Hour)

	// ceil(10 * 0.3) = 3 oldest entries gone
	for i := 0; i < 3; i++ {
		_, _, ok := m.lookup(fmt.Sprintf("entry_%d", i))
		assert.False(t, ok, "entry_%d should be evicted", i)
	}
	for i := 3; i < 10; i++ {
		_, _, ok := m.lookup(fmt.Sprintf("entry_%d", i))
		assert.True(t, ok, "entry_%d should survive", i)
	}

	// Retry succeeded
	v, _, ok := m.lookup("newest")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, _, evictions, _ := m.Stats()
	assert.Equal(t, int64(3), evictions)
}

func TestSet_PersistentWriteFailureGivesUpSilently(t *testing.T) {
	backing := storage.NewMemoryStore()
	flaky := &flakyStore{KeyValueStore: backing, failures: 100}
	m := NewManager(flaky, clock.Real{})

	m.Set("doomed", "v", time.Hour)
	_, _, ok := m.lookup("doomed")
	assert.False(t, ok)
}

func TestLookup_VersionMismatchTreatedAsMiss(t *testing.T) {
	store := storage.NewMemoryStore()
	m := NewManager(store, clock.Real{})

	m.Set("users", "v", time.Hour)
	store.Set("cache_users_version", "0.9.0")

	f := &countingFetcher{value: "refetched"}
	v, err := m.Get(context.Background(), "users", f.fetch, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "refetched", v)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestInvalidatePattern(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), clock.Real{})
	m.Set("user_count", "1", time.Hour)
	m.Set("guide_count", "2", time.Hour)
	m.Set("satisfaction", "3", time.Hour)

	m.InvalidatePattern("count")

	_, _, ok := m.lookup("user_count")
	assert.False(t, ok)
	_, _, ok = m.lookup("guide_count")
	assert.False(t, ok)
	_, _, ok = m.lookup("satisfaction")
	assert.True(t, ok)
}

func TestHitRate(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), clock.Real{})
	f := &countingFetcher{value: "v"}

	m.Get(context.Background(), "k", f.fetch, time.Hour) // miss
	m.Get(context.Background(), "k", f.fetch, time.Hour) // hit
	m.Get(context.Background(), "k", f.fetch, time.Hour) // hit

	hits, misses, _, _ := m.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
	assert.InDelta(t, 66.6, m.HitRate(), 0.1)
}
