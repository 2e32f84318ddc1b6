// Package cache provides a read-through cache over persistent key/value
// storage with TTL, schema versioning, stale-while-revalidate refresh,
// and quota-pressure eviction.
package cache

import (
	"context"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waypost/waypost/internal/clock"
	"github.com/waypost/waypost/internal/storage"
)

// schemaVersion invalidates every persisted entry when the stored shape
// changes.
const schemaVersion = "1.0.0"

// Default TTLs per entry class.
const (
	TTLCounter = 5 * time.Minute
	TTLStats   = 30 * time.Minute
	TTLDefault = 10 * time.Minute
)

// staleRefreshAge is the age past which stats keys refresh in the
// background.
const staleRefreshAge = 5 * time.Minute

// evictFraction is the share of entries dropped when a write hits quota.
const evictFraction = 0.3

// Fetcher produces a fresh value for a cache key.
type Fetcher func(ctx context.Context) (string, error)

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Refreshes atomic.Int64
}

// Manager is the read-through cache.
type Manager struct {
	store   storage.KeyValueStore
	clock   clock.Clock
	metrics Metrics

	mu         sync.Mutex
	refreshing map[string]bool // keys with an in-flight background refresh
}

// NewManager creates a cache manager over the persistent store.
func NewManager(store storage.KeyValueStore, clk clock.Clock) *Manager {
	return &Manager{
		store:      store,
		clock:      clk,
		refreshing: make(map[string]bool),
	}
}

// Get returns the cached value for key when present, version-matched, and
// younger than ttl. Stale entries tagged for background refresh are
// returned immediately while the fetcher runs asynchronously. Otherwise
// the fetcher is invoked synchronously and its result cached.
func (m *Manager) Get(ctx context.Context, key string, fetcher Fetcher, ttl time.Duration) (string, error) {
	cached, storedAt, ok := m.lookup(key)
	if ok {
		age := m.clock.Now().Sub(storedAt)
		if age < ttl {
			m.metrics.Hits.Add(1)
			return cached, nil
		}
		if m.shouldBackgroundRefresh(key, age) {
			m.metrics.Hits.Add(1)
			m.backgroundRefresh(key, fetcher, ttl)
			return cached, nil
		}
	}

	m.metrics.Misses.Add(1)
	value, err := fetcher(ctx)
	if err != nil {
		return "", err
	}
	m.Set(key, value, ttl)
	return value, nil
}

// Set stores a value with the current timestamp and schema version.
// On a storage quota failure it evicts the oldest 30% of entries and
// retries once; a second failure is logged and swallowed.
func (m *Manager) Set(key, value string, ttl time.Duration) {
	if err := m.write(key, value); err != nil {
		log.Printf("cache: failed to store %s: %v", key, err)
		m.evictOldest()
		if err := m.write(key, value); err != nil {
			log.Printf("cache: retry failed for %s, proceeding uncached: %v", key, err)
			return
		}
	}
	m.scheduleCleanup(key, ttl)
}

// Invalidate removes a single entry.
func (m *Manager) Invalidate(key string) {
	m.store.Remove(cacheKey(key))
	m.store.Remove(cacheKey(key) + "_time")
	m.store.Remove(cacheKey(key) + "_version")
}

// InvalidatePattern removes all entries whose key contains the substring.
func (m *Manager) InvalidatePattern(pattern string) {
	keys, err := m.store.Keys("cache_")
	if err != nil {
		log.Printf("cache: failed to enumerate keys: %v", err)
		return
	}
	seen := make(map[string]bool)
	for _, k := range keys {
		base := baseKey(k)
		if !seen[base] && strings.Contains(base, pattern) {
			seen[base] = true
			m.Invalidate(base)
		}
	}
}

// Stats returns hit, miss, eviction, and background-refresh counts.
func (m *Manager) Stats() (hits, misses, evictions, refreshes int64) {
	return m.metrics.Hits.Load(), m.metrics.Misses.Load(),
		m.metrics.Evictions.Load(), m.metrics.Refreshes.Load()
}

// HitRate returns the cache hit rate as a percentage.
func (m *Manager) HitRate() float64 {
	hits := m.metrics.Hits.Load()
	misses := m.metrics.Misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// lookup reads a persisted entry, returning its value and stored-at time.
// Entries with a mismatched schema version are treated as absent.
func (m *Manager) lookup(key string) (string, time.Time, bool) {
	value, ok, err := m.store.Get(cacheKey(key))
	if err != nil || !ok {
		return "", time.Time{}, false
	}
	version, ok, err := m.store.Get(cacheKey(key) + "_version")
	if err != nil || !ok || version != schemaVersion {
		return "", time.Time{}, false
	}
	timeStr, ok, err := m.store.Get(cacheKey(key) + "_time")
	if err != nil || !ok {
		return "", time.Time{}, false
	}
	millis, err := strconv.ParseInt(timeStr, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return value, time.UnixMilli(millis), true
}

func (m *Manager) write(key, value string) error {
	if err := m.store.Set(cacheKey(key), value); err != nil {
		return err
	}
	if err := m.store.Set(cacheKey(key)+"_time", strconv.FormatInt(m.clock.Now().UnixMilli(), 10)); err != nil {
		return err
	}
	return m.store.Set(cacheKey(key)+"_version", schemaVersion)
}

// shouldBackgroundRefresh reports whether a stale entry may be served
// while refreshing. Counter keys always refresh in the background; stats
// keys only once they are older than staleRefreshAge.
func (m *Manager) shouldBackgroundRefresh(key string, age time.Duration) bool {
	if strings.Contains(key, "count") {
		return true
	}
	if strings.Contains(key, "stats") {
		return age > staleRefreshAge
	}
	return false
}

// backgroundRefresh runs the fetcher asynchronously and overwrites the
// entry. At most one refresh per key is in flight.
func (m *Manager) backgroundRefresh(key string, fetcher Fetcher, ttl time.Duration) {
	m.mu.Lock()
	if m.refreshing[key] {
		m.mu.Unlock()
		return
	}
	m.refreshing[key] = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.refreshing, key)
			m.mu.Unlock()
		}()

		value, err := fetcher(context.Background())
		if err != nil {
			log.Printf("cache: background refresh failed for %s: %v", key, err)
			return
		}
		m.Set(key, value, ttl)
		m.metrics.Refreshes.Add(1)
	}()
}

// evictOldest drops the oldest 30% of cache entries by stored timestamp.
func (m *Manager) evictOldest() {
	keys, err := m.store.Keys("cache_")
	if err != nil {
		return
	}

	type entry struct {
		base   string
		millis int64
	}
	var entries []entry
	for _, k := range keys {
		if !strings.HasSuffix(k, "_time") {
			continue
		}
		timeStr, ok, err := m.store.Get(k)
		if err != nil || !ok {
			continue
		}
		millis, err := strconv.ParseInt(timeStr, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{base: baseKey(k), millis: millis})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].millis < entries[j].millis
	})

	count := int(math.Ceil(float64(len(entries)) * evictFraction))
	for i := 0; i < count && i < len(entries); i++ {
		m.Invalidate(entries[i].base)
		m.metrics.Evictions.Add(1)
	}
	if count > 0 {
		log.Printf("cache: evicted %d oldest entries under quota pressure", count)
	}
}

// scheduleCleanup removes the entry shortly after its TTL elapses, so
// expired entries do not linger in persistent storage.
func (m *Manager) scheduleCleanup(key string, ttl time.Duration) {
	time.AfterFunc(ttl+time.Second, func() {
		_, storedAt, ok := m.lookup(key)
		if ok && m.clock.Now().Sub(storedAt) >= ttl {
			m.Invalidate(key)
		}
	})
}

func cacheKey(key string) string {
	return "cache_" + key
}

// baseKey strips the cache_ prefix and the _time/_version suffixes.
func baseKey(storageKey string) string {
	k := strings.TrimPrefix(storageKey, "cache_")
	k = strings.TrimSuffix(k, "_time")
	k = strings.TrimSuffix(k, "_version")
	return k
}
