package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache хранит записи в памяти процесса с LRU-вытеснением
// и фоновой уборкой протухших записей
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	defaultTTL time.Duration
	maxEntries int

	hits   atomic.Int64
	misses atomic.Int64

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type entry struct {
	value      []byte
	expiresAt  time.Time
	accessedAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryCache создаёт in-memory кэш; nil opts означает значения по умолчанию
func NewMemoryCache(opts *Options) *MemoryCache {
	if opts == nil {
		opts = DefaultOptions()
	}

	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	janitorInterval := opts.CleanupInterval
	if janitorInterval <= 0 {
		janitorInterval = time.Minute
	}

	c := &MemoryCache{
		entries:    make(map[string]*entry),
		defaultTTL: opts.DefaultTTL,
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.janitor(janitorInterval)

	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.expired(now) {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, ErrKeyNotFound
	}
	e.accessedAt = now
	value := append([]byte(nil), e.value...)
	c.mu.Unlock()

	c.hits.Add(1)
	return value, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &entry{
		value:      append([]byte(nil), value...),
		expiresAt:  expiresAt,
		accessedAt: now,
	}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	if c.closed.Load() {
		return false, ErrCacheClosed
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	alive := ok && !e.expired(time.Now())
	c.mu.Unlock()
	return alive, nil
}

func (c *MemoryCache) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	if c.closed.Load() {
		return 0, ErrCacheClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var count int64
	for key := range c.entries {
		if matchPattern(pattern, key) {
			delete(c.entries, key)
			count++
		}
	}
	return count, nil
}

func (c *MemoryCache) Stats(ctx context.Context) (*Stats, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := &Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		KeysByPrefix: make(map[string]int64),
		Backend:      BackendMemory,
	}
	for key, e := range c.entries {
		if e.expired(now) {
			continue
		}
		stats.TotalKeys++
		stats.MemoryBytes += int64(len(e.value))
		stats.KeysByPrefix[keyPrefix(key)]++
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats, nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}

	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.stopCh)
	c.wg.Wait()

	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) janitor(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if e.expired(now) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// evictOldest вытесняет наименее недавно читавшуюся запись; вызывается под mu
func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestAccess time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.accessedAt.Before(oldestAccess) {
			oldestKey = key
			oldestAccess = e.accessedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// matchPattern поддерживает один wildcard "*": точное совпадение,
// "prefix*", "*suffix", "prefix*suffix"
func matchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	star := strings.Index(pattern, "*")
	if star == -1 {
		return pattern == key
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	if len(key) < len(prefix)+len(suffix) {
		return false
	}
	return strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix)
}

// keyPrefix возвращает часть ключа до первого ":" для статистики
func keyPrefix(key string) string {
	if idx := strings.Index(key, ":"); idx > 0 {
		return key[:idx]
	}
	return "other"
}
