package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter ограничитель в памяти процесса; состояние по каждому
// источнику живёт в своём bucket
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  *Config
	stopCh  chan struct{}
	closed  bool
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
	requests  []time.Time
}

// NewMemoryLimiter создаёт in-memory лимитер; nil cfg означает дефолты
func NewMemoryLimiter(cfg *Config) *MemoryLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &MemoryLimiter{
		buckets: make(map[string]*bucket),
		config:  cfg,
		stopCh:  make(chan struct{}),
	}
	go l.janitor()
	return l
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.AllowN(ctx, key, 1)
}

func (l *MemoryLimiter) AllowN(ctx context.Context, key string, n int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false, ErrLimiterClosed
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:    float64(l.config.Requests + l.config.BurstSize),
			lastCheck: time.Now(),
		}
		l.buckets[key] = b
	}

	if l.config.Strategy == StrategyTokenBucket {
		return l.takeTokens(b, n), nil
	}
	return l.takeWindow(b, n), nil
}

// takeTokens восполняет токены пропорционально прошедшему времени
// и списывает n; вызывается под mu
func (l *MemoryLimiter) takeTokens(b *bucket, n int) bool {
	now := time.Now()
	elapsed := now.Sub(b.lastCheck)
	b.lastCheck = now

	rate := float64(l.config.Requests) / l.config.Window.Seconds()
	b.tokens += elapsed.Seconds() * rate
	if maxTokens := float64(l.config.Requests + l.config.BurstSize); b.tokens > maxTokens {
		b.tokens = maxTokens
	}

	if b.tokens < float64(n) {
		return false
	}
	b.tokens -= float64(n)
	return true
}

// takeWindow отсекает запросы старше окна и пускает n новых,
// если лимит не превышен; вызывается под mu
func (l *MemoryLimiter) takeWindow(b *bucket, n int) bool {
	now := time.Now()
	b.requests = pruneBefore(b.requests, now.Add(-l.config.Window))

	if len(b.requests)+n > l.config.Requests {
		return false
	}
	for i := 0; i < n; i++ {
		b.requests = append(b.requests, now)
	}
	return true
}

func (l *MemoryLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := l.Allow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (l *MemoryLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLimiter) GetInfo(ctx context.Context, key string) (*LimitInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := &LimitInfo{
		Limit:   l.config.Requests,
		ResetAt: time.Now().Add(l.config.Window),
	}

	b, ok := l.buckets[key]
	if !ok {
		info.Remaining = l.config.Requests
		return info, nil
	}

	switch l.config.Strategy {
	case StrategyTokenBucket:
		info.Remaining = int(b.tokens)
	default:
		windowStart := time.Now().Add(-l.config.Window)
		inWindow := 0
		for _, t := range b.requests {
			if t.After(windowStart) {
				inWindow++
			}
		}
		info.Remaining = l.config.Requests - inWindow
	}
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	return info, nil
}

func (l *MemoryLimiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	close(l.stopCh)
	l.buckets = nil
	return nil
}

func (l *MemoryLimiter) janitor() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep выбрасывает источники, молчавшие дольше двух окон
func (l *MemoryLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.config.Window * 2)
	for key, b := range l.buckets {
		b.requests = pruneBefore(b.requests, cutoff)
		if len(b.requests) == 0 && b.lastCheck.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
