package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Стандартные ошибки
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrLimiterClosed     = errors.New("limiter is closed")
)

// Стратегии ограничения
const (
	StrategySlidingWindow = "sliding_window"
	StrategyTokenBucket   = "token_bucket"
)

// Limiter интерфейс ограничителя запросов
type Limiter interface {
	// Allow проверяет, разрешён ли запрос
	Allow(ctx context.Context, key string) (bool, error)

	// AllowN проверяет, разрешены ли n запросов
	AllowN(ctx context.Context, key string, n int) (bool, error)

	// Wait блокирует до получения разрешения
	Wait(ctx context.Context, key string) error

	// Reset сбрасывает лимит для ключа
	Reset(ctx context.Context, key string) error

	// GetInfo возвращает информацию о текущем состоянии
	GetInfo(ctx context.Context, key string) (*LimitInfo, error)

	// Close закрывает лимитер
	Close() error
}

// LimitInfo информация о состоянии лимита
type LimitInfo struct {
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Config конфигурация rate limiter
type Config struct {
	// Requests количество запросов
	Requests int `koanf:"requests"`

	// Window временное окно
	Window time.Duration `koanf:"window"`

	// Strategy стратегия (sliding_window, token_bucket, fixed_window)
	Strategy string `koanf:"strategy"`

	// Backend хранилище (memory, redis)
	Backend string `koanf:"backend"`

	// BurstSize размер burst для token bucket
	BurstSize int `koanf:"burst_size"`

	// CleanupInterval интервал очистки для in-memory
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// Redis настройки Redis
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		Requests:        100,
		Window:          time.Minute,
		Strategy:        StrategySlidingWindow,
		Backend:         "memory",
		BurstSize:       10,
		CleanupInterval: 5 * time.Minute,
	}
}

// New создаёт лимитер на основе конфигурации
func New(cfg *Config) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "redis":
		return NewRedisLimiter(cfg)
	case "memory", "":
		return NewMemoryLimiter(cfg), nil
	default:
		return NewMemoryLimiter(cfg), nil
	}
}

// SourceKey формирует ключ лимита для источника телеметрии
func SourceKey(sourceID string) string {
	if sourceID == "" {
		return "source:unknown"
	}
	return "source:" + sourceID
}

// PerSourceLimits хранит индивидуальные лимиты источников
// поверх лимита по умолчанию
type PerSourceLimits struct {
	mu            sync.RWMutex
	sources       map[string]*Config
	defaultConfig *Config
}

// NewPerSourceLimits создаёт набор лимитов с дефолтом
func NewPerSourceLimits(defaultCfg *Config) *PerSourceLimits {
	if defaultCfg == nil {
		defaultCfg = DefaultConfig()
	}
	return &PerSourceLimits{
		sources:       make(map[string]*Config),
		defaultConfig: defaultCfg,
	}
}

// Set устанавливает лимит для источника
func (p *PerSourceLimits) Set(sourceID string, cfg *Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[sourceID] = cfg
}

// Get возвращает конфигурацию для источника
func (p *PerSourceLimits) Get(sourceID string) *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if cfg, ok := p.sources[sourceID]; ok {
		return cfg
	}
	return p.defaultConfig
}
