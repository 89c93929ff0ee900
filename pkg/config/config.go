// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config - главная структура конфигурации
type Config struct {
	App         AppConfig         `koanf:"app"`
	Log         LogConfig         `koanf:"log"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Tracing     TracingConfig     `koanf:"tracing"`
	Cache       CacheConfig       `koanf:"cache"`
	RateLimit   RateLimitConfig   `koanf:"rate_limit"`
	Graph       GraphConfig       `koanf:"graph"`
	Scoring     ScoringConfig     `koanf:"scoring"`
	Engine      EngineConfig      `koanf:"engine"`
	Ingestion   IngestionConfig   `koanf:"ingestion"`
	Coordinator CoordinatorConfig `koanf:"coordinator"`
	Fanout      FanoutConfig      `koanf:"fanout"`
}

// AppConfig - общие настройки приложения
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// LogConfig - настройки логирования
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`   // путь к файлу логов
	MaxSize    int    `koanf:"max_size"`    // MB
	MaxBackups int    `koanf:"max_backups"` // количество бэкапов
	MaxAge     int    `koanf:"max_age"`     // дней
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig - настройки Prometheus метрик
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig - настройки OpenTelemetry
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// CacheConfig - настройки кэширования результатов
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // redis, memory
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"` // для in-memory
}

// Address возвращает адрес кэша
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RateLimitConfig конфигурация rate limiting для источников телеметрии
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Requests        int           `koanf:"requests"`
	Window          time.Duration `koanf:"window"`
	Strategy        string        `koanf:"strategy"`
	Backend         string        `koanf:"backend"`
	BurstSize       int           `koanf:"burst_size"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	RedisAddr       string        `koanf:"redis_addr"`
}

// GraphConfig - настройки графа зависимостей
type GraphConfig struct {
	SnapshotPath     string `koanf:"snapshot_path"`      // путь для cold-start снапшота (JSON lines)
	LoadOnStart      bool   `koanf:"load_on_start"`      // загружать снапшот при старте
	SaveOnShutdown   bool   `koanf:"save_on_shutdown"`   // сохранять снапшот при остановке
	MaxNeighborDepth int    `koanf:"max_neighbor_depth"` // ограничение глубины BFS в запросах
}

// ScoringConfig - настройки расчёта критичности
type ScoringConfig struct {
	ReachabilityDepth  int           `koanf:"reachability_depth"`  // глубина обратного BFS
	ReachabilityWeight float64       `koanf:"reachability_weight"` // вес reachability-сигнала
	DegreeWeight       float64       `koanf:"degree_weight"`       // вес взвешенной степени
	StressWeight       float64       `koanf:"stress_weight"`       // вес стресс-фактора
	StalenessBound     time.Duration `koanf:"staleness_bound"`     // максимальный возраст кэша оценок
}

// EngineConfig - настройки движка каскадных симуляций
type EngineConfig struct {
	WorkerPoolSize     int     `koanf:"worker_pool_size"`     // 0 = runtime.NumCPU()
	WorkBudget         int64   `koanf:"work_budget"`          // N * |subgraph| * ticks
	MaxHorizonMinutes  float64 `koanf:"max_horizon_minutes"`  // верхняя граница горизонта
	MinTimeStepMinutes float64 `koanf:"min_time_step_minutes"`
	RedistributionFrac float64 `koanf:"redistribution_fraction"` // alpha
	StressSensitivity  float64 `koanf:"stress_sensitivity"`      // k
	QuiescenceTicks    int     `koanf:"quiescence_ticks"`        // K тиков без изменений
	TopKCriticalPaths  int     `koanf:"top_k_critical_paths"`
	TopKBottlenecks    int     `koanf:"top_k_bottlenecks"`
	ConfidenceLevel    float64 `koanf:"confidence_level"` // default для запросов

	// Множители событий по ключу "<event_kind>.<node_kind>"
	EventMultipliers map[string]float64 `koanf:"event_multipliers"`
}

// IngestionConfig - настройки конвейера телеметрии
type IngestionConfig struct {
	BufferCapacity   int           `koanf:"buffer_capacity"`    // на класс источника
	QualityThreshold float64       `koanf:"quality_threshold"`  // минимальный quality_score
	ApplyTimeout     time.Duration `koanf:"apply_timeout"`      // дедлайн применения мутации
	LatestValueTTL   time.Duration `koanf:"latest_value_ttl"`   // TTL latest:{source_id}
	CacheLatest      bool          `koanf:"cache_latest"`       // кэшировать последнее значение
}

// CoordinatorConfig - настройки координатора задач
type CoordinatorConfig struct {
	WorkerPoolSize int           `koanf:"worker_pool_size"` // 0 = runtime.NumCPU()
	QueueCapacity  int           `koanf:"queue_capacity"`
	ResultCacheTTL time.Duration `koanf:"result_cache_ttl"` // TTL агрегата в кэше по fingerprint
}

// FanoutConfig - настройки шины событий
type FanoutConfig struct {
	SubscriberQueueSize int `koanf:"subscriber_queue_size"`
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if c.Engine.WorkBudget <= 0 {
		errs = append(errs, "engine.work_budget must be positive")
	}

	if c.Engine.MinTimeStepMinutes <= 0 {
		errs = append(errs, "engine.min_time_step_minutes must be positive")
	}

	if c.Engine.MaxHorizonMinutes < c.Engine.MinTimeStepMinutes {
		errs = append(errs, "engine.max_horizon_minutes must be at least engine.min_time_step_minutes")
	}

	if c.Engine.ConfidenceLevel <= 0 || c.Engine.ConfidenceLevel >= 1 {
		errs = append(errs, fmt.Sprintf("engine.confidence_level must be in (0, 1), got %g", c.Engine.ConfidenceLevel))
	}

	if c.Engine.RedistributionFrac < 0 || c.Engine.RedistributionFrac > 1 {
		errs = append(errs, fmt.Sprintf("engine.redistribution_fraction must be in [0, 1], got %g", c.Engine.RedistributionFrac))
	}

	if c.Scoring.ReachabilityWeight < 0 || c.Scoring.DegreeWeight < 0 || c.Scoring.StressWeight < 0 {
		errs = append(errs, "scoring weights must be non-negative")
	}

	if c.Ingestion.BufferCapacity <= 0 {
		errs = append(errs, "ingestion.buffer_capacity must be positive")
	}

	if c.Ingestion.QualityThreshold < 0 || c.Ingestion.QualityThreshold > 1 {
		errs = append(errs, fmt.Sprintf("ingestion.quality_threshold must be in [0, 1], got %g", c.Ingestion.QualityThreshold))
	}

	if c.Coordinator.QueueCapacity < 0 {
		errs = append(errs, "coordinator.queue_capacity must be non-negative")
	}

	if c.Fanout.SubscriberQueueSize <= 0 {
		errs = append(errs, "fanout.subscriber_queue_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment проверяет режим разработки
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction проверяет продакшн режим
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
