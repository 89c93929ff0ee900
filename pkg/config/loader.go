package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "STRATUM_"
	configEnvVar = "CONFIG_PATH"
)

// Loader загружает конфигурацию из разных источников
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader создаёт новый загрузчик конфигурации
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/stratum/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption - опция для конфигурации загрузчика
type LoaderOption func(*Loader)

// WithConfigPaths устанавливает пути поиска конфигурации
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix устанавливает префикс переменных окружения
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load загружает конфигурацию с приоритетом:
// 1. Defaults (самый низкий)
// 2. Config file (yaml)
// 3. Environment variables (самый высокий)
func (l *Loader) Load() (*Config, error) {
	// 1. Загружаем значения по умолчанию
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Загружаем из файла конфигурации
	if err := l.loadConfigFile(); err != nil {
		// Файл не обязателен, логируем warning
		fmt.Printf("Warning: %v\n", err)
	}

	// 3. Загружаем из переменных окружения (перезаписывают файл)
	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	// 4. Распаковываем в структуру
	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 5. Валидируем
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults загружает значения по умолчанию
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// App
		"app.name":        "resilience-core",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.debug":       false,

		// Log
		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		// Metrics
		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "stratum",
		"metrics.subsystem": "",

		// Tracing
		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "resilience-core",
		"tracing.sample_rate":  0.1,

		// Cache
		"cache.enabled":     true,
		"cache.driver":      "memory",
		"cache.host":        "localhost",
		"cache.port":        6379,
		"cache.db":          0,
		"cache.default_ttl": 5 * time.Minute,
		"cache.max_entries": 10000,

		// Rate Limit (для источников телеметрии)
		"rate_limit.enabled":          false,
		"rate_limit.requests":         1000,
		"rate_limit.window":           time.Second,
		"rate_limit.strategy":         "sliding_window",
		"rate_limit.backend":          "memory",
		"rate_limit.burst_size":       100,
		"rate_limit.cleanup_interval": 5 * time.Minute,

		// Graph
		"graph.snapshot_path":      "data/graph.jsonl",
		"graph.load_on_start":      false,
		"graph.save_on_shutdown":   false,
		"graph.max_neighbor_depth": 16,

		// Scoring
		"scoring.reachability_depth":  4,
		"scoring.reachability_weight": 0.5,
		"scoring.degree_weight":       0.3,
		"scoring.stress_weight":       0.2,
		"scoring.staleness_bound":     time.Minute,

		// Engine
		"engine.worker_pool_size":        0, // 0 = runtime.NumCPU()
		"engine.work_budget":             int64(50_000_000),
		"engine.max_horizon_minutes":     168 * 60.0,
		"engine.min_time_step_minutes":   0.1,
		"engine.redistribution_fraction": 0.5,
		"engine.stress_sensitivity":      0.5,
		"engine.quiescence_ticks":        3,
		"engine.top_k_critical_paths":    5,
		"engine.top_k_bottlenecks":       10,
		"engine.confidence_level":        0.95,

		// Множители событий: базовый множитель по виду события,
		// уточнение по виду узла. Итог клампится в [0.5, 3.0].
		"engine.event_multipliers": map[string]float64{
			"hurricane.power":       1.5,
			"hurricane.transport":   1.4,
			"hurricane.telecom":     1.3,
			"earthquake.water":      1.5,
			"earthquake.transport":  1.5,
			"flood.power":           1.4,
			"flood.water":           1.3,
			"flood.transport":       1.5,
			"cyberattack.telecom":   2.0,
			"cyberattack.power":     1.3,
			"power_outage.power":    1.8,
			"power_outage.telecom":  1.2,
		},

		// Ingestion
		"ingestion.buffer_capacity":   1024,
		"ingestion.quality_threshold": 0.3,
		"ingestion.apply_timeout":     5 * time.Second,
		"ingestion.latest_value_ttl":  5 * time.Minute,
		"ingestion.cache_latest":      true,

		// Coordinator
		"coordinator.worker_pool_size": 0, // 0 = runtime.NumCPU()
		"coordinator.queue_capacity":   64,
		"coordinator.result_cache_ttl": 10 * time.Minute,

		// Fanout
		"fanout.subscriber_queue_size": 256,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile загружает конфигурацию из файла
func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv загружает конфигурацию из переменных окружения
// Использует умную трансформацию ключей для полей с подчёркиванием
func (l *Loader) loadEnv() error {
	return l.k.Load(env.ProviderWithValue(l.envPrefix, ".", func(envKey string, value string) (string, interface{}) {
		// Убираем префикс и приводим к нижнему регистру
		key := strings.ToLower(strings.TrimPrefix(envKey, l.envPrefix))

		// Маппинг для полей с подчёркиванием в именах
		if mappedKey, ok := envKeyMappings[key]; ok {
			key = mappedKey
		} else {
			// По умолчанию заменяем все подчёркивания на точки
			key = strings.ReplaceAll(key, "_", ".")
		}

		return key, value
	}), nil)
}

// envKeyMappings - маппинг переменных окружения на ключи конфига
// Необходим для полей, содержащих подчёркивания в именах
var envKeyMappings = map[string]string{
	// Log
	"log_level":       "log.level",
	"log_format":      "log.format",
	"log_output":      "log.output",
	"log_file_path":   "log.file_path",
	"log_max_size":    "log.max_size",
	"log_max_backups": "log.max_backups",
	"log_max_age":     "log.max_age",
	"log_compress":    "log.compress",

	// Metrics
	"metrics_enabled":   "metrics.enabled",
	"metrics_port":      "metrics.port",
	"metrics_namespace": "metrics.namespace",

	// Tracing
	"tracing_enabled":      "tracing.enabled",
	"tracing_endpoint":     "tracing.endpoint",
	"tracing_service_name": "tracing.service_name",
	"tracing_sample_rate":  "tracing.sample_rate",

	// Cache
	"cache_enabled":     "cache.enabled",
	"cache_driver":      "cache.driver",
	"cache_host":        "cache.host",
	"cache_port":        "cache.port",
	"cache_password":    "cache.password",
	"cache_db":          "cache.db",
	"cache_default_ttl": "cache.default_ttl",
	"cache_max_entries": "cache.max_entries",

	// Rate limit
	"rate_limit_enabled":          "rate_limit.enabled",
	"rate_limit_requests":         "rate_limit.requests",
	"rate_limit_window":           "rate_limit.window",
	"rate_limit_strategy":         "rate_limit.strategy",
	"rate_limit_backend":          "rate_limit.backend",
	"rate_limit_burst_size":       "rate_limit.burst_size",
	"rate_limit_cleanup_interval": "rate_limit.cleanup_interval",
	"rate_limit_redis_addr":       "rate_limit.redis_addr",

	// Graph
	"graph_snapshot_path":      "graph.snapshot_path",
	"graph_load_on_start":      "graph.load_on_start",
	"graph_save_on_shutdown":   "graph.save_on_shutdown",
	"graph_max_neighbor_depth": "graph.max_neighbor_depth",

	// Scoring
	"scoring_reachability_depth":  "scoring.reachability_depth",
	"scoring_reachability_weight": "scoring.reachability_weight",
	"scoring_degree_weight":       "scoring.degree_weight",
	"scoring_stress_weight":       "scoring.stress_weight",
	"scoring_staleness_bound":     "scoring.staleness_bound",

	// Engine
	"engine_worker_pool_size":        "engine.worker_pool_size",
	"engine_work_budget":             "engine.work_budget",
	"engine_max_horizon_minutes":     "engine.max_horizon_minutes",
	"engine_min_time_step_minutes":   "engine.min_time_step_minutes",
	"engine_redistribution_fraction": "engine.redistribution_fraction",
	"engine_stress_sensitivity":      "engine.stress_sensitivity",
	"engine_quiescence_ticks":        "engine.quiescence_ticks",
	"engine_top_k_critical_paths":    "engine.top_k_critical_paths",
	"engine_top_k_bottlenecks":       "engine.top_k_bottlenecks",
	"engine_confidence_level":        "engine.confidence_level",

	// Ingestion
	"ingestion_buffer_capacity":   "ingestion.buffer_capacity",
	"ingestion_quality_threshold": "ingestion.quality_threshold",
	"ingestion_apply_timeout":     "ingestion.apply_timeout",
	"ingestion_latest_value_ttl":  "ingestion.latest_value_ttl",
	"ingestion_cache_latest":      "ingestion.cache_latest",

	// Coordinator
	"coordinator_worker_pool_size": "coordinator.worker_pool_size",
	"coordinator_queue_capacity":   "coordinator.queue_capacity",
	"coordinator_result_cache_ttl": "coordinator.result_cache_ttl",

	// Fanout
	"fanout_subscriber_queue_size": "fanout.subscriber_queue_size",
}

// MustLoad загружает конфигурацию или паникует
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load - удобная функция для загрузки с дефолтными настройками
func Load() (*Config, error) {
	return NewLoader().Load()
}
