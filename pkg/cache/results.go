package cache

import (
	"context"
	"encoding/json"
	"time"

	"stratum/pkg/domain"
)

// ResultCache специализированный кэш агрегатов симуляций.
// Детерминизм движка делает кэшированный агрегат точным: одинаковый
// fingerprint гарантирует побайтово одинаковый результат.
type ResultCache struct {
	cache      Cache
	defaultTTL time.Duration
}

// NewResultCache создаёт кэш результатов симуляций
func NewResultCache(cache Cache, defaultTTL time.Duration) *ResultCache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &ResultCache{
		cache:      cache,
		defaultTTL: defaultTTL,
	}
}

// Get получает кэшированный агрегат по fingerprint
func (rc *ResultCache) Get(ctx context.Context, fingerprint string) (*domain.AggregateResult, bool, error) {
	key := BuildResultKey(fingerprint)

	data, err := rc.cache.Get(ctx, key)
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}

	var result domain.AggregateResult
	if err := json.Unmarshal(data, &result); err != nil {
		// Повреждённый кэш — удаляем, ошибку удаления игнорируем намеренно
		_ = rc.cache.Delete(ctx, key) //nolint:errcheck // best effort cleanup
		return nil, false, nil
	}

	return &result, true, nil
}

// Set сохраняет агрегат в кэш
func (rc *ResultCache) Set(ctx context.Context, result *domain.AggregateResult, ttl time.Duration) error {
	if result == nil || result.Fingerprint == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = rc.defaultTTL
	}

	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return rc.cache.Set(ctx, BuildResultKey(result.Fingerprint), data, ttl)
}

// Invalidate удаляет агрегат по fingerprint
func (rc *ResultCache) Invalidate(ctx context.Context, fingerprint string) error {
	return rc.cache.Delete(ctx, BuildResultKey(fingerprint))
}

// InvalidateAll удаляет все кэшированные агрегаты
func (rc *ResultCache) InvalidateAll(ctx context.Context) (int64, error) {
	return rc.cache.DeleteByPattern(ctx, "sim:*")
}

// SetLatest сохраняет последнюю принятую запись источника
func (rc *ResultCache) SetLatest(ctx context.Context, rec *domain.Record, ttl time.Duration) error {
	if rec == nil || rec.SourceID == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = rc.defaultTTL
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return rc.cache.Set(ctx, BuildLatestKey(rec.SourceID), data, ttl)
}

// GetLatest получает последнюю принятую запись источника
func (rc *ResultCache) GetLatest(ctx context.Context, sourceID string) (*domain.Record, bool, error) {
	data, err := rc.cache.Get(ctx, BuildLatestKey(sourceID))
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}

	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, nil
	}

	return &rec, true, nil
}
