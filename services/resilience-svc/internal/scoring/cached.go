package scoring

import (
	"sync"
	"time"

	"stratum/pkg/config"
	"stratum/pkg/domain"
)

// CachedScorer кэширует оценки по версии графа.
// Оценки пересчитываются при смене версии среза либо по истечении
// staleness bound; выданная карта неизменяема по соглашению.
type CachedScorer struct {
	inner     Scorer
	staleness time.Duration

	mu         sync.Mutex
	version    uint64
	computedAt time.Time
	scores     map[domain.NodeID]float64
}

// NewCachedScorer оборачивает скорер кэшем с заданным staleness bound
func NewCachedScorer(inner Scorer, cfg config.ScoringConfig) *CachedScorer {
	staleness := cfg.StalenessBound
	if staleness <= 0 {
		staleness = time.Minute
	}
	return &CachedScorer{
		inner:     inner,
		staleness: staleness,
	}
}

// Score возвращает кэшированные оценки для среза или пересчитывает их
func (c *CachedScorer) Score(snap *domain.Snapshot) map[domain.NodeID]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scores != nil && c.version == snap.Version && time.Since(c.computedAt) < c.staleness {
		return c.scores
	}

	c.scores = c.inner.Score(snap)
	c.version = snap.Version
	c.computedAt = time.Now()
	return c.scores
}

// Invalidate сбрасывает кэш; следующий вызов пересчитает оценки
func (c *CachedScorer) Invalidate() {
	c.mu.Lock()
	c.scores = nil
	c.mu.Unlock()
}
