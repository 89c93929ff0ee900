package service

import (
	"context"
	"log/slog"

	"stratum/pkg/cache"
	"stratum/pkg/config"
	"stratum/pkg/domain"
	"stratum/pkg/logger"
	"stratum/pkg/ratelimit"
	"stratum/services/resilience-svc/internal/coordinator"
	"stratum/services/resilience-svc/internal/engine"
	"stratum/services/resilience-svc/internal/fanout"
	"stratum/services/resilience-svc/internal/graphstore"
	"stratum/services/resilience-svc/internal/ingest"
	"stratum/services/resilience-svc/internal/scoring"
)

// Platform собирает ядро сервиса: граф, скорер, движок, конвейер
// телеметрии, координатор и шину событий
type Platform struct {
	cfg *config.Config

	Store       *graphstore.Store
	Scorer      *scoring.CachedScorer
	Engine      *engine.Engine
	Bus         *fanout.Bus
	Pipeline    *ingest.Pipeline
	Coordinator *coordinator.Coordinator

	results *cache.ResultCache
	backend cache.Cache
	limiter ratelimit.Limiter

	log *slog.Logger
}

// New поднимает все компоненты в порядке зависимостей.
// Мутации графа сразу же уходят в топик graph.mutation.
func New(cfg *config.Config) (*Platform, error) {
	p := &Platform{
		cfg: cfg,
		log: logger.WithComponent("platform"),
	}

	p.Store = graphstore.New()
	p.Scorer = scoring.NewCachedScorer(scoring.NewCentralityScorer(cfg.Scoring), cfg.Scoring)
	p.Engine = engine.NewEngine(cfg.Engine)
	p.Bus = fanout.NewBus(cfg.Fanout)

	p.Store.SetMutationHook(func(m domain.Mutation) {
		p.Bus.Publish(domain.TopicGraphMutation, m)
	})

	var results *cache.ResultCache
	if cfg.Cache.Enabled {
		backend, err := cache.New(cache.FromConfig(&cfg.Cache))
		if err != nil {
			p.log.Warn("cache backend unavailable, results will not be cached", "error", err)
		} else {
			p.backend = backend
			results = cache.NewResultCache(backend, cfg.Cache.DefaultTTL)
		}
	}
	p.results = results

	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			Strategy:        cfg.RateLimit.Strategy,
			Backend:         cfg.RateLimit.Backend,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			RedisAddr:       cfg.RateLimit.RedisAddr,
		})
		if err != nil {
			p.log.Warn("rate limiter unavailable, ingestion is not limited", "error", err)
		} else {
			p.limiter = limiter
		}
	}

	var latest ingest.LatestCache
	if results != nil {
		latest = results
	}
	p.Pipeline = ingest.New(cfg.Ingestion, p.Store, p.Bus, latest, p.limiter)
	p.Coordinator = coordinator.New(cfg.Coordinator, p.Engine, p.Store, p.Scorer, p.Bus, results)

	if cfg.Graph.LoadOnStart && cfg.Graph.SnapshotPath != "" {
		if err := p.Store.LoadFile(cfg.Graph.SnapshotPath); err != nil {
			p.log.Warn("cold-start snapshot not loaded", "path", cfg.Graph.SnapshotPath, "error", err)
		} else {
			nodes, edges := p.Store.Counts()
			p.log.Info("cold-start snapshot loaded",
				"path", cfg.Graph.SnapshotPath, "nodes", nodes, "edges", edges)
		}
	}

	return p, nil
}

// TopCritical возвращает k самых критичных узлов текущего графа
func (p *Platform) TopCritical(k int) []domain.CriticalNode {
	snap := p.Store.Snapshot()
	return domain.TopCritical(snap, p.Scorer.Score(snap), k)
}

// Statistics возвращает сводную статистику графа
func (p *Platform) Statistics() domain.GraphStatistics {
	return domain.ComputeStatistics(p.Store.Snapshot())
}

// Shutdown останавливает компоненты в обратном порядке, дожидаясь
// применения принятых записей и завершения задач
func (p *Platform) Shutdown(ctx context.Context) {
	p.log.Info("platform shutting down")

	p.Pipeline.Stop()
	p.Coordinator.Stop()
	p.Bus.Close()

	if p.cfg.Graph.SaveOnShutdown && p.cfg.Graph.SnapshotPath != "" {
		if err := p.Store.SaveFile(p.cfg.Graph.SnapshotPath); err != nil {
			p.log.Error("failed to save graph snapshot", "path", p.cfg.Graph.SnapshotPath, "error", err)
		} else {
			p.log.Info("graph snapshot saved", "path", p.cfg.Graph.SnapshotPath)
		}
	}

	if p.limiter != nil {
		if err := p.limiter.Close(); err != nil {
			p.log.Warn("failed to close rate limiter", "error", err)
		}
	}
	if p.backend != nil {
		if err := p.backend.Close(); err != nil {
			p.log.Warn("failed to close cache backend", "error", err)
		}
	}

	p.log.Info("platform stopped")
}
