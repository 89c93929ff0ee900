package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"stratum/pkg/apperror"
	"stratum/pkg/cache"
	"stratum/pkg/config"
	"stratum/pkg/domain"
	"stratum/pkg/logger"
	"stratum/pkg/metrics"
)

// Engine - Monte-Carlo движок каскадных симуляций.
// Работает над неизменяемым срезом графа; все прогоны одного запроса
// независимы и воспроизводимы по фингерпринту (срез + параметры).
type Engine struct {
	cfg         config.EngineConfig
	multipliers map[string]float64
	alpha       float64 // доля нагрузки, перераспределяемой при отказе
	stressK     float64 // чувствительность стрессового отказа
	quiescence  int     // тиков без изменений до остановки
	log         *slog.Logger
}

// NewEngine создаёт движок с параметрами из конфигурации
func NewEngine(cfg config.EngineConfig) *Engine {
	alpha := cfg.RedistributionFrac
	if alpha <= 0 {
		alpha = 0.5
	}
	stressK := cfg.StressSensitivity
	if stressK <= 0 {
		stressK = 0.5
	}
	quiescence := cfg.QuiescenceTicks
	if quiescence <= 0 {
		quiescence = 3
	}
	return &Engine{
		cfg:         cfg,
		multipliers: cfg.EventMultipliers,
		alpha:       alpha,
		stressK:     stressK,
		quiescence:  quiescence,
		log:         logger.WithComponent("engine"),
	}
}

// Fingerprint возвращает детерминированный отпечаток запроса над срезом
func (e *Engine) Fingerprint(snap *domain.Snapshot, req *domain.SimulationRequest) string {
	return cache.Fingerprint(snap.Version, req)
}

// Run выполняет N Monte-Carlo прогонов и агрегирует их.
// Запрос валидируется с дефолтами движка; при превышении рабочего
// бюджета симуляция отклоняется до запуска. Отмена контекста
// прерывает прогоны на границе тика.
func (e *Engine) Run(
	ctx context.Context,
	snap *domain.Snapshot,
	scores map[domain.NodeID]float64,
	req *domain.SimulationRequest,
) (*domain.AggregateResult, error) {
	if snap == nil {
		return nil, apperror.ErrNilSnapshot
	}

	req.ApplyDefaults()
	if req.ConfidenceLevel == 0 {
		req.ConfidenceLevel = e.cfg.ConfidenceLevel
	}
	if err := req.Validate(e.cfg.MaxHorizonMinutes, e.cfg.MinTimeStepMinutes); err != nil {
		metrics.Get().RecordSimulation("rejected", 0, 0)
		return nil, err
	}

	initial := sortedInitial(req)
	for _, id := range initial {
		if !snap.Has(id) {
			metrics.Get().RecordSimulation("rejected", 0, 0)
			return nil, apperror.NewWithField(apperror.CodeNotFound,
				fmt.Sprintf("initial failure node %q is not in the graph", id), "initial_failures")
		}
	}

	// Затронутый подграф: всё, что транзитивно зависит от стартовых
	// отказов. Распространение и перераспределение не покидают его.
	subSet := snap.Reachable(initial, domain.DirectionIn, 0)
	sub := make([]domain.NodeID, 0, len(subSet))
	for id := range subSet {
		sub = append(sub, id)
	}
	sort.Slice(sub, func(i, j int) bool { return sub[i] < sub[j] })

	ticks := req.Ticks()
	work := int64(req.MonteCarloRuns) * int64(len(sub)) * int64(ticks)
	if e.cfg.WorkBudget > 0 && work > e.cfg.WorkBudget {
		metrics.Get().RecordSimulation("rejected", 0, 0)
		return nil, apperror.New(apperror.CodeBudgetExceeded,
			"simulation exceeds the work budget, reduce runs, horizon or scope").
			WithDetails("estimated_work", work).
			WithDetails("work_budget", e.cfg.WorkBudget).
			WithDetails("subgraph_size", len(sub)).
			WithDetails("ticks", ticks).
			WithDetails("runs", req.MonteCarloRuns)
	}

	fingerprint := cache.Fingerprint(snap.Version, req)
	masterSeed := cache.MasterSeed(fingerprint)

	e.log.Info("simulation started",
		"scenario", req.ScenarioName,
		"fingerprint", fingerprint,
		"runs", req.MonteCarloRuns,
		"subgraph_size", len(sub),
		"ticks", ticks)

	start := time.Now()
	results, failedRuns, err := e.runAll(ctx, snap, scores, req, sub, masterSeed)
	elapsed := time.Since(start)

	if err != nil {
		metrics.Get().RecordSimulation("cancelled", len(results), elapsed)
		return nil, err
	}

	agg := e.aggregate(snap, scores, req, results)
	agg.Fingerprint = fingerprint
	agg.RunsRequested = req.MonteCarloRuns
	agg.RunsCompleted = len(results)
	agg.ComputationTimeSeconds = elapsed.Seconds()
	if failedRuns > 0 {
		agg.Partial = true
		agg.QualityWarning = true
		e.log.Warn("simulation completed partially",
			"fingerprint", fingerprint,
			"failed_runs", failedRuns,
			"completed_runs", len(results))
	}

	status := "completed"
	if agg.Partial {
		status = "partial"
	}
	metrics.Get().RecordSimulation(status, len(results), elapsed)
	metrics.Get().RecordCascadeDepth(string(req.Event.Kind), agg.CascadeDepth)

	e.log.Info("simulation finished",
		"fingerprint", fingerprint,
		"status", status,
		"cascade_depth", agg.CascadeDepth,
		"duration_ms", elapsed.Milliseconds())

	return agg, nil
}

// runAll гоняет прогоны пулом воркеров. Результаты кладутся по индексу
// прогона, поэтому итоговый порядок не зависит от числа воркеров.
func (e *Engine) runAll(
	ctx context.Context,
	snap *domain.Snapshot,
	scores map[domain.NodeID]float64,
	req *domain.SimulationRequest,
	sub []domain.NodeID,
	masterSeed uint64,
) ([]*domain.RunResult, int, error) {
	numRuns := req.MonteCarloRuns
	numWorkers := e.cfg.WorkerPoolSize
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > numRuns {
		numWorkers = numRuns
	}

	slots := make([]*domain.RunResult, numRuns)
	var failedRuns int
	var mu sync.Mutex

	tasks := make(chan int, numRuns)
	for i := 0; i < numRuns; i++ {
		tasks <- i
	}
	close(tasks)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				if ctx.Err() != nil {
					return
				}
				res, err := e.execRun(ctx, snap, scores, req, sub, runSeed(masterSeed, idx, 0))
				if err != nil && ctx.Err() == nil {
					// Повтор с производным seed; повторный прогон
					// детерминирован так же, как и первый
					e.log.Warn("simulation run failed, retrying",
						"run", idx, "error", err)
					res, err = e.execRun(ctx, snap, scores, req, sub, runSeed(masterSeed, idx, 1))
				}

				mu.Lock()
				if err != nil {
					failedRuns++
				} else {
					slots[idx] = res
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, apperror.Wrap(err, apperror.CodeCancelled, "simulation cancelled")
	}

	results := make([]*domain.RunResult, 0, numRuns)
	for _, r := range slots {
		if r != nil {
			results = append(results, r)
		}
	}
	if len(results) == 0 {
		return nil, 0, apperror.New(apperror.CodeInternal, "all simulation runs failed")
	}
	return results, failedRuns, nil
}

// execRun выполняет один прогон, конвертируя панику в ошибку
func (e *Engine) execRun(
	ctx context.Context,
	snap *domain.Snapshot,
	scores map[domain.NodeID]float64,
	req *domain.SimulationRequest,
	sub []domain.NodeID,
	seed uint64,
) (res *domain.RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperror.New(apperror.CodeInternal,
				fmt.Sprintf("simulation run panicked: %v", r))
		}
	}()
	return e.runOnce(ctx, snap, scores, req, sub, seed)
}

// aggregate сводит прогоны в итоговый результат
func (e *Engine) aggregate(
	snap *domain.Snapshot,
	scores map[domain.NodeID]float64,
	req *domain.SimulationRequest,
	results []*domain.RunResult,
) *domain.AggregateResult {
	n := float64(len(results))

	failCounts := make(map[domain.NodeID]int)
	ttfSums := make(map[domain.NodeID]float64)
	affected := make([]float64, 0, len(results))
	impacts := make([]float64, 0, len(results))

	initialSet := make(map[domain.NodeID]bool, len(req.Initial()))
	for _, id := range req.Initial() {
		initialSet[id] = true
	}

	cascadeRuns := 0
	for _, r := range results {
		cascaded := false
		for id, t := range r.TimeToFailure {
			failCounts[id]++
			ttfSums[id] += t
			if !initialSet[id] {
				cascaded = true
			}
		}
		if cascaded {
			cascadeRuns++
		}
		affected = append(affected, float64(len(r.TimeToFailure)))
		impacts = append(impacts, r.Impact)
	}

	failureProb := make(map[domain.NodeID]float64, len(failCounts))
	meanTTF := make(map[domain.NodeID]float64, len(failCounts))
	for id, count := range failCounts {
		failureProb[id] = float64(count) / n
		meanTTF[id] = ttfSums[id] / float64(count)
	}

	agg := &domain.AggregateResult{
		ScenarioName:        req.ScenarioName,
		FailureProbability:  failureProb,
		MeanTimeToFailure:   meanTTF,
		FailureHistogram:    failureHistogram(failureProb),
		AffectedNodesCI:     confidenceInterval(affected, req.ConfidenceLevel),
		ImpactCI:            confidenceInterval(impacts, req.ConfidenceLevel),
		AffectedPercentiles: calculatePercentiles(affected),
		CascadeProbability:  float64(cascadeRuns) / n,
	}

	agg.CascadeDepth = maxCascadeDepth(results)
	agg.CriticalPaths = e.criticalPaths(results, scores)
	agg.Bottlenecks = e.bottlenecks(snap, scores, req, results, failureProb, initialSet)
	agg.Recommendations = e.recommendations(snap, agg)

	return agg
}

// runSeed выводит seed прогона из мастер-seed, индекса и попытки
func runSeed(master uint64, run, attempt int) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], master)
	h.Write(buf[:]) //nolint:errcheck // hash.Write не возвращает ошибок
	binary.BigEndian.PutUint64(buf[:], uint64(run))
	h.Write(buf[:]) //nolint:errcheck
	binary.BigEndian.PutUint64(buf[:], uint64(attempt))
	h.Write(buf[:]) //nolint:errcheck
	return h.Sum64()
}
