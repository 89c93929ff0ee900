package coordinator

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"stratum/pkg/apperror"
	"stratum/pkg/cache"
	"stratum/pkg/config"
	"stratum/pkg/domain"
	"stratum/pkg/logger"
	"stratum/pkg/metrics"
	"stratum/pkg/telemetry"
	"stratum/services/resilience-svc/internal/engine"
	"stratum/services/resilience-svc/internal/graphstore"
	"stratum/services/resilience-svc/internal/scoring"
)

// Publisher - выход координатора в шину событий
type Publisher interface {
	Publish(topic string, payload any)
}

// JobEvent - полезная нагрузка событий жизненного цикла симуляции
type JobEvent struct {
	Fingerprint  string    `json:"fingerprint"`
	ScenarioName string    `json:"scenario_name,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Error        string    `json:"error,omitempty"`
}

// job - одно выполнение симуляции; к нему могут быть прикреплены
// несколько хэндлов с одинаковым фингерпринтом
type job struct {
	fingerprint string
	snap        *domain.Snapshot
	req         *domain.SimulationRequest
	submittedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	refs   int // под mu координатора

	done   chan struct{}
	result *domain.AggregateResult
	err    error
}

// Handle - билет на результат симуляции.
// Несколько хэндлов могут разделять одно выполнение.
type Handle struct {
	ID        string
	job       *job
	cancelled atomic.Bool
}

// Fingerprint возвращает отпечаток запроса хэндла
func (h *Handle) Fingerprint() string {
	return h.job.fingerprint
}

// Coordinator управляет пулом воркеров симуляций: дедупликация по
// фингерпринту, ограниченная очередь с fail-fast отказом и
// кооперативная отмена по счётчику прикреплённых хэндлов.
type Coordinator struct {
	cfg     config.CoordinatorConfig
	eng     *engine.Engine
	store   *graphstore.Store
	scorer  scoring.Scorer
	bus     Publisher
	results *cache.ResultCache

	mu       sync.Mutex
	inflight map[string]*job
	stopped  bool

	queue chan *job
	wg    sync.WaitGroup

	log *slog.Logger
}

// New создаёт координатор и запускает пул воркеров.
// Кэш результатов опционален.
func New(
	cfg config.CoordinatorConfig,
	eng *engine.Engine,
	store *graphstore.Store,
	scorer scoring.Scorer,
	bus Publisher,
	results *cache.ResultCache,
) *Coordinator {
	queueCapacity := cfg.QueueCapacity
	if queueCapacity <= 0 {
		queueCapacity = 64
	}
	numWorkers := cfg.WorkerPoolSize
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	c := &Coordinator{
		cfg:      cfg,
		eng:      eng,
		store:    store,
		scorer:   scorer,
		bus:      bus,
		results:  results,
		inflight: make(map[string]*job),
		queue:    make(chan *job, queueCapacity),
		log:      logger.WithComponent("coordinator"),
	}

	for i := 0; i < numWorkers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// Submit принимает запрос на симуляцию и возвращает хэндл.
// Запрос с фингерпринтом уже выполняющейся задачи прикрепляется к ней;
// при заполненной очереди возвращается overloaded без ожидания.
func (c *Coordinator) Submit(ctx context.Context, req *domain.SimulationRequest) (*Handle, error) {
	if req == nil {
		return nil, apperror.New(apperror.CodeNilInput, "simulation request is nil")
	}
	req.ApplyDefaults()

	snap := c.store.Snapshot()
	fingerprint := c.eng.Fingerprint(snap, req)

	// Готовый результат в кэше: задача не создаётся вовсе
	if c.results != nil {
		if cached, ok, err := c.results.Get(ctx, fingerprint); err == nil && ok {
			metrics.Get().CacheHitsTotal.Inc()
			c.log.Debug("simulation served from result cache", "fingerprint", fingerprint)
			return resolvedHandle(fingerprint, snap, req, cached), nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, apperror.New(apperror.CodeInternal, "coordinator is stopped")
	}

	if existing, ok := c.inflight[fingerprint]; ok {
		existing.refs++
		metrics.Get().DedupHitsTotal.Inc()
		c.log.Debug("submission attached to in-flight job",
			"fingerprint", fingerprint, "refs", existing.refs)
		return &Handle{ID: uuid.NewString(), job: existing}, nil
	}

	jobCtx, jobCancel := context.WithCancel(context.Background())
	j := &job{
		fingerprint: fingerprint,
		snap:        snap,
		req:         req,
		submittedAt: time.Now(),
		ctx:         jobCtx,
		cancel:      jobCancel,
		refs:        1,
		done:        make(chan struct{}),
	}

	select {
	case c.queue <- j:
	default:
		jobCancel()
		return nil, apperror.Wrap(apperror.ErrOverloaded, apperror.CodeOverloaded,
			"coordinator queue is full, retry later")
	}

	c.inflight[fingerprint] = j
	metrics.Get().QueueDepth.Set(float64(len(c.queue)))
	metrics.Get().JobsInFlight.Inc()

	c.bus.Publish(domain.TopicSimulationStarted, JobEvent{
		Fingerprint:  fingerprint,
		ScenarioName: req.ScenarioName,
		SubmittedAt:  j.submittedAt,
	})

	return &Handle{ID: uuid.NewString(), job: j}, nil
}

// Await блокируется до результата задачи, отмены хэндла
// или истечения контекста вызывающего
func (c *Coordinator) Await(ctx context.Context, h *Handle) (*domain.AggregateResult, error) {
	if h == nil {
		return nil, apperror.New(apperror.CodeNilInput, "handle is nil")
	}
	if h.cancelled.Load() {
		return nil, apperror.Wrap(apperror.ErrCancelled, apperror.CodeCancelled, "handle was cancelled")
	}

	select {
	case <-h.job.done:
		return h.job.result, h.job.err
	case <-ctx.Done():
		return nil, apperror.Wrap(ctx.Err(), apperror.CodeCancelled, "await interrupted")
	}
}

// Cancel отменяет хэндл. Задача отменяется, когда отменён
// последний прикреплённый к ней хэндл. Повторные вызовы безопасны.
func (c *Coordinator) Cancel(h *Handle) {
	if h == nil || !h.cancelled.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h.job.refs--
	if h.job.refs <= 0 {
		c.log.Info("job cancelled, no handles remain", "fingerprint", h.job.fingerprint)
		h.job.cancel()
	}
}

// Stop отменяет все задачи и останавливает воркеры
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	for _, j := range c.inflight {
		j.cancel()
	}
	close(c.queue)
	c.mu.Unlock()

	c.wg.Wait()
}

// worker выполняет задачи из очереди по одной
func (c *Coordinator) worker() {
	defer c.wg.Done()

	for j := range c.queue {
		metrics.Get().QueueDepth.Set(float64(len(c.queue)))
		c.execute(j)
	}
}

func (c *Coordinator) execute(j *job) {
	defer metrics.Get().JobsInFlight.Dec()

	ctx, span := telemetry.StartSpan(j.ctx, "simulation.execute",
		telemetry.WithAttributes(telemetry.SimulationAttributes(
			j.fingerprint, string(j.req.Event.Kind), j.req.MonteCarloRuns, j.req.HorizonMinutes)...),
		telemetry.WithAttributes(telemetry.GraphAttributes(
			j.snap.Version, len(j.snap.Nodes), len(j.snap.Edges))...),
	)
	defer span.End()

	var scores map[domain.NodeID]float64
	if ctx.Err() == nil {
		scores = c.scorer.Score(j.snap)
	}

	result, err := c.eng.Run(ctx, j.snap, scores, j.req)
	if err != nil {
		telemetry.SetError(ctx, err)
	}
	j.result = result
	j.err = err

	c.mu.Lock()
	delete(c.inflight, j.fingerprint)
	c.mu.Unlock()
	close(j.done)
	j.cancel()

	switch {
	case err != nil:
		c.bus.Publish(domain.TopicSimulationFailed, JobEvent{
			Fingerprint:  j.fingerprint,
			ScenarioName: j.req.ScenarioName,
			SubmittedAt:  j.submittedAt,
			Error:        err.Error(),
		})
	default:
		if c.results != nil && !result.Partial {
			if cacheErr := c.results.Set(context.Background(), result, c.cfg.ResultCacheTTL); cacheErr != nil {
				c.log.Debug("failed to cache simulation result",
					"fingerprint", j.fingerprint, "error", cacheErr)
			}
		}
		c.bus.Publish(domain.TopicSimulationCompleted, JobEvent{
			Fingerprint:  j.fingerprint,
			ScenarioName: j.req.ScenarioName,
			SubmittedAt:  j.submittedAt,
		})
	}
}

// resolvedHandle - хэндл, сразу же разрешённый кэшированным результатом
func resolvedHandle(
	fingerprint string,
	snap *domain.Snapshot,
	req *domain.SimulationRequest,
	result *domain.AggregateResult,
) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j := &job{
		fingerprint: fingerprint,
		snap:        snap,
		req:         req,
		submittedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		result:      result,
	}
	close(j.done)
	return &Handle{ID: uuid.NewString(), job: j}
}
