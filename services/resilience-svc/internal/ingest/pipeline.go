package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stratum/pkg/apperror"
	"stratum/pkg/config"
	"stratum/pkg/domain"
	"stratum/pkg/logger"
	"stratum/pkg/metrics"
	"stratum/pkg/ratelimit"
	"stratum/pkg/telemetry"
	"stratum/services/resilience-svc/internal/graphstore"
)

// Причины отклонения записей, используются в сводке батча и метриках
const (
	ReasonInvalidSchema = "invalid_schema"
	ReasonLowQuality    = "low_quality"
	ReasonStale         = "stale"
	ReasonBackpressure  = "backpressure"
	ReasonRateLimited   = "rate_limited"
	ReasonUnknownTarget = "unknown_target"
)

// Publisher - выход конвейера в шину событий
type Publisher interface {
	Publish(topic string, payload any)
}

// LatestCache кэширует последнюю принятую запись источника
type LatestCache interface {
	SetLatest(ctx context.Context, record *domain.Record, ttl time.Duration) error
}

// BatchSummary - итог обработки батча записей
type BatchSummary struct {
	Accepted         int            `json:"accepted"`
	RejectedByReason map[string]int `json:"rejected_by_reason,omitempty"`
}

// ApplyFailure - событие о принятой записи, которую не удалось
// применить к графу; публикуется в топик ingest.apply_failed
type ApplyFailure struct {
	Record *domain.Record `json:"record"`
	Error  string         `json:"error"`
}

// applyTask - принятая запись с уже выведенной мутацией
type applyTask struct {
	record *domain.Record
	mut    *mutation
}

// Pipeline - конвейер телеметрии: валидация, порядок по источнику,
// ограниченная буферизация и применение мутаций к графу.
// Принятая запись гарантированно будет применена до остановки конвейера.
type Pipeline struct {
	cfg     config.IngestionConfig
	store   *graphstore.Store
	bus     Publisher
	latest  LatestCache
	limiter ratelimit.Limiter

	mu          sync.Mutex
	lastApplied map[string]time.Time // source_id -> максимальный принятый timestamp
	closed      bool

	// Цели ожидающих в буфере upsert'ов: запись, ссылающаяся на узел
	// или ребро из ещё не применённого upsert'а, проходит допуск
	pendingNodes map[domain.NodeID]int
	pendingEdges map[domain.EdgeKey]int

	buffer chan applyTask
	done   chan struct{}

	log *slog.Logger
}

// New создаёт конвейер. Кэш последних значений и лимитер опциональны.
func New(
	cfg config.IngestionConfig,
	store *graphstore.Store,
	bus Publisher,
	latest LatestCache,
	limiter ratelimit.Limiter,
) *Pipeline {
	capacity := cfg.BufferCapacity
	if capacity <= 0 {
		capacity = 1024
	}
	p := &Pipeline{
		cfg:          cfg,
		store:        store,
		bus:          bus,
		latest:       latest,
		limiter:      limiter,
		lastApplied:  make(map[string]time.Time),
		pendingNodes: make(map[domain.NodeID]int),
		pendingEdges: make(map[domain.EdgeKey]int),
		buffer:       make(chan applyTask, capacity),
		done:         make(chan struct{}),
		log:          logger.WithComponent("ingest"),
	}
	go p.applier()
	return p
}

// Ingest валидирует запись и ставит её в очередь применения.
// Возвращает nil, когда запись принята; принятая запись будет
// применена к графу в порядке постановки.
func (p *Pipeline) Ingest(ctx context.Context, record *domain.Record) error {
	if record == nil {
		return apperror.New(apperror.CodeNilInput, "record is nil")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	if p.limiter != nil {
		allowed, err := p.limiter.Allow(ctx, ratelimit.SourceKey(record.SourceID))
		if err == nil && !allowed {
			p.reject(ReasonRateLimited)
			return apperror.NewWithField(apperror.CodeBackpressure,
				fmt.Sprintf("source %s exceeds its ingestion rate", record.SourceID), "source_id")
		}
	}

	if record.QualityScore < 0 || record.QualityScore > 1 {
		p.reject(ReasonInvalidSchema)
		return apperror.NewWithField(apperror.CodeInvalidSchema,
			"quality_score must be in [0, 1]", "quality_score")
	}
	if record.QualityScore < p.cfg.QualityThreshold {
		p.reject(ReasonLowQuality)
		return apperror.Wrap(apperror.ErrLowQuality, apperror.CodeLowQuality,
			fmt.Sprintf("quality_score %.2f below threshold %.2f",
				record.QualityScore, p.cfg.QualityThreshold))
	}

	// Неизвестные типы уходят подписчикам, но к графу не применяются
	if !domain.KnownDataType(record.DataType) {
		p.bus.Publish(domain.TopicIngestPassthrough, record)
		metrics.Get().RecordIngestAccepted(record.DataType, 0)
		return nil
	}

	m, err := p.deriveMutation(record)
	if err != nil {
		p.reject(ReasonInvalidSchema)
		return err
	}

	// Порядок по источнику фиксируется на допуске: более старая запись,
	// чем уже принятая для источника, отбрасывается
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return apperror.New(apperror.CodeInternal, "ingestion pipeline is stopped")
	}
	if last, ok := p.lastApplied[record.SourceID]; ok && !record.Timestamp.After(last) {
		p.mu.Unlock()
		p.reject(ReasonStale)
		return apperror.Wrap(apperror.ErrStale, apperror.CodeStale,
			fmt.Sprintf("record at %s is not newer than %s for source %s",
				record.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339), record.SourceID))
	}

	// Цель мутации должна существовать уже на допуске: принятая запись
	// не должна тихо пропасть на применении
	for _, id := range m.needsNodes {
		if p.pendingNodes[id] == 0 && !p.store.HasNode(id) {
			p.mu.Unlock()
			p.reject(ReasonUnknownTarget)
			return apperror.NewWithField(apperror.CodeNotFound,
				fmt.Sprintf("node %s does not exist", id), "node_id")
		}
	}
	if key := m.needsEdge; key != nil && p.pendingEdges[*key] == 0 && !p.store.HasEdge(key.Src, key.Dst) {
		p.mu.Unlock()
		p.reject(ReasonUnknownTarget)
		return apperror.NewWithField(apperror.CodeNotFound,
			fmt.Sprintf("edge %s -> %s does not exist", key.Src, key.Dst), "edge")
	}

	select {
	case p.buffer <- applyTask{record: record, mut: m}:
		p.lastApplied[record.SourceID] = record.Timestamp
		if m.addsNode != "" {
			p.pendingNodes[m.addsNode]++
		}
		if m.addsEdge != nil {
			p.pendingEdges[*m.addsEdge]++
		}
		p.mu.Unlock()
		metrics.Get().IngestBufferDepth.WithLabelValues("default").Set(float64(len(p.buffer)))
		return nil
	default:
		p.mu.Unlock()
		p.reject(ReasonBackpressure)
		return apperror.Wrap(apperror.ErrBackpressure, apperror.CodeBackpressure,
			"ingestion buffer is full, retry with delay")
	}
}

// IngestBatch обрабатывает батч записей и возвращает сводку
func (p *Pipeline) IngestBatch(ctx context.Context, records []*domain.Record) BatchSummary {
	ctx, span := telemetry.StartSpan(ctx, "ingest.batch")
	defer span.End()

	summary := BatchSummary{}
	for _, record := range records {
		if err := p.Ingest(ctx, record); err != nil {
			if summary.RejectedByReason == nil {
				summary.RejectedByReason = make(map[string]int)
			}
			summary.RejectedByReason[rejectReason(err)]++
			continue
		}
		summary.Accepted++
	}

	telemetry.SetAttributes(ctx, telemetry.BatchAttributes(len(records), summary.Accepted)...)
	return summary
}

// Stop останавливает конвейер, дождавшись применения всех принятых записей
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.buffer)
	p.mu.Unlock()

	<-p.done
}

// applier - единственный применяющий поток; сериализует мутации
// и публикует их в шину
func (p *Pipeline) applier() {
	defer close(p.done)

	for task := range p.buffer {
		start := time.Now()

		ctx := context.Background()
		var cancel context.CancelFunc
		if p.cfg.ApplyTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, p.cfg.ApplyTimeout)
		}

		err := task.mut.apply(ctx)
		if cancel != nil {
			cancel()
		}
		p.releasePending(task.mut)

		if err != nil {
			p.log.Warn("failed to apply ingested record",
				"record_id", task.record.ID,
				"source_id", task.record.SourceID,
				"data_type", task.record.DataType,
				"error", err)
			p.reject("apply_failed")
			// Отказ применения наблюдаем снаружи, а не только в логе
			p.bus.Publish(domain.TopicIngestApplyFailed, ApplyFailure{
				Record: task.record,
				Error:  err.Error(),
			})
			continue
		}

		metrics.Get().RecordIngestAccepted(task.record.DataType, time.Since(start))

		if p.latest != nil && p.cfg.CacheLatest {
			if err := p.latest.SetLatest(context.Background(), task.record, p.cfg.LatestValueTTL); err != nil {
				p.log.Debug("failed to cache latest record", "source_id", task.record.SourceID, "error", err)
			}
		}
	}
}

func (p *Pipeline) reject(reason string) {
	metrics.Get().RecordIngestRejected(reason)
}

// releasePending снимает цели применённой мутации со счёта очереди
func (p *Pipeline) releasePending(m *mutation) {
	if m.addsNode == "" && m.addsEdge == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if m.addsNode != "" {
		if p.pendingNodes[m.addsNode]--; p.pendingNodes[m.addsNode] <= 0 {
			delete(p.pendingNodes, m.addsNode)
		}
	}
	if m.addsEdge != nil {
		if p.pendingEdges[*m.addsEdge]--; p.pendingEdges[*m.addsEdge] <= 0 {
			delete(p.pendingEdges, *m.addsEdge)
		}
	}
}

// rejectReason переводит ошибку конвейера в причину для сводки батча
func rejectReason(err error) string {
	switch apperror.Code(err) {
	case apperror.CodeInvalidSchema, apperror.CodeInvalidRequest, apperror.CodeNilInput:
		return ReasonInvalidSchema
	case apperror.CodeLowQuality:
		return ReasonLowQuality
	case apperror.CodeStale:
		return ReasonStale
	case apperror.CodeNotFound:
		return ReasonUnknownTarget
	case apperror.CodeBackpressure:
		return ReasonBackpressure
	default:
		return "internal"
	}
}
