package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"stratum/pkg/apperror"
	"stratum/pkg/config"
	"stratum/pkg/domain"
	"stratum/pkg/logger"
	"stratum/services/resilience-svc/internal/graphstore"
)

func init() {
	logger.Init("error")
}

// fakeBus накапливает публикации для проверок
type fakeBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *fakeBus) Publish(topic string, payload any) {
	b.mu.Lock()
	b.topics = append(b.topics, topic)
	b.mu.Unlock()
}

func (b *fakeBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func ingestionConfig() config.IngestionConfig {
	return config.IngestionConfig{
		BufferCapacity:   64,
		QualityThreshold: 0.3,
	}
}

func seedStore(t *testing.T) *graphstore.Store {
	t.Helper()
	s := graphstore.New()
	for _, n := range []*domain.Node{
		{ID: "power-1", Kind: domain.KindPower, Capacity: 100, Load: 50, Health: 1},
		{ID: "pump-1", Kind: domain.KindWater, Capacity: 100, Load: 50, Health: 1},
	} {
		if err := s.AddNode(n); err != nil {
			t.Fatalf("failed to seed node: %v", err)
		}
	}
	return s
}

func loadRecord(source string, ts time.Time, load float64) *domain.Record {
	return &domain.Record{
		SourceID:     source,
		Timestamp:    ts,
		DataType:     domain.DataTypeSensorLoad,
		Payload:      map[string]any{"node_id": "power-1", "load": load},
		QualityScore: 0.9,
	}
}

func TestPipeline_Ingest_SensorLoad(t *testing.T) {
	store := seedStore(t)
	p := New(ingestionConfig(), store, &fakeBus{}, nil, nil)

	if err := p.Ingest(context.Background(), loadRecord("sensor-1", time.Now(), 75)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	p.Stop()

	n, err := store.GetNode("power-1")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if n.Load != 75 {
		t.Errorf("load = %v, want 75", n.Load)
	}
}

func TestPipeline_Ingest_TopologyMutations(t *testing.T) {
	store := seedStore(t)
	p := New(ingestionConfig(), store, &fakeBus{}, nil, nil)
	ctx := context.Background()
	now := time.Now()

	records := []*domain.Record{
		{
			SourceID: "ops", Timestamp: now, DataType: domain.DataTypeNodeUpsert,
			Payload: map[string]any{
				"id": "water-1", "kind": "water", "capacity": 80.0, "load": 10.0, "health": 1.0,
			},
			QualityScore: 1,
		},
		{
			SourceID: "ops", Timestamp: now.Add(time.Second), DataType: domain.DataTypeEdgeUpsert,
			Payload: map[string]any{
				"src": "water-1", "dst": "power-1", "strength": 1.0, "propagation_probability": 0.5,
			},
			QualityScore: 1,
		},
		{
			SourceID: "ops", Timestamp: now.Add(2 * time.Second), DataType: domain.DataTypeEdgeRemove,
			Payload:      map[string]any{"src": "water-1", "dst": "power-1"},
			QualityScore: 1,
		},
		{
			SourceID: "ops", Timestamp: now.Add(3 * time.Second), DataType: domain.DataTypeNodeRemove,
			Payload:      map[string]any{"node_id": "pump-1"},
			QualityScore: 1,
		},
	}
	for i, r := range records {
		if err := p.Ingest(ctx, r); err != nil {
			t.Fatalf("Ingest(%d) error = %v", i, err)
		}
	}
	p.Stop()

	if _, err := store.GetNode("water-1"); err != nil {
		t.Errorf("upserted node missing: %v", err)
	}
	if _, err := store.GetNode("pump-1"); apperror.Code(err) != apperror.CodeNotFound {
		t.Error("removed node should be gone")
	}
	if store.Snapshot().Edge("water-1", "power-1") != nil {
		t.Error("removed edge should be gone")
	}
}

// Запись с несуществующей целью отклоняется синхронно на допуске,
// а не теряется на применении
func TestPipeline_Ingest_UnknownTarget(t *testing.T) {
	store := seedStore(t)
	p := New(ingestionConfig(), store, &fakeBus{}, nil, nil)
	defer p.Stop()
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name    string
		typ     string
		payload map[string]any
	}{
		{"sensor for unknown node", domain.DataTypeSensorLoad,
			map[string]any{"node_id": "ghost", "load": 10.0}},
		{"remove unknown node", domain.DataTypeNodeRemove,
			map[string]any{"node_id": "ghost"}},
		{"remove unknown edge", domain.DataTypeEdgeRemove,
			map[string]any{"src": "power-1", "dst": "pump-1"}},
		{"edge with unknown endpoint", domain.DataTypeEdgeUpsert,
			map[string]any{"src": "ghost", "dst": "power-1", "strength": 1.0, "propagation_probability": 0.5}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Ingest(ctx, &domain.Record{
				SourceID:     "ops",
				Timestamp:    now.Add(time.Duration(i) * time.Second),
				DataType:     tt.typ,
				Payload:      tt.payload,
				QualityScore: 1,
			})
			if apperror.Code(err) != apperror.CodeNotFound {
				t.Errorf("code = %v, want NOT_FOUND", apperror.Code(err))
			}
		})
	}
}

// Записи батча могут ссылаться на узел из ещё не применённого upsert'а
func TestPipeline_Ingest_PendingUpsertVisible(t *testing.T) {
	store := seedStore(t)
	p := New(ingestionConfig(), store, &fakeBus{}, nil, nil)
	now := time.Now()

	summary := p.IngestBatch(context.Background(), []*domain.Record{
		{
			SourceID: "ops", Timestamp: now, DataType: domain.DataTypeNodeUpsert,
			Payload: map[string]any{
				"id": "water-1", "kind": "water", "capacity": 80.0, "load": 10.0, "health": 1.0,
			},
			QualityScore: 1,
		},
		{
			SourceID: "ops", Timestamp: now.Add(time.Second), DataType: domain.DataTypeSensorLoad,
			Payload:      map[string]any{"node_id": "water-1", "load": 20.0},
			QualityScore: 1,
		},
		{
			SourceID: "ops", Timestamp: now.Add(2 * time.Second), DataType: domain.DataTypeEdgeUpsert,
			Payload: map[string]any{
				"src": "water-1", "dst": "power-1", "strength": 1.0, "propagation_probability": 0.5,
			},
			QualityScore: 1,
		},
	})
	p.Stop()

	if summary.Accepted != 3 {
		t.Fatalf("accepted = %d (%v), want 3", summary.Accepted, summary.RejectedByReason)
	}
	n, err := store.GetNode("water-1")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	if n.Load != 20 {
		t.Errorf("load = %v, want 20", n.Load)
	}
	if !store.HasEdge("water-1", "power-1") {
		t.Error("edge from the batch should be applied")
	}
}

// Цель, исчезнувшая между допуском и применением, не теряется молча:
// отказ применения публикуется в шину
func TestPipeline_ApplyFailurePublished(t *testing.T) {
	store := seedStore(t)
	bus := &fakeBus{}
	// Конвейер без применяющего потока: обе записи проходят допуск,
	// пока узел ещё существует
	p := &Pipeline{
		cfg:          ingestionConfig(),
		store:        store,
		bus:          bus,
		lastApplied:  make(map[string]time.Time),
		pendingNodes: make(map[domain.NodeID]int),
		pendingEdges: make(map[domain.EdgeKey]int),
		buffer:       make(chan applyTask, 4),
		done:         make(chan struct{}),
		log:          logger.WithComponent("ingest"),
	}
	ctx := context.Background()
	now := time.Now()

	removal := func(ts time.Time) *domain.Record {
		return &domain.Record{
			SourceID:     "ops",
			Timestamp:    ts,
			DataType:     domain.DataTypeNodeRemove,
			Payload:      map[string]any{"node_id": "pump-1"},
			QualityScore: 1,
		}
	}
	if err := p.Ingest(ctx, removal(now)); err != nil {
		t.Fatalf("first removal should be admitted: %v", err)
	}
	if err := p.Ingest(ctx, removal(now.Add(time.Second))); err != nil {
		t.Fatalf("second removal should be admitted: %v", err)
	}

	close(p.buffer)
	p.applier()

	if store.HasNode("pump-1") {
		t.Error("node should be removed")
	}
	if bus.count(domain.TopicIngestApplyFailed) != 1 {
		t.Errorf("apply_failed events = %d, want 1", bus.count(domain.TopicIngestApplyFailed))
	}
}

func TestPipeline_Ingest_SchemaRejects(t *testing.T) {
	store := seedStore(t)
	p := New(ingestionConfig(), store, &fakeBus{}, nil, nil)
	defer p.Stop()
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name    string
		payload map[string]any
		typ     string
	}{
		{"missing node_id", map[string]any{"load": 10.0}, domain.DataTypeSensorLoad},
		{"load not a number", map[string]any{"node_id": "power-1", "load": "high"}, domain.DataTypeSensorLoad},
		{"negative load", map[string]any{"node_id": "power-1", "load": -5.0}, domain.DataTypeSensorLoad},
		{"health out of range", map[string]any{"node_id": "power-1", "health": 1.5}, domain.DataTypeSensorHealth},
		{"edge remove without dst", map[string]any{"src": "a"}, domain.DataTypeEdgeRemove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Ingest(ctx, &domain.Record{
				SourceID:     "sensor-bad",
				Timestamp:    now,
				DataType:     tt.typ,
				Payload:      tt.payload,
				QualityScore: 1,
			})
			if apperror.Code(err) != apperror.CodeInvalidSchema {
				t.Errorf("code = %v, want INVALID_SCHEMA", apperror.Code(err))
			}
		})
	}
}

func TestPipeline_Ingest_Quality(t *testing.T) {
	p := New(ingestionConfig(), seedStore(t), &fakeBus{}, nil, nil)
	defer p.Stop()
	ctx := context.Background()

	rec := loadRecord("sensor-1", time.Now(), 60)
	rec.QualityScore = 0.1
	if err := p.Ingest(ctx, rec); apperror.Code(err) != apperror.CodeLowQuality {
		t.Errorf("code = %v, want LOW_QUALITY", apperror.Code(err))
	}

	rec = loadRecord("sensor-1", time.Now(), 60)
	rec.QualityScore = 1.5
	if err := p.Ingest(ctx, rec); apperror.Code(err) != apperror.CodeInvalidSchema {
		t.Errorf("code = %v, want INVALID_SCHEMA", apperror.Code(err))
	}
}

func TestPipeline_Ingest_Stale(t *testing.T) {
	p := New(ingestionConfig(), seedStore(t), &fakeBus{}, nil, nil)
	defer p.Stop()
	ctx := context.Background()
	now := time.Now()

	if err := p.Ingest(ctx, loadRecord("sensor-1", now, 60)); err != nil {
		t.Fatalf("first record should be accepted: %v", err)
	}

	// Запись не новее принятой отклоняется синхронно
	err := p.Ingest(ctx, loadRecord("sensor-1", now, 70))
	if apperror.Code(err) != apperror.CodeStale {
		t.Errorf("equal timestamp code = %v, want STALE", apperror.Code(err))
	}
	err = p.Ingest(ctx, loadRecord("sensor-1", now.Add(-time.Minute), 70))
	if apperror.Code(err) != apperror.CodeStale {
		t.Errorf("older timestamp code = %v, want STALE", apperror.Code(err))
	}

	// Порядок по источнику, не глобальный: другой источник принимается
	if err := p.Ingest(ctx, loadRecord("sensor-2", now.Add(-time.Minute), 80)); err != nil {
		t.Errorf("other source should not be affected: %v", err)
	}
}

func TestPipeline_Ingest_Backpressure(t *testing.T) {
	// Конвейер без применяющего потока: буфер не дренируется
	p := &Pipeline{
		cfg:         config.IngestionConfig{BufferCapacity: 1, QualityThreshold: 0.3},
		store:       seedStore(t),
		bus:         &fakeBus{},
		lastApplied: make(map[string]time.Time),
		buffer:      make(chan applyTask, 1),
		done:        make(chan struct{}),
		log:         logger.WithComponent("ingest"),
	}
	ctx := context.Background()
	now := time.Now()

	if err := p.Ingest(ctx, loadRecord("sensor-1", now, 60)); err != nil {
		t.Fatalf("first record should fill the buffer: %v", err)
	}

	err := p.Ingest(ctx, loadRecord("sensor-2", now, 70))
	if apperror.Code(err) != apperror.CodeBackpressure {
		t.Errorf("code = %v, want BACKPRESSURE", apperror.Code(err))
	}

	// Отклонённая по backpressure запись не двигает порядок источника
	if err := p.Ingest(ctx, loadRecord("sensor-1", now, 70)); apperror.Code(err) != apperror.CodeStale {
		t.Errorf("accepted source should keep its watermark, code = %v", apperror.Code(err))
	}
}

func TestPipeline_Ingest_Passthrough(t *testing.T) {
	bus := &fakeBus{}
	p := New(ingestionConfig(), seedStore(t), bus, nil, nil)
	defer p.Stop()

	err := p.Ingest(context.Background(), &domain.Record{
		SourceID:     "external",
		Timestamp:    time.Now(),
		DataType:     "weather.forecast",
		Payload:      map[string]any{"wind": 90.0},
		QualityScore: 1,
	})
	if err != nil {
		t.Fatalf("unknown data type should be accepted: %v", err)
	}
	if bus.count(domain.TopicIngestPassthrough) != 1 {
		t.Error("unknown data type should be published to the passthrough topic")
	}
}

func TestPipeline_IngestBatch(t *testing.T) {
	p := New(ingestionConfig(), seedStore(t), &fakeBus{}, nil, nil)
	defer p.Stop()
	now := time.Now()

	lowQuality := loadRecord("sensor-2", now, 60)
	lowQuality.QualityScore = 0.1
	badSchema := &domain.Record{
		SourceID: "sensor-3", Timestamp: now, DataType: domain.DataTypeSensorLoad,
		Payload: map[string]any{"load": 10.0}, QualityScore: 1,
	}

	summary := p.IngestBatch(context.Background(), []*domain.Record{
		loadRecord("sensor-1", now, 60),
		loadRecord("sensor-1", now, 70), // stale
		lowQuality,
		badSchema,
	})

	if summary.Accepted != 1 {
		t.Errorf("accepted = %d, want 1", summary.Accepted)
	}
	want := map[string]int{
		ReasonStale:         1,
		ReasonLowQuality:    1,
		ReasonInvalidSchema: 1,
	}
	for reason, n := range want {
		if summary.RejectedByReason[reason] != n {
			t.Errorf("rejected[%s] = %d, want %d", reason, summary.RejectedByReason[reason], n)
		}
	}
}

func TestPipeline_Stop(t *testing.T) {
	p := New(ingestionConfig(), seedStore(t), &fakeBus{}, nil, nil)

	p.Stop()
	p.Stop() // идемпотентно

	err := p.Ingest(context.Background(), loadRecord("sensor-1", time.Now(), 60))
	if apperror.Code(err) != apperror.CodeInternal {
		t.Errorf("ingest after stop code = %v, want INTERNAL", apperror.Code(err))
	}
}

func TestPipeline_Ingest_NilRecord(t *testing.T) {
	p := New(ingestionConfig(), seedStore(t), &fakeBus{}, nil, nil)
	defer p.Stop()

	if err := p.Ingest(context.Background(), nil); apperror.Code(err) != apperror.CodeNilInput {
		t.Errorf("code = %v, want NIL_INPUT", apperror.Code(err))
	}
}

func TestPipeline_Ingest_AssignsID(t *testing.T) {
	p := New(ingestionConfig(), seedStore(t), &fakeBus{}, nil, nil)
	defer p.Stop()

	rec := loadRecord("sensor-1", time.Now(), 60)
	if err := p.Ingest(context.Background(), rec); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if rec.ID == "" {
		t.Error("accepted record should get an id")
	}
}
