package cache

import (
	"context"
	"testing"
	"time"

	"stratum/pkg/domain"
)

func sampleAggregate(fingerprint string) *domain.AggregateResult {
	return &domain.AggregateResult{
		ScenarioName: "substation outage",
		Fingerprint:  fingerprint,
		FailureProbability: map[domain.NodeID]float64{
			"power-1":    1.0,
			"hospital-2": 0.85,
		},
		MeanTimeToFailure: map[domain.NodeID]float64{
			"power-1":    0,
			"hospital-2": 12.5,
		},
		AffectedNodesCI: domain.ConfidenceInterval{Level: 0.95, Mean: 2.1, Lower: 1.9, Upper: 2.3},
		CascadeDepth:    3,
		RunsRequested:   1000,
		RunsCompleted:   1000,
	}
}

func TestResultCache_SetGet(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	results := NewResultCache(memCache, 5*time.Minute)
	ctx := context.Background()

	original := sampleAggregate("fp-set-get")

	if err := results.Set(ctx, original, 0); err != nil {
		t.Fatalf("failed to set: %v", err)
	}

	got, found, err := results.Get(ctx, "fp-set-get")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if !found {
		t.Fatal("expected cache hit")
	}

	if got.ScenarioName != original.ScenarioName {
		t.Errorf("scenario = %s, want %s", got.ScenarioName, original.ScenarioName)
	}
	if got.FailureProbability["hospital-2"] != 0.85 {
		t.Errorf("failure probability = %v, want 0.85", got.FailureProbability["hospital-2"])
	}
	if got.CascadeDepth != 3 {
		t.Errorf("cascade depth = %d, want 3", got.CascadeDepth)
	}
}

func TestResultCache_Miss(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	results := NewResultCache(memCache, 5*time.Minute)

	_, found, err := results.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected cache miss for unknown fingerprint")
	}
}

func TestResultCache_SetSkipsEmptyFingerprint(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	results := NewResultCache(memCache, 5*time.Minute)
	ctx := context.Background()

	if err := results.Set(ctx, sampleAggregate(""), 0); err != nil {
		t.Fatalf("set with empty fingerprint should be a no-op: %v", err)
	}
	if err := results.Set(ctx, nil, 0); err != nil {
		t.Fatalf("set with nil result should be a no-op: %v", err)
	}
}

func TestResultCache_CorruptedEntry(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	results := NewResultCache(memCache, 5*time.Minute)
	ctx := context.Background()

	// Подсовываем невалидный JSON под ключ результата
	if err := memCache.Set(ctx, BuildResultKey("fp-corrupt"), []byte("{broken"), time.Minute); err != nil {
		t.Fatalf("failed to seed corrupted entry: %v", err)
	}

	_, found, err := results.Get(ctx, "fp-corrupt")
	if err != nil {
		t.Fatalf("corrupted entry should not surface an error: %v", err)
	}
	if found {
		t.Error("corrupted entry should be treated as a miss")
	}

	// Повреждённая запись удаляется
	if exists, _ := memCache.Exists(ctx, BuildResultKey("fp-corrupt")); exists {
		t.Error("corrupted entry should be deleted")
	}
}

func TestResultCache_Invalidate(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	results := NewResultCache(memCache, 5*time.Minute)
	ctx := context.Background()

	if err := results.Set(ctx, sampleAggregate("fp-inv"), 0); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := results.Invalidate(ctx, "fp-inv"); err != nil {
		t.Fatalf("failed to invalidate: %v", err)
	}

	_, found, _ := results.Get(ctx, "fp-inv")
	if found {
		t.Error("invalidated fingerprint should be a miss")
	}
}

func TestResultCache_InvalidateAll(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	results := NewResultCache(memCache, 5*time.Minute)
	ctx := context.Background()

	for _, fp := range []string{"fp-a", "fp-b", "fp-c"} {
		if err := results.Set(ctx, sampleAggregate(fp), 0); err != nil {
			t.Fatalf("failed to set %s: %v", fp, err)
		}
	}

	deleted, err := results.InvalidateAll(ctx)
	if err != nil {
		t.Fatalf("failed to invalidate all: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
}

func TestResultCache_Latest(t *testing.T) {
	memCache := NewMemoryCache(nil)
	defer memCache.Close()

	results := NewResultCache(memCache, 5*time.Minute)
	ctx := context.Background()

	rec := &domain.Record{
		ID:           "rec-1",
		SourceID:     "sensor-42",
		Timestamp:    time.Now().UTC().Truncate(time.Second),
		DataType:     domain.DataTypeSensorLoad,
		Payload:      map[string]any{"node_id": "power-1", "load": 120.5},
		QualityScore: 0.9,
	}

	if err := results.SetLatest(ctx, rec, 0); err != nil {
		t.Fatalf("failed to set latest: %v", err)
	}

	got, found, err := results.GetLatest(ctx, "sensor-42")
	if err != nil {
		t.Fatalf("failed to get latest: %v", err)
	}
	if !found {
		t.Fatal("expected latest record to be cached")
	}
	if got.ID != "rec-1" || got.DataType != domain.DataTypeSensorLoad {
		t.Errorf("unexpected record: %+v", got)
	}

	_, found, _ = results.GetLatest(ctx, "unknown-source")
	if found {
		t.Error("unknown source should be a miss")
	}
}
