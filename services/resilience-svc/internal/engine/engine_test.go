package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"stratum/pkg/apperror"
	"stratum/pkg/config"
	"stratum/pkg/domain"
	"stratum/pkg/logger"
)

func init() {
	logger.Init("error")
}

func engineConfig() config.EngineConfig {
	return config.EngineConfig{
		WorkBudget:         10_000_000,
		MaxHorizonMinutes:  168 * 60,
		MinTimeStepMinutes: 0.1,
		RedistributionFrac: 0.5,
		StressSensitivity:  0.5,
		QuiescenceTicks:    3,
		ConfidenceLevel:    0.95,
	}
}

// Цепочка clinic -> water -> pump -> power, hospital -> power,
// плюс изолированный remote. Отказ power каскадирует вверх по цепочке.
func chainSnapshot(version uint64, propagation float64) *domain.Snapshot {
	nodes := map[domain.NodeID]*domain.Node{
		"power":    {ID: "power", Kind: domain.KindPower, Capacity: 100, Load: 50, Health: 1, Criticality: 0.9},
		"pump":     {ID: "pump", Kind: domain.KindWater, Capacity: 100, Load: 50, Health: 1, Criticality: 0.6},
		"water":    {ID: "water", Kind: domain.KindWater, Capacity: 100, Load: 50, Health: 1, Criticality: 0.5},
		"clinic":   {ID: "clinic", Kind: domain.KindHealthcare, Capacity: 100, Load: 50, Health: 1, Criticality: 0.4},
		"hospital": {ID: "hospital", Kind: domain.KindHealthcare, Capacity: 100, Load: 50, Health: 1, Criticality: 0.8},
		"remote":   {ID: "remote", Kind: domain.KindTelecom, Capacity: 100, Load: 50, Health: 1, Criticality: 0.3},
	}
	edges := []*domain.Edge{
		{Src: "pump", Dst: "power", Strength: 1, PropagationProb: propagation},
		{Src: "hospital", Dst: "power", Strength: 1, PropagationProb: propagation},
		{Src: "water", Dst: "pump", Strength: 1, PropagationProb: propagation},
		{Src: "clinic", Dst: "water", Strength: 1, PropagationProb: propagation},
	}

	s := &domain.Snapshot{
		Version: version,
		Nodes:   nodes,
		Edges:   make(map[domain.EdgeKey]*domain.Edge),
		Out:     make(map[domain.NodeID][]domain.NodeID),
		In:      make(map[domain.NodeID][]domain.NodeID),
	}
	for _, e := range edges {
		s.Edges[e.Key()] = e
		s.Out[e.Src] = append(s.Out[e.Src], e.Dst)
		s.In[e.Dst] = append(s.In[e.Dst], e.Src)
	}
	return s
}

func testScores(snap *domain.Snapshot) map[domain.NodeID]float64 {
	scores := make(map[domain.NodeID]float64, len(snap.Nodes))
	for id, n := range snap.Nodes {
		scores[id] = n.Criticality
	}
	return scores
}

// Запрос с гарантированным распространением: hazard на каждом ребре
// равен единице (1.0 * 1.0 * 1.0 * множитель 1.0 при severity 0.5).
func certainRequest(runs int) *domain.SimulationRequest {
	return &domain.SimulationRequest{
		ScenarioName:               "substation outage",
		Event:                      domain.Event{Kind: domain.EventPowerOutage, Severity: 0.5},
		InitialFailures:            []domain.NodeID{"power"},
		HorizonMinutes:             60,
		TimeStepMinutes:            5,
		MonteCarloRuns:             runs,
		ConfidenceLevel:            0.95,
		BasePropagationProbability: 1.0,
		LoadThresholdMultiplier:    1.2,
	}
}

func TestEngine_Run_Deterministic(t *testing.T) {
	eng := NewEngine(engineConfig())
	snap := chainSnapshot(7, 0.4)
	scores := testScores(snap)

	req1 := certainRequest(200)
	req1.BasePropagationProbability = 0.3
	req2 := certainRequest(200)
	req2.BasePropagationProbability = 0.3

	agg1, err := eng.Run(context.Background(), snap, scores, req1)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	agg2, err := eng.Run(context.Background(), snap, scores, req2)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if agg1.Fingerprint != agg2.Fingerprint {
		t.Errorf("fingerprints differ: %s != %s", agg1.Fingerprint, agg2.Fingerprint)
	}
	if !reflect.DeepEqual(agg1.FailureProbability, agg2.FailureProbability) {
		t.Error("same fingerprint should reproduce identical failure probabilities")
	}
	if !reflect.DeepEqual(agg1.MeanTimeToFailure, agg2.MeanTimeToFailure) {
		t.Error("same fingerprint should reproduce identical mean times to failure")
	}
	if agg1.CascadeDepth != agg2.CascadeDepth {
		t.Errorf("cascade depth differs: %d != %d", agg1.CascadeDepth, agg2.CascadeDepth)
	}
}

func TestEngine_Run_InitialFailures(t *testing.T) {
	eng := NewEngine(engineConfig())
	snap := chainSnapshot(1, 1)
	req := certainRequest(50)

	agg, err := eng.Run(context.Background(), snap, testScores(snap), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if agg.FailureProbability["power"] != 1 {
		t.Errorf("initial node failure probability = %v, want 1", agg.FailureProbability["power"])
	}
	if agg.MeanTimeToFailure["power"] != 0 {
		t.Errorf("initial node mean TTF = %v, want 0", agg.MeanTimeToFailure["power"])
	}
}

func TestEngine_Run_CertainCascade(t *testing.T) {
	eng := NewEngine(engineConfig())
	snap := chainSnapshot(1, 1)
	req := certainRequest(50)

	agg, err := eng.Run(context.Background(), snap, testScores(snap), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// При hazard = 1 каскад детерминирован: по тику на хоп
	for _, id := range []domain.NodeID{"pump", "hospital", "water", "clinic"} {
		if agg.FailureProbability[id] != 1 {
			t.Errorf("failure probability for %s = %v, want 1", id, agg.FailureProbability[id])
		}
	}
	if agg.MeanTimeToFailure["pump"] != 5 {
		t.Errorf("pump mean TTF = %v, want 5", agg.MeanTimeToFailure["pump"])
	}
	if agg.MeanTimeToFailure["water"] != 10 {
		t.Errorf("water mean TTF = %v, want 10", agg.MeanTimeToFailure["water"])
	}
	if agg.MeanTimeToFailure["clinic"] != 15 {
		t.Errorf("clinic mean TTF = %v, want 15", agg.MeanTimeToFailure["clinic"])
	}

	if agg.CascadeDepth != 3 {
		t.Errorf("cascade depth = %d, want 3", agg.CascadeDepth)
	}
	if agg.CascadeProbability != 1 {
		t.Errorf("cascade probability = %v, want 1", agg.CascadeProbability)
	}

	if len(agg.CriticalPaths) == 0 {
		t.Fatal("expected critical paths")
	}
	top := agg.CriticalPaths[0]
	want := []domain.NodeID{"power", "pump", "water", "clinic"}
	if !reflect.DeepEqual(top.Nodes, want) {
		t.Errorf("top path = %v, want %v", top.Nodes, want)
	}
	if top.Share != 1 {
		t.Errorf("top path share = %v, want 1", top.Share)
	}

	if len(agg.Bottlenecks) == 0 {
		t.Fatal("expected bottlenecks")
	}
	// pump перекрывает water и clinic, его маржинальный вклад наибольший
	if agg.Bottlenecks[0].Node != "pump" {
		t.Errorf("top bottleneck = %s, want pump", agg.Bottlenecks[0].Node)
	}
}

func TestEngine_Run_EdgeLatency(t *testing.T) {
	eng := NewEngine(engineConfig())
	snap := chainSnapshot(1, 1)
	for _, e := range snap.Edges {
		e.LatencyMS = 60000
	}
	req := certainRequest(50)
	req.TimeStepMinutes = 1

	agg, err := eng.Run(context.Background(), snap, testScores(snap), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Задержка отсчитывается от отказа причины, а не прибавляется
	// к тику обнаружения: power в 0, дальше по минуте на хоп
	if agg.MeanTimeToFailure["pump"] != 1 {
		t.Errorf("pump mean TTF = %v, want 1", agg.MeanTimeToFailure["pump"])
	}
	if agg.MeanTimeToFailure["hospital"] != 1 {
		t.Errorf("hospital mean TTF = %v, want 1", agg.MeanTimeToFailure["hospital"])
	}
	if agg.MeanTimeToFailure["water"] != 2 {
		t.Errorf("water mean TTF = %v, want 2", agg.MeanTimeToFailure["water"])
	}
	if agg.MeanTimeToFailure["clinic"] != 3 {
		t.Errorf("clinic mean TTF = %v, want 3", agg.MeanTimeToFailure["clinic"])
	}
}

func TestEngine_Run_IsolatedNodeUntouched(t *testing.T) {
	eng := NewEngine(engineConfig())
	snap := chainSnapshot(1, 1)
	req := certainRequest(50)

	agg, err := eng.Run(context.Background(), snap, testScores(snap), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, ok := agg.FailureProbability["remote"]; ok {
		t.Error("node outside the affected subgraph should never fail")
	}
}

func TestEngine_Run_SeverityMonotonic(t *testing.T) {
	eng := NewEngine(engineConfig())
	snap := chainSnapshot(1, 1)
	scores := testScores(snap)

	run := func(severity float64) float64 {
		req := certainRequest(500)
		req.BasePropagationProbability = 0.3
		req.Event.Severity = severity
		agg, err := eng.Run(context.Background(), snap, scores, req)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return agg.FailureProbability["pump"]
	}

	low := run(0)
	high := run(1)
	if high <= low {
		t.Errorf("higher severity should not reduce failure probability: %v <= %v", high, low)
	}
}

func TestEngine_Run_Recovery(t *testing.T) {
	eng := NewEngine(engineConfig())
	snap := chainSnapshot(1, 1)
	req := certainRequest(50)
	req.RecoveryEnabled = true
	req.MeanRecoveryTimeMinutes = 10

	agg, err := eng.Run(context.Background(), snap, testScores(snap), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Восстановление не стирает факт первого отказа
	if agg.FailureProbability["power"] != 1 {
		t.Errorf("power failure probability = %v, want 1", agg.FailureProbability["power"])
	}
	if agg.MeanTimeToFailure["power"] != 0 {
		t.Errorf("power mean TTF = %v, want 0", agg.MeanTimeToFailure["power"])
	}
}

func TestEngine_Run_BudgetExceeded(t *testing.T) {
	cfg := engineConfig()
	cfg.WorkBudget = 10
	eng := NewEngine(cfg)
	snap := chainSnapshot(1, 1)

	_, err := eng.Run(context.Background(), snap, testScores(snap), certainRequest(1000))
	if apperror.Code(err) != apperror.CodeBudgetExceeded {
		t.Fatalf("code = %v, want BUDGET_EXCEEDED", apperror.Code(err))
	}

	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected *apperror.Error")
	}
	if appErr.Details["estimated_work"] == nil || appErr.Details["work_budget"] == nil {
		t.Errorf("budget error should carry work details, got %v", appErr.Details)
	}
}

func TestEngine_Run_Validation(t *testing.T) {
	eng := NewEngine(engineConfig())
	snap := chainSnapshot(1, 1)
	scores := testScores(snap)
	ctx := context.Background()

	t.Run("nil snapshot", func(t *testing.T) {
		_, err := eng.Run(ctx, nil, scores, certainRequest(10))
		if !apperror.Is(err, apperror.CodeNilInput) {
			t.Errorf("code = %v, want NIL_INPUT", apperror.Code(err))
		}
	})

	t.Run("unknown initial node", func(t *testing.T) {
		req := certainRequest(10)
		req.InitialFailures = []domain.NodeID{"missing"}
		_, err := eng.Run(ctx, snap, scores, req)
		if apperror.Code(err) != apperror.CodeNotFound {
			t.Errorf("code = %v, want NOT_FOUND", apperror.Code(err))
		}
	})

	t.Run("invalid request", func(t *testing.T) {
		req := certainRequest(10)
		req.MonteCarloRuns = -5
		_, err := eng.Run(ctx, snap, scores, req)
		if apperror.Code(err) != apperror.CodeInvalidRequest {
			t.Errorf("code = %v, want INVALID_REQUEST", apperror.Code(err))
		}
	})
}

func TestEngine_Run_Cancellation(t *testing.T) {
	eng := NewEngine(engineConfig())
	snap := chainSnapshot(1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Run(ctx, snap, testScores(snap), certainRequest(100))
	if apperror.Code(err) != apperror.CodeCancelled {
		t.Errorf("code = %v, want CANCELLED", apperror.Code(err))
	}
}

func TestEngine_Fingerprint(t *testing.T) {
	eng := NewEngine(engineConfig())
	snap := chainSnapshot(3, 1)

	fp := eng.Fingerprint(snap, certainRequest(100))
	if fp != eng.Fingerprint(snap, certainRequest(100)) {
		t.Error("fingerprint should be stable for equal inputs")
	}

	agg, err := eng.Run(context.Background(), snap, testScores(snap), certainRequest(100))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if agg.Fingerprint != fp {
		t.Errorf("aggregate fingerprint = %s, want %s", agg.Fingerprint, fp)
	}
}

func TestRunSeed(t *testing.T) {
	if runSeed(1, 2, 0) != runSeed(1, 2, 0) {
		t.Error("run seed should be deterministic")
	}
	if runSeed(1, 2, 0) == runSeed(1, 3, 0) {
		t.Error("different run indices should produce different seeds")
	}
	if runSeed(1, 2, 0) == runSeed(1, 2, 1) {
		t.Error("retry attempt should produce a different seed")
	}
}
