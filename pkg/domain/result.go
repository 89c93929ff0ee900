package domain

import "math"

// NeverFailed обозначает "узел не отказал" в картах времени отказа
var NeverFailed = math.Inf(1)

// FailureEvent - одно событие отказа в таймлайне прогона
type FailureEvent struct {
	TimeMinutes float64 `json:"t_minutes"`
	Node        NodeID  `json:"node_id"`
	Cause       NodeID  `json:"cause_id,omitempty"` // пусто для стресс-отказов, сам узел для стартовых
}

// RunResult - результат одного Monte-Carlo прогона
type RunResult struct {
	Timeline      []FailureEvent     `json:"timeline"`
	Failed        map[NodeID]bool    `json:"failed"`
	TimeToFailure map[NodeID]float64 `json:"time_to_failure"` // минуты; NeverFailed если не отказал
	Impact        float64            `json:"impact"`
}

// ConfidenceInterval - доверительный интервал по прогонам
type ConfidenceInterval struct {
	Level float64 `json:"level"`
	Mean  float64 `json:"mean"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// CriticalPath - частая цепочка распространения отказа
type CriticalPath struct {
	Nodes            []NodeID `json:"nodes"`
	Frequency        int      `json:"frequency"`
	Share            float64  `json:"share"` // доля прогонов с этой цепочкой
	TotalCriticality float64  `json:"total_criticality"`
}

// Bottleneck - узел с наибольшим маржинальным вкладом в ущерб
type Bottleneck struct {
	Node           NodeID  `json:"node_id"`
	MarginalImpact float64 `json:"marginal_impact"`
	FailureShare   float64 `json:"failure_share"`
}

// AggregateResult - агрегат по N прогонам симуляции
type AggregateResult struct {
	ScenarioName string `json:"scenario_name"`
	Fingerprint  string `json:"fingerprint"`

	FailureProbability map[NodeID]float64 `json:"failure_probability"`
	MeanTimeToFailure  map[NodeID]float64 `json:"mean_time_to_failure"` // условное по отказу, минуты
	FailureHistogram   map[string]int     `json:"failure_histogram"`    // число узлов по корзинам вероятности

	AffectedNodesCI     ConfidenceInterval `json:"affected_nodes_ci"`
	ImpactCI            ConfidenceInterval `json:"impact_ci"`
	AffectedPercentiles map[string]float64 `json:"affected_percentiles"` // p5..p95

	CriticalPaths []CriticalPath `json:"critical_paths"`
	Bottlenecks   []Bottleneck   `json:"bottleneck_nodes"`

	CascadeDepth       int     `json:"cascade_depth"`       // максимальная длина цепочки причин
	CascadeProbability float64 `json:"cascade_probability"` // доля прогонов с отказами сверх стартовых

	Recommendations []string `json:"recommendations"`

	RunsRequested  int  `json:"runs_requested"`
	RunsCompleted  int  `json:"runs_completed"`
	Partial        bool `json:"partial"`
	QualityWarning bool `json:"quality_warning"`

	ComputationTimeSeconds float64 `json:"computation_time_seconds"`
}
