package domain

import (
	"fmt"

	"stratum/pkg/apperror"
)

// Значения по умолчанию для параметров симуляции,
// применяются в ApplyDefaults до валидации.
const (
	DefaultTimeStepMinutes     = 5.0
	DefaultBasePropagationProb = 0.3
	DefaultLoadThresholdMult   = 1.2
	DefaultMeanRecoveryMinutes = 12 * 60.0
	DefaultConfidenceLevel     = 0.95
)

// SimulationRequest - параметры каскадной Monte-Carlo симуляции
type SimulationRequest struct {
	ScenarioName    string   `json:"scenario_name"`
	Event           Event    `json:"event"`
	InitialFailures []NodeID `json:"initial_failures"`

	HorizonMinutes  float64 `json:"horizon_minutes"`
	TimeStepMinutes float64 `json:"time_step_minutes"`
	MonteCarloRuns  int     `json:"monte_carlo_runs"`
	ConfidenceLevel float64 `json:"confidence_level"`

	BasePropagationProbability float64 `json:"base_propagation_probability"`
	LoadThresholdMultiplier    float64 `json:"load_threshold_multiplier"`

	RecoveryEnabled         bool    `json:"recovery_enabled"`
	MeanRecoveryTimeMinutes float64 `json:"mean_recovery_time_minutes"`
}

// Initial возвращает стартовые отказы: поле запроса имеет приоритет
// над списком в событии.
func (r *SimulationRequest) Initial() []NodeID {
	if len(r.InitialFailures) > 0 {
		return r.InitialFailures
	}
	return r.Event.InitialFailures
}

// Ticks возвращает число тиков симуляции
func (r *SimulationRequest) Ticks() int {
	if r.TimeStepMinutes <= 0 {
		return 0
	}
	return int(r.HorizonMinutes / r.TimeStepMinutes)
}

// ApplyDefaults заполняет незаданные параметры значениями по умолчанию
func (r *SimulationRequest) ApplyDefaults() {
	if r.TimeStepMinutes == 0 {
		r.TimeStepMinutes = DefaultTimeStepMinutes
	}
	if r.ConfidenceLevel == 0 {
		r.ConfidenceLevel = DefaultConfidenceLevel
	}
	if r.BasePropagationProbability == 0 {
		r.BasePropagationProbability = DefaultBasePropagationProb
	}
	if r.LoadThresholdMultiplier == 0 {
		r.LoadThresholdMultiplier = DefaultLoadThresholdMult
	}
	if r.RecoveryEnabled && r.MeanRecoveryTimeMinutes == 0 {
		r.MeanRecoveryTimeMinutes = DefaultMeanRecoveryMinutes
	}
}

// Validate проверяет параметры запроса.
// Границы горизонта и шага задаются конфигурацией движка.
func (r *SimulationRequest) Validate(maxHorizonMinutes, minStepMinutes float64) error {
	if len(r.Initial()) == 0 {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			"initial_failures must not be empty", "initial_failures")
	}
	if !r.Event.Kind.Valid() {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			fmt.Sprintf("unknown event kind %q", r.Event.Kind), "event.kind")
	}
	if r.Event.Severity < 0 || r.Event.Severity > 1 {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			"event.severity must be in [0, 1]", "event.severity")
	}
	if r.HorizonMinutes <= 0 || r.HorizonMinutes > maxHorizonMinutes {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			fmt.Sprintf("horizon_minutes must be in (0, %g]", maxHorizonMinutes), "horizon_minutes")
	}
	if r.TimeStepMinutes < minStepMinutes || r.TimeStepMinutes > r.HorizonMinutes {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			fmt.Sprintf("time_step_minutes must be in [%g, horizon]", minStepMinutes), "time_step_minutes")
	}
	if r.MonteCarloRuns <= 0 {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			"monte_carlo_runs must be positive", "monte_carlo_runs")
	}
	if r.ConfidenceLevel <= 0 || r.ConfidenceLevel >= 1 {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			"confidence_level must be in (0, 1)", "confidence_level")
	}
	if r.BasePropagationProbability < 0 || r.BasePropagationProbability > 1 {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			"base_propagation_probability must be in [0, 1]", "base_propagation_probability")
	}
	if r.LoadThresholdMultiplier <= 0 {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			"load_threshold_multiplier must be positive", "load_threshold_multiplier")
	}
	if r.RecoveryEnabled && r.MeanRecoveryTimeMinutes <= 0 {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			"mean_recovery_time_minutes must be positive when recovery is enabled", "mean_recovery_time_minutes")
	}
	return nil
}
