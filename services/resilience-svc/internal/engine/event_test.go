package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stratum/pkg/domain"
)

func TestEventMultiplier(t *testing.T) {
	cfg := engineConfig()
	cfg.EventMultipliers = map[string]float64{"hurricane.power": 2.0}
	eng := NewEngine(cfg)

	power := &domain.Node{ID: "power", Kind: domain.KindPower}
	water := &domain.Node{ID: "water", Kind: domain.KindWater}

	t.Run("tabled multiplier", func(t *testing.T) {
		ev := &domain.Event{Kind: domain.EventHurricane, Severity: 0.5}
		// 2.0 * (0.5 + 0.5) = 2.0
		assert.Equal(t, 2.0, eng.eventMultiplier(ev, power))
	})

	t.Run("missing table entry defaults to one", func(t *testing.T) {
		ev := &domain.Event{Kind: domain.EventHurricane, Severity: 0.5}
		assert.Equal(t, 1.0, eng.eventMultiplier(ev, water))
	})

	t.Run("severity scales linearly", func(t *testing.T) {
		low := eng.eventMultiplier(&domain.Event{Kind: domain.EventHurricane, Severity: 0}, water)
		high := eng.eventMultiplier(&domain.Event{Kind: domain.EventHurricane, Severity: 1}, water)
		assert.Equal(t, 0.5, low)
		assert.Equal(t, 1.5, high)
	})

	t.Run("environment factors", func(t *testing.T) {
		ev := &domain.Event{
			Kind:     domain.EventHurricane,
			Severity: 0.5,
			Environment: &domain.Environment{
				TemperatureC: 40,
				WindSpeedKmh: 80,
			},
		}
		// 1.0 * 1.2 * 1.3 = 1.56
		assert.InDelta(t, 1.56, eng.eventMultiplier(ev, water), 1e-9)
	})

	t.Run("clamped to upper bound", func(t *testing.T) {
		ev := &domain.Event{
			Kind:     domain.EventHurricane,
			Severity: 1,
			Environment: &domain.Environment{
				TemperatureC:    40,
				WindSpeedKmh:    80,
				PrecipitationMM: 150,
			},
		}
		// 2.0 * 1.5 * 1.2 * 1.3 * 1.25 заведомо выше потолка
		assert.Equal(t, eventMultiplierMax, eng.eventMultiplier(ev, power))
	})

	t.Run("clamped to lower bound", func(t *testing.T) {
		cfg := engineConfig()
		cfg.EventMultipliers = map[string]float64{"flood.telecom": 0.1}
		eng := NewEngine(cfg)
		telecom := &domain.Node{ID: "t", Kind: domain.KindTelecom}

		ev := &domain.Event{Kind: domain.EventFlood, Severity: 0}
		assert.Equal(t, eventMultiplierMin, eng.eventMultiplier(ev, telecom))
	})
}
