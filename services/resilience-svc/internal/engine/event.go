package engine

import (
	"fmt"

	"stratum/pkg/domain"
)

// Границы итогового множителя события
const (
	eventMultiplierMin = 0.5
	eventMultiplierMax = 3.0
)

// eventMultiplier считает множитель распространения для ребра,
// ведущего к отказавшему узлу upstream. Состоит из табличного
// множителя по паре (вид события, вид узла), усиления по severity
// и погодных факторов; итог клампится в [0.5, 3.0].
func (e *Engine) eventMultiplier(ev *domain.Event, upstream *domain.Node) float64 {
	mult := 1.0

	if tabled, ok := e.multipliers[multiplierKey(ev.Kind, upstream.Kind)]; ok {
		mult = tabled
	}

	// Severity линейно масштабирует табличную часть: 0 -> 0.5x, 1 -> 1.5x
	mult *= 0.5 + ev.Severity

	if env := ev.Environment; env != nil {
		if env.TemperatureC > 35 {
			mult *= 1.2
		}
		if env.WindSpeedKmh > 50 {
			mult *= 1.3
		}
		if env.PrecipitationMM > 100 {
			mult *= 1.25
		}
	}

	if mult < eventMultiplierMin {
		return eventMultiplierMin
	}
	if mult > eventMultiplierMax {
		return eventMultiplierMax
	}
	return mult
}

// multiplierKey - ключ таблицы множителей "<event_kind>.<node_kind>"
func multiplierKey(ev domain.EventKind, nk domain.NodeKind) string {
	return fmt.Sprintf("%s.%s", ev, nk)
}
