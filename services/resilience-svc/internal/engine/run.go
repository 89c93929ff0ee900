package engine

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"stratum/pkg/apperror"
	"stratum/pkg/domain"
)

// runState - состояние одного Monte-Carlo прогона
type runState struct {
	snap *domain.Snapshot
	req  *domain.SimulationRequest

	ids []domain.NodeID // узлы затронутого подграфа, отсортированы

	failed  map[domain.NodeID]bool
	tFailed map[domain.NodeID]float64                   // первое время отказа, минуты
	cause   map[domain.NodeID]domain.NodeID             // источник отказа; сам узел для стартовых
	extra   map[domain.NodeID]float64                   // перераспределённая нагрузка
	ledger  map[domain.NodeID]map[domain.NodeID]float64 // кто кому отдал нагрузку

	timeline []domain.FailureEvent
}

func newRunState(snap *domain.Snapshot, req *domain.SimulationRequest, sub []domain.NodeID) *runState {
	return &runState{
		snap:    snap,
		req:     req,
		ids:     sub,
		failed:  make(map[domain.NodeID]bool),
		tFailed: make(map[domain.NodeID]float64),
		cause:   make(map[domain.NodeID]domain.NodeID),
		extra:   make(map[domain.NodeID]float64),
		ledger:  make(map[domain.NodeID]map[domain.NodeID]float64),
	}
}

// fail отмечает отказ узла и фиксирует его в таймлайне.
// Время первого отказа не перезаписывается повторными отказами.
func (st *runState) fail(id domain.NodeID, t float64, cause domain.NodeID) {
	st.failed[id] = true
	if _, seen := st.tFailed[id]; !seen {
		st.tFailed[id] = t
		st.cause[id] = cause
	}
	st.timeline = append(st.timeline, domain.FailureEvent{
		TimeMinutes: t,
		Node:        id,
		Cause:       cause,
	})
}

// redistribute раздаёт долю нагрузки отказавшего узла его живым
// зависимым (рёбра X -> id) поровну
func (st *runState) redistribute(id domain.NodeID, alpha float64) {
	node := st.snap.Nodes[id]
	amount := alpha * (node.Load + st.extra[id])
	if amount <= 0 {
		return
	}

	var alive []domain.NodeID
	for _, dep := range st.snap.In[id] {
		if !st.failed[dep] {
			alive = append(alive, dep)
		}
	}
	if len(alive) == 0 {
		return
	}

	share := amount / float64(len(alive))
	given := make(map[domain.NodeID]float64, len(alive))
	for _, dep := range alive {
		st.extra[dep] += share
		given[dep] = share
	}
	st.ledger[id] = given
}

// recover возвращает узел в строй и забирает розданную нагрузку обратно
func (st *runState) recover(id domain.NodeID) {
	st.failed[id] = false
	for dep, share := range st.ledger[id] {
		st.extra[dep] -= share
		if st.extra[dep] < 0 {
			st.extra[dep] = 0
		}
	}
	delete(st.ledger, id)
}

// frontierEmpty сообщает, что ни у одного отказавшего узла
// не осталось живых зависимых, которым мог бы передаться отказ
func (st *runState) frontierEmpty() bool {
	for id, down := range st.failed {
		if !down {
			continue
		}
		for _, dep := range st.snap.In[id] {
			if !st.failed[dep] {
				return false
			}
		}
	}
	return true
}

// runOnce выполняет один прогон каскадной симуляции.
// Детерминирован при фиксированном seed: обход узлов лексикографический,
// все случайные решения идут от одного rng.
func (e *Engine) runOnce(
	ctx context.Context,
	snap *domain.Snapshot,
	scores map[domain.NodeID]float64,
	req *domain.SimulationRequest,
	sub []domain.NodeID,
	seed uint64,
) (*domain.RunResult, error) {
	rng := rand.New(rand.NewSource(int64(seed)))
	st := newRunState(snap, req, sub)

	for _, id := range sortedInitial(req) {
		if snap.Has(id) {
			st.fail(id, 0, id)
		}
	}

	step := req.TimeStepMinutes
	ticks := req.Ticks()
	quiet := 0

	for i := 1; i <= ticks; i++ {
		// Кооперативная отмена на границе тика
		if ctx.Err() != nil {
			return nil, apperror.ErrCancelled
		}

		t := float64(i) * step
		changed := e.tick(st, t, rng)

		if changed {
			quiet = 0
		} else {
			quiet++
			if quiet >= e.quiescence {
				break
			}
		}

		if !req.RecoveryEnabled && st.frontierEmpty() {
			break
		}
	}

	return st.finish(scores), nil
}

// tick выполняет один шаг симуляции, возвращает признак изменений
func (e *Engine) tick(st *runState, t float64, rng *rand.Rand) bool {
	req := st.req
	snap := st.snap

	// Кандидаты на отказ; сэмплирование независимо внутри тика,
	// поэтому новые отказы применяются после прохода по всем узлам
	type pendingFailure struct {
		id    domain.NodeID
		t     float64
		cause domain.NodeID
	}
	var pending []pendingFailure

	for _, id := range st.ids {
		if st.failed[id] {
			continue
		}
		node := snap.Nodes[id]

		// Noisy-OR по отказавшим зависимостям (рёбра id -> u)
		survive := 1.0
		bestHazard := 0.0
		var bestUpstream domain.NodeID
		var bestLatency float64

		for _, u := range snap.Out[id] {
			if !st.failed[u] {
				continue
			}
			edge := snap.Edge(id, u)
			hazard := req.BasePropagationProbability *
				edge.PropagationProb * edge.Strength *
				e.eventMultiplier(&req.Event, snap.Nodes[u])
			if hazard <= 0 {
				continue
			}
			if hazard > 1 {
				hazard = 1
			}
			survive *= 1 - hazard
			// Tie-break детерминирован: Out отсортирован, строгое сравнение
			// оставляет узел с меньшим NodeID
			if hazard > bestHazard {
				bestHazard = hazard
				bestUpstream = u
				bestLatency = edge.LatencyMS
			}
		}
		p := 1 - survive

		// Стресс от перераспределённой нагрузки
		if node.Capacity > 0 && !math.IsInf(req.LoadThresholdMultiplier, 1) {
			loadFactor := (node.Load + st.extra[id]) / node.Capacity
			if excess := loadFactor - req.LoadThresholdMultiplier; excess > 0 {
				stressP := math.Min(1, excess*e.stressK)
				p = 1 - (1-p)*(1-stressP)
			}
		}

		if p <= 0 {
			continue
		}
		if rng.Float64() >= p {
			continue
		}

		if bestUpstream != "" {
			// Время отказа отсчитывается от отказа причины плюс задержка
			// ребра, но не раньше тика, на котором отказ обнаружен
			ft := st.tFailed[bestUpstream] + bestLatency/60000
			if ft < t {
				ft = t
			}
			pending = append(pending, pendingFailure{
				id:    id,
				t:     ft,
				cause: bestUpstream,
			})
		} else {
			// Чисто стрессовый отказ: причина не атрибутируется
			pending = append(pending, pendingFailure{id: id, t: t})
		}
	}

	for _, pf := range pending {
		st.fail(pf.id, pf.t, pf.cause)
		st.redistribute(pf.id, e.alpha)
	}

	changed := len(pending) > 0

	// Восстановление: узел со всеми живыми зависимостями
	// поднимается с вероятностью step/mean_recovery_time за тик
	if req.RecoveryEnabled {
		recoverP := math.Min(1, req.TimeStepMinutes/req.MeanRecoveryTimeMinutes)
		for _, id := range st.ids {
			if !st.failed[id] {
				continue
			}
			eligible := true
			for _, u := range snap.Out[id] {
				if st.failed[u] {
					eligible = false
					break
				}
			}
			if !eligible {
				continue
			}
			if rng.Float64() < recoverP {
				st.recover(id)
				changed = true
			}
		}
	}

	return changed
}

// finish собирает RunResult из состояния прогона
func (st *runState) finish(scores map[domain.NodeID]float64) *domain.RunResult {
	tau := st.req.HorizonMinutes / 4

	var impact float64
	for id, t := range st.tFailed {
		penalty := 0.0
		if tau > 0 {
			penalty = math.Exp(-t / tau)
		}
		impact += scores[id] * (1 + penalty)
	}

	failed := make(map[domain.NodeID]bool, len(st.failed))
	for id, down := range st.failed {
		if down {
			failed[id] = true
		}
	}

	ttf := make(map[domain.NodeID]float64, len(st.tFailed))
	for id, t := range st.tFailed {
		ttf[id] = t
	}

	timeline := append([]domain.FailureEvent(nil), st.timeline...)
	sort.Slice(timeline, func(i, j int) bool {
		if timeline[i].TimeMinutes != timeline[j].TimeMinutes {
			return timeline[i].TimeMinutes < timeline[j].TimeMinutes
		}
		return timeline[i].Node < timeline[j].Node
	})

	return &domain.RunResult{
		Timeline:      timeline,
		Failed:        failed,
		TimeToFailure: ttf,
		Impact:        impact,
	}
}

// sortedInitial возвращает стартовые отказы в детерминированном порядке
func sortedInitial(req *domain.SimulationRequest) []domain.NodeID {
	initial := append([]domain.NodeID(nil), req.Initial()...)
	sort.Slice(initial, func(i, j int) bool { return initial[i] < initial[j] })
	return initial
}
