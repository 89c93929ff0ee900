package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"stratum/pkg/domain"
)

// causeOf восстанавливает лес причин прогона из таймлайна:
// для каждого узла берётся причина его первого отказа
func causeOf(r *domain.RunResult) map[domain.NodeID]domain.NodeID {
	causes := make(map[domain.NodeID]domain.NodeID, len(r.TimeToFailure))
	for _, ev := range r.Timeline {
		if _, seen := causes[ev.Node]; !seen {
			causes[ev.Node] = ev.Cause
		}
	}
	return causes
}

// chainFrom строит цепочку причин от корня каскада до узла.
// Возвращает nil для стресс-отказов без атрибуции и на случай
// цикла в данных.
func chainFrom(id domain.NodeID, causes map[domain.NodeID]domain.NodeID) []domain.NodeID {
	var rev []domain.NodeID
	seen := make(map[domain.NodeID]bool)

	cur := id
	for {
		if seen[cur] {
			return nil
		}
		seen[cur] = true
		rev = append(rev, cur)

		cause, ok := causes[cur]
		if !ok || cause == "" {
			return nil // стресс-отказ, цепочка не атрибутируется
		}
		if cause == cur {
			break // корень: стартовый отказ указывает сам на себя
		}
		cur = cause
	}

	chain := make([]domain.NodeID, len(rev))
	for i, n := range rev {
		chain[len(rev)-1-i] = n
	}
	return chain
}

// maxCascadeDepth - длина самой длинной цепочки причин в хопах
func maxCascadeDepth(results []*domain.RunResult) int {
	depth := 0
	for _, r := range results {
		causes := causeOf(r)
		for id := range r.TimeToFailure {
			if chain := chainFrom(id, causes); len(chain)-1 > depth {
				depth = len(chain) - 1
			}
		}
	}
	return depth
}

// criticalPaths находит самые частые цепочки распространения отказа.
// Цепочки из одного узла (стартовые отказы без каскада) не считаются.
func (e *Engine) criticalPaths(
	results []*domain.RunResult,
	scores map[domain.NodeID]float64,
) []domain.CriticalPath {
	type pathStat struct {
		nodes []domain.NodeID
		count int
	}
	stats := make(map[string]*pathStat)

	for _, r := range results {
		causes := causeOf(r)
		// Листья леса причин: узлы, не являющиеся причиной чужого отказа
		isCause := make(map[domain.NodeID]bool, len(causes))
		for id, c := range causes {
			if c != "" && c != id {
				isCause[c] = true
			}
		}

		seenInRun := make(map[string]bool)
		for id := range r.TimeToFailure {
			if isCause[id] {
				continue
			}
			chain := chainFrom(id, causes)
			if len(chain) < 2 {
				continue
			}
			key := joinPath(chain)
			if seenInRun[key] {
				continue
			}
			seenInRun[key] = true
			if st, ok := stats[key]; ok {
				st.count++
			} else {
				stats[key] = &pathStat{nodes: chain, count: 1}
			}
		}
	}

	paths := make([]domain.CriticalPath, 0, len(stats))
	for _, st := range stats {
		var crit float64
		for _, id := range st.nodes {
			crit += scores[id]
		}
		paths = append(paths, domain.CriticalPath{
			Nodes:            st.nodes,
			Frequency:        st.count,
			Share:            float64(st.count) / float64(len(results)),
			TotalCriticality: crit,
		})
	}

	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Frequency != paths[j].Frequency {
			return paths[i].Frequency > paths[j].Frequency
		}
		if paths[i].TotalCriticality != paths[j].TotalCriticality {
			return paths[i].TotalCriticality > paths[j].TotalCriticality
		}
		return joinPath(paths[i].Nodes) < joinPath(paths[j].Nodes)
	})

	topK := e.cfg.TopKCriticalPaths
	if topK <= 0 {
		topK = 5
	}
	if len(paths) > topK {
		paths = paths[:topK]
	}
	return paths
}

// bottlenecks оценивает маржинальный вклад узлов в ущерб: из каждого
// прогона виртуально вычитается поддерево причин кандидата, разница
// в ущербе усредняется по прогонам.
func (e *Engine) bottlenecks(
	snap *domain.Snapshot,
	scores map[domain.NodeID]float64,
	req *domain.SimulationRequest,
	results []*domain.RunResult,
	failureProb map[domain.NodeID]float64,
	initialSet map[domain.NodeID]bool,
) []domain.Bottleneck {
	const maxCandidates = 20

	type freq struct {
		id domain.NodeID
		p  float64
	}
	candidates := make([]freq, 0, len(failureProb))
	for id, p := range failureProb {
		if initialSet[id] {
			continue
		}
		candidates = append(candidates, freq{id: id, p: p})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].p != candidates[j].p {
			return candidates[i].p > candidates[j].p
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	if len(candidates) == 0 {
		return nil
	}

	tau := req.HorizonMinutes / 4

	contribution := func(id domain.NodeID, t float64) float64 {
		penalty := 0.0
		if tau > 0 {
			penalty = math.Exp(-t / tau)
		}
		return scores[id] * (1 + penalty)
	}

	marginal := make(map[domain.NodeID]float64, len(candidates))
	for _, r := range results {
		causes := causeOf(r)
		for _, cand := range candidates {
			if _, down := r.TimeToFailure[cand.id]; !down {
				continue
			}
			// Сумма вкладов узлов, чья цепочка причин проходит
			// через кандидата, включая его самого
			var removed float64
			for id, t := range r.TimeToFailure {
				if inSubtree(id, cand.id, causes) {
					removed += contribution(id, t)
				}
			}
			marginal[cand.id] += removed
		}
	}

	n := float64(len(results))
	bns := make([]domain.Bottleneck, 0, len(candidates))
	for _, cand := range candidates {
		bns = append(bns, domain.Bottleneck{
			Node:           cand.id,
			MarginalImpact: marginal[cand.id] / n,
			FailureShare:   cand.p,
		})
	}

	sort.Slice(bns, func(i, j int) bool {
		if bns[i].MarginalImpact != bns[j].MarginalImpact {
			return bns[i].MarginalImpact > bns[j].MarginalImpact
		}
		return bns[i].Node < bns[j].Node
	})

	topK := e.cfg.TopKBottlenecks
	if topK <= 0 {
		topK = 10
	}
	if len(bns) > topK {
		bns = bns[:topK]
	}
	return bns
}

// inSubtree проверяет, проходит ли цепочка причин узла через root
func inSubtree(id, root domain.NodeID, causes map[domain.NodeID]domain.NodeID) bool {
	seen := make(map[domain.NodeID]bool)
	cur := id
	for {
		if cur == root {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true

		cause, ok := causes[cur]
		if !ok || cause == "" || cause == cur {
			return false
		}
		cur = cause
	}
}

// recommendations формирует короткие операционные рекомендации по агрегату
func (e *Engine) recommendations(snap *domain.Snapshot, agg *domain.AggregateResult) []string {
	var recs []string

	if agg.CascadeProbability > 0.5 {
		recs = append(recs, fmt.Sprintf(
			"cascade occurs in %.0f%% of runs: isolate the initial failure domain or add circuit breakers",
			agg.CascadeProbability*100))
	}

	if len(agg.Bottlenecks) > 0 {
		top := agg.Bottlenecks[0]
		if node := snap.Nodes[top.Node]; node != nil {
			recs = append(recs, fmt.Sprintf(
				"node %s (%s) is the main bottleneck (marginal impact %.2f): add redundant supply paths",
				top.Node, node.Kind, top.MarginalImpact))
		}
	}

	type vulnerable struct {
		id domain.NodeID
		p  float64
	}
	var vuln []vulnerable
	for id, p := range agg.FailureProbability {
		if p >= 0.8 {
			vuln = append(vuln, vulnerable{id: id, p: p})
		}
	}
	sort.Slice(vuln, func(i, j int) bool {
		if vuln[i].p != vuln[j].p {
			return vuln[i].p > vuln[j].p
		}
		return vuln[i].id < vuln[j].id
	})
	if len(vuln) > 3 {
		vuln = vuln[:3]
	}
	for _, v := range vuln {
		recs = append(recs, fmt.Sprintf(
			"node %s fails in %.0f%% of runs: increase capacity or harden against the event",
			v.id, v.p*100))
	}

	if agg.CascadeDepth >= 4 {
		recs = append(recs, fmt.Sprintf(
			"cascade depth reaches %d hops: review dependency chains for decoupling points",
			agg.CascadeDepth))
	}

	return recs
}

func joinPath(nodes []domain.NodeID) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = string(n)
	}
	return strings.Join(parts, " -> ")
}
