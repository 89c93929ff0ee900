package scoring

import (
	"stratum/pkg/config"
	"stratum/pkg/domain"
)

// Scorer - подключаемая функция критичности.
// Контракт: оценки в [0, 1] для каждого узла среза; обученная модель
// может заменить дефолтную реализацию без изменения остального ядра.
type Scorer interface {
	Score(snap *domain.Snapshot) map[domain.NodeID]float64
}

// CentralityScorer - дефолтный аналитический скорер: смесь трёх
// нормализованных сигналов (reachability, взвешенная степень, стресс).
type CentralityScorer struct {
	reachDepth  int
	reachWeight float64
	degWeight   float64
	strWeight   float64
}

// NewCentralityScorer создаёт скорер с параметрами из конфигурации
func NewCentralityScorer(cfg config.ScoringConfig) *CentralityScorer {
	depth := cfg.ReachabilityDepth
	if depth <= 0 {
		depth = 4
	}
	return &CentralityScorer{
		reachDepth:  depth,
		reachWeight: cfg.ReachabilityWeight,
		degWeight:   cfg.DegreeWeight,
		strWeight:   cfg.StressWeight,
	}
}

// Score считает оценки критичности для всех узлов среза
func (c *CentralityScorer) Score(snap *domain.Snapshot) map[domain.NodeID]float64 {
	n := len(snap.Nodes)
	scores := make(map[domain.NodeID]float64, n)
	if n == 0 {
		return scores
	}

	degree := c.weightedDegree(snap)
	reach := c.reachabilityMass(snap)

	for id, node := range snap.Nodes {
		stress := (1 - node.Health) * node.LoadFactor()
		score := c.reachWeight*reach[id] + c.degWeight*degree[id] + c.strWeight*stress
		scores[id] = clamp01(score)
	}

	return scores
}

// weightedDegree - сумма strength входящих рёбер (кто зависит от узла),
// нормированная на максимум по графу
func (c *CentralityScorer) weightedDegree(snap *domain.Snapshot) map[domain.NodeID]float64 {
	raw := make(map[domain.NodeID]float64, len(snap.Nodes))
	var max float64

	for key, e := range snap.Edges {
		raw[key.Dst] += e.Strength
		if raw[key.Dst] > max {
			max = raw[key.Dst]
		}
	}

	if max <= 0 {
		return raw
	}
	for id := range raw {
		raw[id] /= max
	}
	return raw
}

// reachabilityMass - доля узлов, транзитивно зависящих от данного.
// Обход идёт по входящим рёбрам (X -> id означает, что X зависит от id)
// до ограниченной глубины.
func (c *CentralityScorer) reachabilityMass(snap *domain.Snapshot) map[domain.NodeID]float64 {
	total := len(snap.Nodes)
	mass := make(map[domain.NodeID]float64, total)
	if total <= 1 {
		return mass
	}

	for id := range snap.Nodes {
		reached := snap.Reachable([]domain.NodeID{id}, domain.DirectionIn, c.reachDepth)
		// Сам узел не считается своим зависимым
		mass[id] = float64(len(reached)-1) / float64(total-1)
	}

	return mass
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
