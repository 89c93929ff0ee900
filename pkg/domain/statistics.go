package domain

import "sort"

// GraphStatistics - сводка по срезу графа
type GraphStatistics struct {
	NodeCount     int              `json:"node_count"`
	EdgeCount     int              `json:"edge_count"`
	NodesByKind   map[NodeKind]int `json:"nodes_by_kind"`
	MeanLoad      float64          `json:"mean_load_factor"`
	MeanHealth    float64          `json:"mean_health"`
	StressedCount int              `json:"stressed_count"` // load factor > 0.8
	IsolatedCount int              `json:"isolated_count"` // без рёбер в обе стороны
}

// ComputeStatistics считает сводку по срезу
func ComputeStatistics(s *Snapshot) GraphStatistics {
	stats := GraphStatistics{
		NodeCount:   len(s.Nodes),
		EdgeCount:   len(s.Edges),
		NodesByKind: make(map[NodeKind]int),
	}

	var loadSum, healthSum float64
	for id, n := range s.Nodes {
		stats.NodesByKind[n.Kind]++
		loadSum += n.LoadFactor()
		healthSum += n.Health
		if n.Stressed() {
			stats.StressedCount++
		}
		if len(s.Out[id]) == 0 && len(s.In[id]) == 0 {
			stats.IsolatedCount++
		}
	}

	if stats.NodeCount > 0 {
		stats.MeanLoad = loadSum / float64(stats.NodeCount)
		stats.MeanHealth = healthSum / float64(stats.NodeCount)
	}

	return stats
}

// CriticalNode - узел с оценкой критичности для top-k запросов
type CriticalNode struct {
	Node  *Node   `json:"node"`
	Score float64 `json:"score"`
}

// TopCritical возвращает k узлов с наибольшей оценкой.
// Равные оценки упорядочиваются по NodeID.
func TopCritical(s *Snapshot, scores map[NodeID]float64, k int) []CriticalNode {
	if k <= 0 {
		return nil
	}

	ranked := make([]CriticalNode, 0, len(s.Nodes))
	for id, n := range s.Nodes {
		ranked = append(ranked, CriticalNode{Node: n, Score: scores[id]})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Node.ID < ranked[j].Node.ID
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
