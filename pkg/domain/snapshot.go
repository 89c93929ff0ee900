package domain

import "sort"

// Direction - направление обхода рёбер
type Direction string

const (
	DirectionIn   Direction = "in"   // рёбра X -> id (зависящие от узла)
	DirectionOut  Direction = "out"  // рёбра id -> X (зависимости узла)
	DirectionBoth Direction = "both"
)

// Valid проверяет направление обхода
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut || d == DirectionBoth
}

// Snapshot - логически неизменяемый срез графа.
// После выдачи из хранилища никогда не мутирует; все карты принадлежат срезу.
type Snapshot struct {
	Version uint64
	Nodes   map[NodeID]*Node
	Edges   map[EdgeKey]*Edge

	// Списки смежности, отсортированы лексикографически по NodeID
	Out map[NodeID][]NodeID // id -> узлы, от которых id зависит
	In  map[NodeID][]NodeID // id -> узлы, зависящие от id
}

// Node возвращает узел среза или nil
func (s *Snapshot) Node(id NodeID) *Node {
	return s.Nodes[id]
}

// Edge возвращает ребро src -> dst или nil
func (s *Snapshot) Edge(src, dst NodeID) *Edge {
	return s.Edges[EdgeKey{Src: src, Dst: dst}]
}

// Has сообщает о присутствии узла в срезе
func (s *Snapshot) Has(id NodeID) bool {
	_, ok := s.Nodes[id]
	return ok
}

// SortedNodeIDs возвращает все узлы в лексикографическом порядке
func (s *Snapshot) SortedNodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NeighborHit - узел, найденный обходом, с глубиной
type NeighborHit struct {
	Node  *Node
	Depth int
}

// Neighbors выполняет BFS от узла в заданном направлении до maxDepth.
// Порядок детерминирован: внутри уровня узлы идут по NodeID.
// Сам стартовый узел в результат не входит.
func (s *Snapshot) Neighbors(id NodeID, dir Direction, maxDepth int) []NeighborHit {
	if !s.Has(id) || maxDepth <= 0 {
		return nil
	}

	visited := map[NodeID]bool{id: true}
	frontier := []NodeID{id}
	var hits []NeighborHit

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []NodeID
		for _, cur := range frontier {
			for _, nb := range s.adjacent(cur, dir) {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				next = append(next, nb)
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, nb := range next {
			hits = append(hits, NeighborHit{Node: s.Nodes[nb], Depth: depth})
		}
		frontier = next
	}

	return hits
}

// Reachable возвращает множество узлов, достижимых от seeds за maxDepth
// шагов (включая сами seeds). maxDepth <= 0 снимает ограничение глубины.
func (s *Snapshot) Reachable(seeds []NodeID, dir Direction, maxDepth int) map[NodeID]bool {
	if maxDepth <= 0 {
		maxDepth = len(s.Nodes)
	}

	visited := make(map[NodeID]bool)
	var frontier []NodeID
	for _, id := range seeds {
		if s.Has(id) && !visited[id] {
			visited[id] = true
			frontier = append(frontier, id)
		}
	}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []NodeID
		for _, cur := range frontier {
			for _, nb := range s.adjacent(cur, dir) {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				next = append(next, nb)
			}
		}
		frontier = next
	}

	return visited
}

func (s *Snapshot) adjacent(id NodeID, dir Direction) []NodeID {
	switch dir {
	case DirectionOut:
		return s.Out[id]
	case DirectionIn:
		return s.In[id]
	default:
		out := s.Out[id]
		in := s.In[id]
		merged := make([]NodeID, 0, len(out)+len(in))
		merged = append(merged, out...)
		for _, id := range in {
			merged = append(merged, id)
		}
		return merged
	}
}
