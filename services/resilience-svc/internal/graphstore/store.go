package graphstore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"stratum/pkg/apperror"
	"stratum/pkg/domain"
	"stratum/pkg/logger"
	"stratum/pkg/metrics"
)

// MutationHook вызывается после каждой применённой мутации,
// уже вне блокировки хранилища.
type MutationHook func(domain.Mutation)

// Store - потокобезопасное in-memory хранилище графа зависимостей.
// Все публичные мутации атомарны относительно конкурентных читателей.
type Store struct {
	mu      sync.RWMutex
	nodes   map[domain.NodeID]*domain.Node
	edges   map[domain.EdgeKey]*domain.Edge
	out     map[domain.NodeID][]domain.NodeID // id -> зависимости id (рёбра id -> X)
	in      map[domain.NodeID][]domain.NodeID // id -> зависящие от id (рёбра X -> id)
	version uint64

	onMutation MutationHook
	log        *slog.Logger
}

// New создаёт пустое хранилище
func New() *Store {
	return &Store{
		nodes: make(map[domain.NodeID]*domain.Node),
		edges: make(map[domain.EdgeKey]*domain.Edge),
		out:   make(map[domain.NodeID][]domain.NodeID),
		in:    make(map[domain.NodeID][]domain.NodeID),
		log:   logger.WithComponent("graphstore"),
	}
}

// SetMutationHook подключает обработчик мутаций.
// Hook вызывается после снятия блокировки; порядок вызовов соответствует
// порядку применения мутаций только при одном писателе.
func (s *Store) SetMutationHook(hook MutationHook) {
	s.mu.Lock()
	s.onMutation = hook
	s.mu.Unlock()
}

// Version возвращает текущую версию графа.
// Версия монотонно растёт с каждой применённой мутацией.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Counts возвращает число узлов и рёбер
func (s *Store) Counts() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.edges)
}

// AddNode добавляет узел. Возвращает conflict, если NodeID занят.
func (s *Store) AddNode(n *domain.Node) error {
	if n == nil {
		return apperror.New(apperror.CodeNilInput, "node is nil")
	}
	if err := n.Validate(); err != nil {
		return err
	}

	c := n.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	if _, exists := s.nodes[c.ID]; exists {
		s.mu.Unlock()
		return apperror.New(apperror.CodeConflict,
			fmt.Sprintf("node %s already exists", c.ID))
	}
	s.nodes[c.ID] = c
	s.version++
	mut := domain.Mutation{Op: domain.OpNodeAdd, Node: c.Clone(), Version: s.version, AppliedAt: c.UpdatedAt}
	s.mu.Unlock()

	s.recordSize()
	metrics.Get().RecordMutation(string(domain.OpNodeAdd))
	s.emit(mut)
	return nil
}

// UpsertNode добавляет узел либо замещает существующий целиком.
// Инцидентные рёбра при замещении сохраняются.
func (s *Store) UpsertNode(n *domain.Node) error {
	if n == nil {
		return apperror.New(apperror.CodeNilInput, "node is nil")
	}
	if err := n.Validate(); err != nil {
		return err
	}

	c := n.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	op := domain.OpNodeAdd
	if _, exists := s.nodes[c.ID]; exists {
		op = domain.OpNodeUpdate
	}
	s.nodes[c.ID] = c
	s.version++
	mut := domain.Mutation{Op: op, Node: c.Clone(), Version: s.version, AppliedAt: c.UpdatedAt}
	s.mu.Unlock()

	s.recordSize()
	metrics.Get().RecordMutation(string(op))
	s.emit(mut)
	return nil
}

// NodeDelta - частичное обновление узла
type NodeDelta struct {
	Load        *float64
	Health      *float64
	Criticality *float64
	Properties  map[string]any
	Timestamp   time.Time // нулевое значение = time.Now()
}

// UpdateNode применяет частичное обновление к узлу
func (s *Store) UpdateNode(id domain.NodeID, delta NodeDelta) error {
	if delta.Load != nil && *delta.Load < 0 {
		return apperror.NewWithField(apperror.CodeInvalidRequest, "load must be non-negative", "load")
	}
	if delta.Health != nil && (*delta.Health < 0 || *delta.Health > 1) {
		return apperror.NewWithField(apperror.CodeInvalidRequest, "health must be in [0, 1]", "health")
	}
	if delta.Criticality != nil && (*delta.Criticality < 0 || *delta.Criticality > 1) {
		return apperror.NewWithField(apperror.CodeInvalidRequest, "criticality must be in [0, 1]", "criticality")
	}

	ts := delta.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return apperror.New(apperror.CodeNotFound, fmt.Sprintf("node %s not found", id))
	}

	if delta.Load != nil {
		n.Load = *delta.Load
	}
	if delta.Health != nil {
		n.Health = *delta.Health
	}
	if delta.Criticality != nil {
		n.Criticality = *delta.Criticality
	}
	for k, v := range delta.Properties {
		if n.Properties == nil {
			n.Properties = make(map[string]any)
		}
		n.Properties[k] = v
	}
	// updated_at монотонно не убывает
	if ts.After(n.UpdatedAt) {
		n.UpdatedAt = ts
	}

	s.version++
	mut := domain.Mutation{Op: domain.OpNodeUpdate, Node: n.Clone(), Version: s.version, AppliedAt: n.UpdatedAt}
	s.mu.Unlock()

	metrics.Get().RecordMutation(string(domain.OpNodeUpdate))
	s.emit(mut)
	return nil
}

// RemoveNode удаляет узел вместе с инцидентными рёбрами
func (s *Store) RemoveNode(id domain.NodeID) error {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return apperror.New(apperror.CodeNotFound, fmt.Sprintf("node %s not found", id))
	}

	// Рёбра не должны повиснуть
	for _, dst := range s.out[id] {
		delete(s.edges, domain.EdgeKey{Src: id, Dst: dst})
		s.in[dst] = removeID(s.in[dst], id)
	}
	for _, src := range s.in[id] {
		delete(s.edges, domain.EdgeKey{Src: src, Dst: id})
		s.out[src] = removeID(s.out[src], id)
	}
	delete(s.out, id)
	delete(s.in, id)
	delete(s.nodes, id)

	s.version++
	mut := domain.Mutation{Op: domain.OpNodeRemove, Node: n, Version: s.version, AppliedAt: time.Now()}
	s.mu.Unlock()

	s.recordSize()
	metrics.Get().RecordMutation(string(domain.OpNodeRemove))
	s.emit(mut)
	return nil
}

// AddEdge добавляет направленную зависимость src -> dst.
// Идемпотентное обновление атрибутов выполняется через UpsertEdge.
func (s *Store) AddEdge(e *domain.Edge) error {
	if e == nil {
		return apperror.New(apperror.CodeNilInput, "edge is nil")
	}
	if err := e.Validate(); err != nil {
		return err
	}

	c := e.Clone()

	s.mu.Lock()
	if err := s.checkEndpoints(c); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, exists := s.edges[c.Key()]; exists {
		s.mu.Unlock()
		return apperror.New(apperror.CodeConflict,
			fmt.Sprintf("edge %s -> %s already exists", c.Src, c.Dst))
	}

	s.insertEdgeLocked(c)
	s.version++
	mut := domain.Mutation{Op: domain.OpEdgeAdd, Edge: c.Clone(), Version: s.version, AppliedAt: time.Now()}
	s.mu.Unlock()

	s.recordSize()
	metrics.Get().RecordMutation(string(domain.OpEdgeAdd))
	s.emit(mut)
	return nil
}

// UpsertEdge добавляет ребро или обновляет атрибуты существующего
func (s *Store) UpsertEdge(e *domain.Edge) error {
	if e == nil {
		return apperror.New(apperror.CodeNilInput, "edge is nil")
	}
	if err := e.Validate(); err != nil {
		return err
	}

	c := e.Clone()

	s.mu.Lock()
	if err := s.checkEndpoints(c); err != nil {
		s.mu.Unlock()
		return err
	}

	op := domain.OpEdgeAdd
	if _, exists := s.edges[c.Key()]; exists {
		op = domain.OpEdgeUpdate
		s.edges[c.Key()] = c
	} else {
		s.insertEdgeLocked(c)
	}
	s.version++
	mut := domain.Mutation{Op: op, Edge: c.Clone(), Version: s.version, AppliedAt: time.Now()}
	s.mu.Unlock()

	s.recordSize()
	metrics.Get().RecordMutation(string(op))
	s.emit(mut)
	return nil
}

// RemoveEdge удаляет ребро src -> dst
func (s *Store) RemoveEdge(src, dst domain.NodeID) error {
	key := domain.EdgeKey{Src: src, Dst: dst}

	s.mu.Lock()
	e, ok := s.edges[key]
	if !ok {
		s.mu.Unlock()
		return apperror.New(apperror.CodeNotFound,
			fmt.Sprintf("edge %s -> %s not found", src, dst))
	}
	delete(s.edges, key)
	s.out[src] = removeID(s.out[src], dst)
	s.in[dst] = removeID(s.in[dst], src)

	s.version++
	mut := domain.Mutation{Op: domain.OpEdgeRemove, Edge: e, Version: s.version, AppliedAt: time.Now()}
	s.mu.Unlock()

	s.recordSize()
	metrics.Get().RecordMutation(string(domain.OpEdgeRemove))
	s.emit(mut)
	return nil
}

// HasNode сообщает, существует ли узел
func (s *Store) HasNode(id domain.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// HasEdge сообщает, существует ли ребро src -> dst
func (s *Store) HasEdge(src, dst domain.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[domain.EdgeKey{Src: src, Dst: dst}]
	return ok
}

// GetNode возвращает копию узла
func (s *Store) GetNode(id domain.NodeID) (*domain.Node, error) {
	s.mu.RLock()
	n, ok := s.nodes[id]
	s.mu.RUnlock()

	if !ok {
		return nil, apperror.New(apperror.CodeNotFound, fmt.Sprintf("node %s not found", id))
	}
	return n.Clone(), nil
}

// Neighbors выполняет детерминированный BFS от узла.
// Внутри одного уровня узлы упорядочены лексикографически по NodeID.
func (s *Store) Neighbors(id domain.NodeID, dir domain.Direction, maxDepth int) ([]domain.NeighborHit, error) {
	if !dir.Valid() {
		return nil, apperror.NewWithField(apperror.CodeInvalidRequest,
			fmt.Sprintf("unknown direction %q", dir), "direction")
	}
	if maxDepth <= 0 {
		return nil, apperror.NewWithField(apperror.CodeInvalidRequest,
			"max_depth must be positive", "max_depth")
	}

	snap := s.Snapshot()
	if !snap.Has(id) {
		return nil, apperror.New(apperror.CodeNotFound, fmt.Sprintf("node %s not found", id))
	}
	return snap.Neighbors(id, dir, maxDepth), nil
}

// Snapshot возвращает консистентный неизменяемый срез всего графа
func (s *Store) Snapshot() *domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(nil)
}

// Subgraph возвращает срез подграфа, достижимого от seeds за maxDepth
// шагов по рёбрам в обе стороны. Неизвестные seeds игнорируются;
// если ни один не найден, возвращается not_found.
func (s *Store) Subgraph(seeds []domain.NodeID, maxDepth int) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	known := make([]domain.NodeID, 0, len(seeds))
	for _, id := range seeds {
		if _, ok := s.nodes[id]; ok {
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return nil, apperror.New(apperror.CodeNotFound, "no seed nodes found in graph")
	}

	// Достижимость и копия считаются в одной критической секции:
	// keep-set всегда соответствует версии возвращаемого среза
	keep := s.reachableLocked(known, maxDepth)
	return s.snapshotLocked(keep), nil
}

// reachableLocked выполняет BFS от seeds по рёбрам в обе стороны
// под уже взятой блокировкой читателя
func (s *Store) reachableLocked(seeds []domain.NodeID, maxDepth int) map[domain.NodeID]bool {
	if maxDepth <= 0 {
		maxDepth = len(s.nodes)
	}

	visited := make(map[domain.NodeID]bool, len(seeds))
	frontier := make([]domain.NodeID, 0, len(seeds))
	for _, id := range seeds {
		if !visited[id] {
			visited[id] = true
			frontier = append(frontier, id)
		}
	}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []domain.NodeID
		for _, cur := range frontier {
			for _, adj := range [2][]domain.NodeID{s.out[cur], s.in[cur]} {
				for _, nb := range adj {
					if visited[nb] {
						continue
					}
					visited[nb] = true
					next = append(next, nb)
				}
			}
		}
		frontier = next
	}
	return visited
}

// snapshotLocked копирует граф под блокировкой.
// keep == nil означает весь граф.
func (s *Store) snapshotLocked(keep map[domain.NodeID]bool) *domain.Snapshot {
	snap := &domain.Snapshot{
		Version: s.version,
		Nodes:   make(map[domain.NodeID]*domain.Node, len(s.nodes)),
		Edges:   make(map[domain.EdgeKey]*domain.Edge, len(s.edges)),
		Out:     make(map[domain.NodeID][]domain.NodeID, len(s.out)),
		In:      make(map[domain.NodeID][]domain.NodeID, len(s.in)),
	}

	include := func(id domain.NodeID) bool {
		return keep == nil || keep[id]
	}

	for id, n := range s.nodes {
		if include(id) {
			snap.Nodes[id] = n.Clone()
		}
	}
	for key, e := range s.edges {
		if include(key.Src) && include(key.Dst) {
			snap.Edges[key] = e.Clone()
		}
	}
	for id, adj := range s.out {
		if !include(id) {
			continue
		}
		cp := make([]domain.NodeID, 0, len(adj))
		for _, nb := range adj {
			if include(nb) {
				cp = append(cp, nb)
			}
		}
		snap.Out[id] = cp
	}
	for id, adj := range s.in {
		if !include(id) {
			continue
		}
		cp := make([]domain.NodeID, 0, len(adj))
		for _, nb := range adj {
			if include(nb) {
				cp = append(cp, nb)
			}
		}
		snap.In[id] = cp
	}

	return snap
}

// checkEndpoints проверяет существование концов ребра (под блокировкой)
func (s *Store) checkEndpoints(e *domain.Edge) error {
	if _, ok := s.nodes[e.Src]; !ok {
		return apperror.New(apperror.CodeNotFound, fmt.Sprintf("node %s not found", e.Src))
	}
	if _, ok := s.nodes[e.Dst]; !ok {
		return apperror.New(apperror.CodeNotFound, fmt.Sprintf("node %s not found", e.Dst))
	}
	return nil
}

// insertEdgeLocked вставляет ребро, сохраняя сортировку смежности
func (s *Store) insertEdgeLocked(e *domain.Edge) {
	s.edges[e.Key()] = e
	s.out[e.Src] = insertSorted(s.out[e.Src], e.Dst)
	s.in[e.Dst] = insertSorted(s.in[e.Dst], e.Src)
}

func (s *Store) emit(mut domain.Mutation) {
	s.mu.RLock()
	hook := s.onMutation
	s.mu.RUnlock()

	if hook != nil {
		hook(mut)
	}
}

func (s *Store) recordSize() {
	nodes, edges := s.Counts()
	metrics.Get().RecordGraphSize(nodes, edges)
}

// insertSorted вставляет id в отсортированный слайс без дубликатов
func insertSorted(ids []domain.NodeID, id domain.NodeID) []domain.NodeID {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

// removeID удаляет id из слайса, сохраняя порядок
func removeID(ids []domain.NodeID, id domain.NodeID) []domain.NodeID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
