package domain

import (
	"reflect"
	"testing"
)

// Тестовый граф: hospital и pump зависят от power, clinic зависит от water,
// water зависит от power через pump.
//
//	hospital -> power
//	pump     -> power
//	water    -> pump
//	clinic   -> water
func testSnapshot() *Snapshot {
	nodes := map[NodeID]*Node{
		"power":    {ID: "power", Kind: KindPower},
		"pump":     {ID: "pump", Kind: KindWater},
		"water":    {ID: "water", Kind: KindWater},
		"hospital": {ID: "hospital", Kind: KindHealthcare},
		"clinic":   {ID: "clinic", Kind: KindHealthcare},
	}
	edges := []*Edge{
		{Src: "hospital", Dst: "power", Strength: 1, PropagationProb: 0.5},
		{Src: "pump", Dst: "power", Strength: 1, PropagationProb: 0.5},
		{Src: "water", Dst: "pump", Strength: 1, PropagationProb: 0.5},
		{Src: "clinic", Dst: "water", Strength: 1, PropagationProb: 0.5},
	}

	s := &Snapshot{
		Version: 1,
		Nodes:   nodes,
		Edges:   make(map[EdgeKey]*Edge),
		Out:     make(map[NodeID][]NodeID),
		In:      make(map[NodeID][]NodeID),
	}
	for _, e := range edges {
		s.Edges[e.Key()] = e
		s.Out[e.Src] = append(s.Out[e.Src], e.Dst)
		s.In[e.Dst] = append(s.In[e.Dst], e.Src)
	}
	return s
}

func TestSnapshot_Lookup(t *testing.T) {
	s := testSnapshot()

	if s.Node("power") == nil {
		t.Error("expected power node")
	}
	if s.Node("missing") != nil {
		t.Error("missing node should be nil")
	}
	if s.Edge("hospital", "power") == nil {
		t.Error("expected hospital -> power edge")
	}
	if s.Edge("power", "hospital") != nil {
		t.Error("reverse edge should not exist")
	}
}

func TestSnapshot_SortedNodeIDs(t *testing.T) {
	ids := testSnapshot().SortedNodeIDs()
	want := []NodeID{"clinic", "hospital", "power", "pump", "water"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("SortedNodeIDs() = %v, want %v", ids, want)
	}
}

func TestSnapshot_Neighbors(t *testing.T) {
	s := testSnapshot()

	t.Run("dependents of power one hop", func(t *testing.T) {
		hits := s.Neighbors("power", DirectionIn, 1)
		if len(hits) != 2 {
			t.Fatalf("expected 2 dependents, got %d", len(hits))
		}
		// Внутри уровня порядок лексикографический
		if hits[0].Node.ID != "hospital" || hits[1].Node.ID != "pump" {
			t.Errorf("unexpected order: %s, %s", hits[0].Node.ID, hits[1].Node.ID)
		}
	})

	t.Run("depth is tracked", func(t *testing.T) {
		hits := s.Neighbors("power", DirectionIn, 3)
		depths := make(map[NodeID]int)
		for _, h := range hits {
			depths[h.Node.ID] = h.Depth
		}
		if depths["pump"] != 1 || depths["water"] != 2 || depths["clinic"] != 3 {
			t.Errorf("unexpected depths: %v", depths)
		}
	})

	t.Run("dependencies of clinic", func(t *testing.T) {
		hits := s.Neighbors("clinic", DirectionOut, 10)
		if len(hits) != 3 {
			t.Errorf("expected water, pump, power; got %d hits", len(hits))
		}
	})

	t.Run("unknown start", func(t *testing.T) {
		if hits := s.Neighbors("missing", DirectionIn, 1); hits != nil {
			t.Errorf("expected nil for unknown node, got %v", hits)
		}
	})
}

func TestSnapshot_Reachable(t *testing.T) {
	s := testSnapshot()

	t.Run("dependents closure includes seeds", func(t *testing.T) {
		got := s.Reachable([]NodeID{"power"}, DirectionIn, 0)
		for _, id := range []NodeID{"power", "pump", "hospital", "water", "clinic"} {
			if !got[id] {
				t.Errorf("expected %s in closure", id)
			}
		}
	})

	t.Run("depth limit", func(t *testing.T) {
		got := s.Reachable([]NodeID{"power"}, DirectionIn, 1)
		if got["water"] {
			t.Error("water is two hops away, should be excluded at depth 1")
		}
		if !got["pump"] || !got["hospital"] {
			t.Error("one-hop dependents should be included")
		}
	})

	t.Run("unknown seeds ignored", func(t *testing.T) {
		got := s.Reachable([]NodeID{"missing", "clinic"}, DirectionOut, 0)
		if got["missing"] {
			t.Error("unknown seed should not appear")
		}
		if !got["clinic"] || !got["power"] {
			t.Error("closure from clinic should reach power")
		}
	})
}

func TestComputeStatistics(t *testing.T) {
	s := testSnapshot()
	s.Nodes["power"].Capacity = 100
	s.Nodes["power"].Load = 90
	s.Nodes["power"].Health = 1
	s.Nodes["isolated"] = &Node{ID: "isolated", Kind: KindOther, Health: 0.5}

	stats := ComputeStatistics(s)

	if stats.NodeCount != 6 {
		t.Errorf("NodeCount = %d, want 6", stats.NodeCount)
	}
	if stats.EdgeCount != 4 {
		t.Errorf("EdgeCount = %d, want 4", stats.EdgeCount)
	}
	if stats.NodesByKind[KindHealthcare] != 2 {
		t.Errorf("healthcare count = %d, want 2", stats.NodesByKind[KindHealthcare])
	}
	if stats.StressedCount != 1 {
		t.Errorf("StressedCount = %d, want 1", stats.StressedCount)
	}
	if stats.IsolatedCount != 1 {
		t.Errorf("IsolatedCount = %d, want 1", stats.IsolatedCount)
	}
}

func TestTopCritical(t *testing.T) {
	s := testSnapshot()
	scores := map[NodeID]float64{
		"power":    0.9,
		"pump":     0.6,
		"water":    0.6,
		"hospital": 0.3,
		"clinic":   0.1,
	}

	top := TopCritical(s, scores, 3)
	if len(top) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(top))
	}
	if top[0].Node.ID != "power" {
		t.Errorf("top node = %s, want power", top[0].Node.ID)
	}
	// Равные оценки идут по NodeID
	if top[1].Node.ID != "pump" || top[2].Node.ID != "water" {
		t.Errorf("tie should break by id: %s, %s", top[1].Node.ID, top[2].Node.ID)
	}

	if TopCritical(s, scores, 0) != nil {
		t.Error("k=0 should return nil")
	}
	if got := TopCritical(s, scores, 100); len(got) != 5 {
		t.Errorf("k beyond size should return all nodes, got %d", len(got))
	}
}
