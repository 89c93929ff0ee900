package domain

import (
	"testing"
	"time"

	"stratum/pkg/apperror"
)

func TestNode_Validate(t *testing.T) {
	valid := func() *Node {
		return &Node{
			ID:          "power-1",
			Kind:        KindPower,
			Capacity:    100,
			Load:        80,
			Health:      0.9,
			Criticality: 0.7,
			UpdatedAt:   time.Now(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Node)
		wantErr bool
	}{
		{"valid node", func(*Node) {}, false},
		{"missing id", func(n *Node) { n.ID = "" }, true},
		{"unknown kind", func(n *Node) { n.Kind = "datacenter" }, true},
		{"negative capacity", func(n *Node) { n.Capacity = -1 }, true},
		{"negative load", func(n *Node) { n.Load = -1 }, true},
		{"health above one", func(n *Node) { n.Health = 1.1 }, true},
		{"criticality below zero", func(n *Node) { n.Criticality = -0.1 }, true},
		{"zero capacity allowed", func(n *Node) { n.Capacity = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := valid()
			tt.mutate(n)
			err := n.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && apperror.Code(err) != apperror.CodeInvalidRequest {
				t.Errorf("code = %v, want INVALID_REQUEST", apperror.Code(err))
			}
		})
	}
}

func TestNode_LoadFactor(t *testing.T) {
	n := &Node{Capacity: 200, Load: 50}
	if got := n.LoadFactor(); got != 0.25 {
		t.Errorf("LoadFactor() = %v, want 0.25", got)
	}

	// Нулевая мощность не даёт деления на ноль
	n = &Node{Capacity: 0, Load: 50}
	if got := n.LoadFactor(); got != 0 {
		t.Errorf("LoadFactor() with zero capacity = %v, want 0", got)
	}
}

func TestNode_Stressed(t *testing.T) {
	if (&Node{Capacity: 100, Load: 80}).Stressed() {
		t.Error("load factor exactly 0.8 should not be stressed")
	}
	if !(&Node{Capacity: 100, Load: 81}).Stressed() {
		t.Error("load factor above 0.8 should be stressed")
	}
}

func TestNode_Clone(t *testing.T) {
	original := &Node{
		ID:         "water-3",
		Kind:       KindWater,
		Location:   &Location{Lat: 55.75, Lon: 37.61},
		Properties: map[string]any{"operator": "city"},
	}

	clone := original.Clone()
	clone.Location.Lat = 0
	clone.Properties["operator"] = "private"

	if original.Location.Lat != 55.75 {
		t.Error("clone should not share location with original")
	}
	if original.Properties["operator"] != "city" {
		t.Error("clone should not share properties with original")
	}
}

func TestEdge_Validate(t *testing.T) {
	valid := func() *Edge {
		return &Edge{
			Src:             "hospital-2",
			Dst:             "power-1",
			Strength:        0.9,
			PropagationProb: 0.5,
			LatencyMS:       30_000,
		}
	}

	tests := []struct {
		name     string
		mutate   func(*Edge)
		wantCode apperror.ErrorCode
	}{
		{"valid edge", func(*Edge) {}, ""},
		{"missing src", func(e *Edge) { e.Src = "" }, apperror.CodeInvalidRequest},
		{"self loop", func(e *Edge) { e.Dst = e.Src }, apperror.CodeSelfLoop},
		{"strength above one", func(e *Edge) { e.Strength = 1.5 }, apperror.CodeInvalidRequest},
		{"negative propagation", func(e *Edge) { e.PropagationProb = -0.1 }, apperror.CodeInvalidRequest},
		{"negative latency", func(e *Edge) { e.LatencyMS = -1 }, apperror.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			err := e.Validate()
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if apperror.Code(err) != tt.wantCode {
				t.Errorf("code = %v, want %v", apperror.Code(err), tt.wantCode)
			}
		})
	}
}

func TestEdge_Clone(t *testing.T) {
	original := &Edge{Src: "a", Dst: "b", Properties: map[string]any{"medium": "cable"}}

	clone := original.Clone()
	clone.Properties["medium"] = "radio"

	if original.Properties["medium"] != "cable" {
		t.Error("clone should not share properties with original")
	}
}
