package domain

import (
	"fmt"
	"time"

	"stratum/pkg/apperror"
)

// NodeID - стабильный глобально уникальный идентификатор узла
type NodeID string

// NodeKind - вид инфраструктурного узла
type NodeKind string

const (
	KindPower      NodeKind = "power"
	KindWater      NodeKind = "water"
	KindTelecom    NodeKind = "telecom"
	KindTransport  NodeKind = "transport"
	KindHealthcare NodeKind = "healthcare"
	KindEmergency  NodeKind = "emergency"
	KindOther      NodeKind = "other"
)

// Valid проверяет, известен ли вид узла
func (k NodeKind) Valid() bool {
	switch k {
	case KindPower, KindWater, KindTelecom, KindTransport,
		KindHealthcare, KindEmergency, KindOther:
		return true
	}
	return false
}

// String возвращает строковое представление
func (k NodeKind) String() string {
	return string(k)
}

// Location - географические координаты узла
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Node - узел графа зависимостей инфраструктуры
type Node struct {
	ID          NodeID         `json:"id"`
	Kind        NodeKind       `json:"kind"`
	Name        string         `json:"name,omitempty"`
	Capacity    float64        `json:"capacity"`
	Load        float64        `json:"load"`
	Health      float64        `json:"health"`
	Criticality float64        `json:"criticality"`
	Location    *Location      `json:"location,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// LoadFactor возвращает отношение нагрузки к пропускной способности
func (n *Node) LoadFactor() float64 {
	if n.Capacity <= 0 {
		return 0
	}
	return n.Load / n.Capacity
}

// Stressed сообщает, что узел работает выше 80% мощности
func (n *Node) Stressed() bool {
	return n.LoadFactor() > 0.8
}

// Clone создаёт глубокую копию узла
func (n *Node) Clone() *Node {
	c := *n
	if n.Location != nil {
		loc := *n.Location
		c.Location = &loc
	}
	if n.Properties != nil {
		c.Properties = make(map[string]any, len(n.Properties))
		for k, v := range n.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

// Validate проверяет инварианты узла
func (n *Node) Validate() error {
	if n.ID == "" {
		return apperror.NewWithField(apperror.CodeInvalidRequest, "node id is required", "id")
	}
	if !n.Kind.Valid() {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			fmt.Sprintf("unknown node kind %q", n.Kind), "kind")
	}
	if n.Capacity < 0 {
		return apperror.NewWithField(apperror.CodeInvalidRequest, "capacity must be non-negative", "capacity")
	}
	if n.Load < 0 {
		return apperror.NewWithField(apperror.CodeInvalidRequest, "load must be non-negative", "load")
	}
	if n.Health < 0 || n.Health > 1 {
		return apperror.NewWithField(apperror.CodeInvalidRequest, "health must be in [0, 1]", "health")
	}
	if n.Criticality < 0 || n.Criticality > 1 {
		return apperror.NewWithField(apperror.CodeInvalidRequest, "criticality must be in [0, 1]", "criticality")
	}
	return nil
}
