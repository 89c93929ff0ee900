package domain

import "stratum/pkg/apperror"

// EdgeKey - упорядоченная пара узлов, идентифицирующая ребро
type EdgeKey struct {
	Src NodeID // зависящий узел
	Dst NodeID // узел, от которого зависят
}

// Edge - направленная зависимость Src -> Dst ("Src зависит от Dst")
type Edge struct {
	Src             NodeID         `json:"src"`
	Dst             NodeID         `json:"dst"`
	Strength        float64        `json:"strength"`
	PropagationProb float64        `json:"propagation_probability"`
	LatencyMS       float64        `json:"latency_ms"`
	Properties      map[string]any `json:"properties,omitempty"`
}

// Key возвращает ключ ребра
func (e *Edge) Key() EdgeKey {
	return EdgeKey{Src: e.Src, Dst: e.Dst}
}

// Clone создаёт глубокую копию ребра
func (e *Edge) Clone() *Edge {
	c := *e
	if e.Properties != nil {
		c.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

// Validate проверяет инварианты ребра
func (e *Edge) Validate() error {
	if e.Src == "" || e.Dst == "" {
		return apperror.NewWithField(apperror.CodeInvalidRequest, "edge endpoints are required", "src")
	}
	if e.Src == e.Dst {
		return apperror.NewWithField(apperror.CodeSelfLoop, "edge endpoints must differ", "dst")
	}
	if e.Strength < 0 || e.Strength > 1 {
		return apperror.NewWithField(apperror.CodeInvalidRequest, "strength must be in [0, 1]", "strength")
	}
	if e.PropagationProb < 0 || e.PropagationProb > 1 {
		return apperror.NewWithField(apperror.CodeInvalidRequest,
			"propagation_probability must be in [0, 1]", "propagation_probability")
	}
	if e.LatencyMS < 0 {
		return apperror.NewWithField(apperror.CodeInvalidRequest, "latency_ms must be non-negative", "latency_ms")
	}
	return nil
}
