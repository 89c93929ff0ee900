package domain

import "time"

// Record - запись телеметрии на входе конвейера
type Record struct {
	ID           string         `json:"id,omitempty"`
	SourceID     string         `json:"source_id"`
	Timestamp    time.Time      `json:"timestamp"`
	DataType     string         `json:"data_type"`
	Payload      map[string]any `json:"payload"`
	QualityScore float64        `json:"quality_score"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// MutationOp - вид мутации графа
type MutationOp string

const (
	OpNodeAdd    MutationOp = "node_add"
	OpNodeUpdate MutationOp = "node_update"
	OpNodeRemove MutationOp = "node_remove"
	OpEdgeAdd    MutationOp = "edge_add"
	OpEdgeUpdate MutationOp = "edge_update"
	OpEdgeRemove MutationOp = "edge_remove"
)

// Mutation - применённая к графу мутация, публикуется в fan-out
type Mutation struct {
	Op       MutationOp `json:"op"`
	Node     *Node      `json:"node,omitempty"`
	Edge     *Edge      `json:"edge,omitempty"`
	SourceID string     `json:"source_id,omitempty"`
	Version  uint64     `json:"version"` // версия графа после применения
	AppliedAt time.Time `json:"applied_at"`
}
