package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"stratum/pkg/apperror"
	"stratum/pkg/domain"
	"stratum/services/resilience-svc/internal/graphstore"
)

// mutation - валидированная мутация графа с требованиями допуска.
// needs* проверяются на допуске против хранилища и очереди конвейера;
// adds* делают цель видимой для последующих записей батча, пока
// мутация ещё не применена.
type mutation struct {
	apply func(ctx context.Context) error

	needsNodes []domain.NodeID
	needsEdge  *domain.EdgeKey
	addsNode   domain.NodeID
	addsEdge   *domain.EdgeKey
}

// deriveMutation валидирует payload записи по схеме её data_type
func (p *Pipeline) deriveMutation(record *domain.Record) (*mutation, error) {
	switch record.DataType {
	case domain.DataTypeSensorLoad:
		nodeID, err := payloadNodeID(record.Payload)
		if err != nil {
			return nil, err
		}
		load, err := payloadFloat(record.Payload, "load")
		if err != nil {
			return nil, err
		}
		if load < 0 {
			return nil, schemaError("load must be non-negative", "load")
		}
		return &mutation{
			needsNodes: []domain.NodeID{nodeID},
			apply: func(context.Context) error {
				return p.store.UpdateNode(nodeID, graphstore.NodeDelta{
					Load:      &load,
					Timestamp: record.Timestamp,
				})
			},
		}, nil

	case domain.DataTypeSensorHealth:
		nodeID, err := payloadNodeID(record.Payload)
		if err != nil {
			return nil, err
		}
		health, err := payloadFloat(record.Payload, "health")
		if err != nil {
			return nil, err
		}
		if health < 0 || health > 1 {
			return nil, schemaError("health must be in [0, 1]", "health")
		}
		return &mutation{
			needsNodes: []domain.NodeID{nodeID},
			apply: func(context.Context) error {
				return p.store.UpdateNode(nodeID, graphstore.NodeDelta{
					Health:    &health,
					Timestamp: record.Timestamp,
				})
			},
		}, nil

	case domain.DataTypeNodeUpsert:
		node, err := payloadAs[domain.Node](record.Payload)
		if err != nil {
			return nil, err
		}
		if node.UpdatedAt.IsZero() {
			node.UpdatedAt = record.Timestamp
		}
		if err := node.Validate(); err != nil {
			return nil, err
		}
		return &mutation{
			addsNode: node.ID,
			apply: func(context.Context) error {
				return p.store.UpsertNode(node)
			},
		}, nil

	case domain.DataTypeNodeRemove:
		nodeID, err := payloadNodeID(record.Payload)
		if err != nil {
			return nil, err
		}
		return &mutation{
			needsNodes: []domain.NodeID{nodeID},
			apply: func(context.Context) error {
				return p.store.RemoveNode(nodeID)
			},
		}, nil

	case domain.DataTypeEdgeUpsert:
		edge, err := payloadAs[domain.Edge](record.Payload)
		if err != nil {
			return nil, err
		}
		if err := edge.Validate(); err != nil {
			return nil, err
		}
		key := edge.Key()
		return &mutation{
			needsNodes: []domain.NodeID{edge.Src, edge.Dst},
			addsEdge:   &key,
			apply: func(context.Context) error {
				return p.store.UpsertEdge(edge)
			},
		}, nil

	case domain.DataTypeEdgeRemove:
		src, err := payloadString(record.Payload, "src")
		if err != nil {
			return nil, err
		}
		dst, err := payloadString(record.Payload, "dst")
		if err != nil {
			return nil, err
		}
		key := domain.EdgeKey{Src: domain.NodeID(src), Dst: domain.NodeID(dst)}
		return &mutation{
			needsEdge: &key,
			apply: func(context.Context) error {
				return p.store.RemoveEdge(key.Src, key.Dst)
			},
		}, nil
	}

	return nil, schemaError(fmt.Sprintf("unsupported data_type %q", record.DataType), "data_type")
}

// payloadAs декодирует payload в доменную структуру через JSON-контракт
func payloadAs[T any](payload map[string]any) (*T, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, schemaError("payload is not serializable", "payload")
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, schemaError(fmt.Sprintf("payload does not match schema: %v", err), "payload")
	}
	return &v, nil
}

func payloadNodeID(payload map[string]any) (domain.NodeID, error) {
	s, err := payloadString(payload, "node_id")
	if err != nil {
		return "", err
	}
	return domain.NodeID(s), nil
}

func payloadString(payload map[string]any, key string) (string, error) {
	v, ok := payload[key]
	if !ok {
		return "", schemaError(fmt.Sprintf("missing required field %q", key), key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", schemaError(fmt.Sprintf("field %q must be a non-empty string", key), key)
	}
	return s, nil
}

func payloadFloat(payload map[string]any, key string) (float64, error) {
	v, ok := payload[key]
	if !ok {
		return 0, schemaError(fmt.Sprintf("missing required field %q", key), key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err == nil {
			return f, nil
		}
	}
	return 0, schemaError(fmt.Sprintf("field %q must be a number", key), key)
}

func schemaError(message, field string) error {
	return apperror.NewWithField(apperror.CodeInvalidSchema, message, field)
}
