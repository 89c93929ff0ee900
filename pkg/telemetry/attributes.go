package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Стандартные ключи атрибутов
const (
	// Граф
	AttrGraphVersion = "graph.version"
	AttrGraphNodes   = "graph.nodes"
	AttrGraphEdges   = "graph.edges"

	// Симуляция
	AttrSimFingerprint = "simulation.fingerprint"
	AttrSimEventKind   = "simulation.event_kind"
	AttrSimRuns        = "simulation.runs"
	AttrSimHorizon     = "simulation.horizon_minutes"
	AttrSimCascade     = "simulation.cascade_depth"

	// Приём телеметрии
	AttrIngestSource    = "ingest.source_id"
	AttrIngestDataType  = "ingest.data_type"
	AttrIngestBatchSize = "ingest.batch_size"
	AttrIngestAccepted  = "ingest.accepted"
)

// GraphAttributes возвращает атрибуты среза графа
func GraphAttributes(version uint64, nodes, edges int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrGraphVersion, int64(version)),
		attribute.Int(AttrGraphNodes, nodes),
		attribute.Int(AttrGraphEdges, edges),
	}
}

// SimulationAttributes возвращает атрибуты запуска симуляции
func SimulationAttributes(fingerprint, eventKind string, runs int, horizonMinutes float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSimFingerprint, fingerprint),
		attribute.String(AttrSimEventKind, eventKind),
		attribute.Int(AttrSimRuns, runs),
		attribute.Float64(AttrSimHorizon, horizonMinutes),
	}
}

// BatchAttributes возвращает атрибуты пакетного приёма
func BatchAttributes(size, accepted int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrIngestBatchSize, size),
		attribute.Int(AttrIngestAccepted, accepted),
	}
}
