package domain

// Типы записей телеметрии, распознаваемые ядром.
// Остальные типы проходят в fan-out без применения к графу.
const (
	DataTypeSensorLoad   = "sensor.load"
	DataTypeSensorHealth = "sensor.health"
	DataTypeNodeUpsert   = "topology.node.upsert"
	DataTypeNodeRemove   = "topology.node.remove"
	DataTypeEdgeUpsert   = "topology.edge.upsert"
	DataTypeEdgeRemove   = "topology.edge.remove"
)

// KnownDataType сообщает, применяет ли ядро записи этого типа к графу
func KnownDataType(dataType string) bool {
	switch dataType {
	case DataTypeSensorLoad, DataTypeSensorHealth,
		DataTypeNodeUpsert, DataTypeNodeRemove,
		DataTypeEdgeUpsert, DataTypeEdgeRemove:
		return true
	}
	return false
}

// Топики шины событий
const (
	TopicGraphMutation       = "graph.mutation"
	TopicSimulationStarted   = "simulation.started"
	TopicSimulationCompleted = "simulation.completed"
	TopicSimulationFailed    = "simulation.failed"
	TopicIngestPassthrough   = "ingest.passthrough"
	TopicIngestApplyFailed   = "ingest.apply_failed"
)
