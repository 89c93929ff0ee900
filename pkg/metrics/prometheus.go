package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics глобальный контейнер метрик
type Metrics struct {
	// Ingestion метрики
	IngestRecordsTotal  *prometheus.CounterVec
	IngestRejectedTotal *prometheus.CounterVec
	IngestBufferDepth   *prometheus.GaugeVec
	IngestApplyDuration *prometheus.HistogramVec

	// Graph метрики
	GraphNodes     prometheus.Gauge
	GraphEdges     prometheus.Gauge
	GraphMutations *prometheus.CounterVec

	// Simulation метрики
	SimulationsTotal   *prometheus.CounterVec
	SimulationDuration *prometheus.HistogramVec
	SimulationRuns     *prometheus.HistogramVec
	CascadeDepth       *prometheus.HistogramVec

	// Coordinator метрики
	JobsInFlight   prometheus.Gauge
	QueueDepth     prometheus.Gauge
	DedupHitsTotal prometheus.Counter
	CacheHitsTotal prometheus.Counter

	// Fanout метрики
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec

	// Информация о сервисе
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics инициализирует метрики
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		// Ingestion метрики
		IngestRecordsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ingest_records_total",
				Help:      "Total number of ingestion records accepted",
			},
			[]string{"data_type"},
		),

		IngestRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ingest_rejected_total",
				Help:      "Total number of rejected ingestion records",
			},
			[]string{"reason"},
		),

		IngestBufferDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ingest_buffer_depth",
				Help:      "Current depth of ingestion buffers",
			},
			[]string{"source_class"},
		),

		IngestApplyDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ingest_apply_duration_seconds",
				Help:      "Duration of applying ingested mutations to the graph",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"data_type"},
		),

		// Graph метрики
		GraphNodes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "graph_nodes",
				Help:      "Current number of nodes in the dependency graph",
			},
		),

		GraphEdges: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "graph_edges",
				Help:      "Current number of edges in the dependency graph",
			},
		),

		GraphMutations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "graph_mutations_total",
				Help:      "Total number of graph mutations",
			},
			[]string{"operation"},
		),

		// Simulation метрики
		SimulationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "simulations_total",
				Help:      "Total number of cascade simulations",
			},
			[]string{"status"},
		),

		SimulationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "simulation_duration_seconds",
				Help:      "Duration of cascade simulations",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),

		SimulationRuns: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "simulation_runs",
				Help:      "Number of Monte Carlo runs per simulation",
				Buckets:   []float64{100, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"status"},
		),

		CascadeDepth: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cascade_depth",
				Help:      "Longest failure chain observed per simulation",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"event_kind"},
		),

		// Coordinator метрики
		JobsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_in_flight",
				Help:      "Current number of simulation jobs being executed",
			},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "coordinator_queue_depth",
				Help:      "Current depth of the coordinator queue",
			},
		),

		DedupHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dedup_hits_total",
				Help:      "Submissions attached to an in-flight identical job",
			},
		),

		CacheHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "result_cache_hits_total",
				Help:      "Submissions resolved from the result cache",
			},
		),

		// Fanout метрики
		EventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_published_total",
				Help:      "Total number of events published to the fan-out bus",
			},
			[]string{"topic"},
		),

		EventsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_dropped_total",
				Help:      "Events dropped due to slow subscribers",
			},
			[]string{"topic"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	prometheus.MustRegister(NewRuntimeCollector(namespace, subsystem))

	defaultMetrics = m
	return m
}

// Get возвращает глобальные метрики
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("stratum", "")
	}
	return defaultMetrics
}

// RecordIngestAccepted записывает принятую запись телеметрии
func (m *Metrics) RecordIngestAccepted(dataType string, applyDuration time.Duration) {
	m.IngestRecordsTotal.WithLabelValues(dataType).Inc()
	m.IngestApplyDuration.WithLabelValues(dataType).Observe(applyDuration.Seconds())
}

// RecordIngestRejected записывает отклонённую запись телеметрии
func (m *Metrics) RecordIngestRejected(reason string) {
	m.IngestRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordGraphSize записывает текущий размер графа
func (m *Metrics) RecordGraphSize(nodes, edges int) {
	m.GraphNodes.Set(float64(nodes))
	m.GraphEdges.Set(float64(edges))
}

// RecordMutation записывает мутацию графа
func (m *Metrics) RecordMutation(operation string) {
	m.GraphMutations.WithLabelValues(operation).Inc()
}

// RecordSimulation записывает завершённую симуляцию
func (m *Metrics) RecordSimulation(status string, runs int, duration time.Duration) {
	m.SimulationsTotal.WithLabelValues(status).Inc()
	m.SimulationDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.SimulationRuns.WithLabelValues(status).Observe(float64(runs))
}

// RecordCascadeDepth записывает глубину каскада
func (m *Metrics) RecordCascadeDepth(eventKind string, depth int) {
	m.CascadeDepth.WithLabelValues(eventKind).Observe(float64(depth))
}

// RecordEventPublished записывает публикацию события
func (m *Metrics) RecordEventPublished(topic string) {
	m.EventsPublished.WithLabelValues(topic).Inc()
}

// RecordEventDropped записывает потерю события медленным подписчиком
func (m *Metrics) RecordEventDropped(topic string, count int) {
	m.EventsDropped.WithLabelValues(topic).Add(float64(count))
}

// SetServiceInfo устанавливает информацию о сервисе
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler возвращает HTTP handler для /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer запускает HTTP сервер для метрик
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		// Игнорируем ошибку записи - response уже отправлен
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, ошибка записи не критична
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
