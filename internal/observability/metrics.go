package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	turnTotal    *prometheus.CounterVec
	turnCycles   prometheus.Histogram
	turnDuration prometheus.Histogram

	modelInvocationTotal    *prometheus.CounterVec
	modelInvocationDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolRetryTotal        *prometheus.CounterVec

	stateSaveTotal    *prometheus.CounterVec
	stateSaveDuration prometheus.Histogram
	stateLoadTotal    *prometheus.CounterVec

	busEventTotal   *prometheus.CounterVec
	busDroppedTotal *prometheus.CounterVec
	busSubscribers  prometheus.Gauge

	memoryWriteDuration  prometheus.Histogram
	memorySearchDuration prometheus.Histogram

	gatewayConnections  prometheus.Gauge
	gatewayRequestTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "luminous_queue_size",
					Help: "Current inbound command queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "luminous_enqueue_total",
					Help: "Total enqueued commands by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "luminous_dequeue_total",
					Help: "Total completed commands by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "luminous_task_duration_seconds",
					Help:    "Command execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "luminous_turn_total",
					Help: "Total conversation turns by terminal outcome.",
				},
				[]string{"outcome"},
			),
			turnCycles: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "luminous_turn_cycles",
					Help:    "Model/tool cycles per conversation turn.",
					Buckets: []float64{1, 2, 3, 5, 8, 10, 15},
				},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "luminous_turn_duration_seconds",
					Help:    "Conversation turn duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			modelInvocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "luminous_model_invocation_total",
					Help: "Total model invocations by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelInvocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "luminous_model_invocation_duration_seconds",
					Help:    "Model invocation duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "luminous_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "luminous_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolRetryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "luminous_tool_retry_total",
					Help: "Total retried network requests by operation.",
				},
				[]string{"operation"},
			),
			stateSaveTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "luminous_state_save_total",
					Help: "Total state saves by resulting tier.",
				},
				[]string{"tier"},
			),
			stateSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "luminous_state_save_duration_seconds",
					Help:    "State save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			stateLoadTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "luminous_state_load_total",
					Help: "Total state loads by source.",
				},
				[]string{"source"},
			),
			busEventTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "luminous_bus_event_total",
					Help: "Total published bus events by kind.",
				},
				[]string{"kind"},
			),
			busDroppedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "luminous_bus_dropped_total",
					Help: "Total bus events dropped for slow subscribers by kind.",
				},
				[]string{"kind"},
			),
			busSubscribers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "luminous_bus_subscribers",
					Help: "Current bus subscriber count.",
				},
			),
			memoryWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "luminous_memory_write_duration_seconds",
					Help:    "Memory chunk write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memorySearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "luminous_memory_search_duration_seconds",
					Help:    "Memory recall duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			gatewayConnections: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "luminous_gateway_connections",
					Help: "Current websocket connections.",
				},
			),
			gatewayRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "luminous_gateway_request_total",
					Help: "Total gateway RPC requests by method and status.",
				},
				[]string{"method", "status"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.turnTotal,
			m.turnCycles,
			m.turnDuration,
			m.modelInvocationTotal,
			m.modelInvocationDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolRetryTotal,
			m.stateSaveTotal,
			m.stateSaveDuration,
			m.stateLoadTotal,
			m.busEventTotal,
			m.busDroppedTotal,
			m.busSubscribers,
			m.memoryWriteDuration,
			m.memorySearchDuration,
			m.gatewayConnections,
			m.gatewayRequestTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, status(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordTurn(outcome string, cycles int, duration time.Duration) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(outcome).Inc()
	m.turnCycles.Observe(float64(cycles))
	m.turnDuration.Observe(duration.Seconds())
}

func RecordModelInvocation(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelInvocationTotal.WithLabelValues(provider, status(success)).Inc()
	m.modelInvocationDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordToolRetry(operation string) {
	getMetrics().toolRetryTotal.WithLabelValues(operation).Inc()
}

func RecordStateSave(tier string, duration time.Duration) {
	m := getMetrics()
	m.stateSaveTotal.WithLabelValues(tier).Inc()
	m.stateSaveDuration.Observe(duration.Seconds())
}

func RecordStateLoad(source string) {
	getMetrics().stateLoadTotal.WithLabelValues(source).Inc()
}

func RecordBusEvent(kind string) {
	getMetrics().busEventTotal.WithLabelValues(kind).Inc()
}

func RecordBusDrop(kind string) {
	getMetrics().busDroppedTotal.WithLabelValues(kind).Inc()
}

func SetBusSubscribers(count int) {
	getMetrics().busSubscribers.Set(float64(count))
}

func RecordMemoryWrite(duration time.Duration) {
	getMetrics().memoryWriteDuration.Observe(duration.Seconds())
}

func RecordMemorySearch(duration time.Duration) {
	getMetrics().memorySearchDuration.Observe(duration.Seconds())
}

func SetGatewayConnections(count int) {
	getMetrics().gatewayConnections.Set(float64(count))
}

func RecordGatewayRequest(method string, success bool) {
	getMetrics().gatewayRequestTotal.WithLabelValues(method, status(success)).Inc()
}
