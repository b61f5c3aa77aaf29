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
	turnDuration prometheus.Histogram
	turnSteps    prometheus.Histogram

	stateLoadDuration prometheus.Histogram
	stateSaveDuration prometheus.Histogram
	statePersistFail  prometheus.Counter

	historyLoadDuration prometheus.Histogram
	historySaveDuration prometheus.Histogram
	activeSessions      prometheus.Gauge

	operationTotal    *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	delegationAttempts  *prometheus.CounterVec
	delegationDuration  *prometheus.HistogramVec
	registeredAgents    prometheus.Gauge
	handshakeFailsTotal *prometheus.CounterVec
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
					Name: "dispatch_queue_size",
					Help: "Current dispatch queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dispatch_task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_total",
					Help: "Total processed conversational turns by status.",
				},
				[]string{"status"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Turn processing duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			turnSteps: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "turn_reasoning_steps",
					Help:    "Reasoning driver steps consumed per turn.",
					Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
				},
			),
			stateLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "state_load_duration_seconds",
					Help:    "Conversation state load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			stateSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "state_save_duration_seconds",
					Help:    "Conversation state save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			statePersistFail: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "state_persist_failures_total",
					Help: "Turns that completed on in-memory state after a persist failure.",
				},
			),
			historyLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_load_duration_seconds",
					Help:    "Message history load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			historySaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_save_duration_seconds",
					Help:    "Message history append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			operationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "workflow_operation_total",
					Help: "Total workflow operation invocations by operation and status.",
				},
				[]string{"operation", "status"},
			),
			operationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "workflow_operation_duration_seconds",
					Help:    "Workflow operation duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"operation"},
			),
			delegationAttempts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "delegation_attempts_total",
					Help: "Remote agent call attempts by agent and status.",
				},
				[]string{"agent", "status"},
			),
			delegationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "delegation_duration_seconds",
					Help:    "Remote agent call duration in seconds by agent.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			registeredAgents: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "registered_agents",
					Help: "Remote agents that passed the startup handshake.",
				},
			),
			handshakeFailsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "handshake_failures_total",
					Help: "Failed remote agent handshakes by base URL.",
				},
				[]string{"url"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.turnTotal,
			m.turnDuration,
			m.turnSteps,
			m.stateLoadDuration,
			m.stateSaveDuration,
			m.statePersistFail,
			m.historyLoadDuration,
			m.historySaveDuration,
			m.activeSessions,
			m.operationTotal,
			m.operationDuration,
			m.delegationAttempts,
			m.delegationDuration,
			m.registeredAgents,
			m.handshakeFailsTotal,
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

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordTurn(status string, duration time.Duration, steps int) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(status).Inc()
	m.turnDuration.Observe(duration.Seconds())
	m.turnSteps.Observe(float64(steps))
}

func RecordStateLoad(duration time.Duration) {
	m := getMetrics()
	m.stateLoadDuration.Observe(duration.Seconds())
}

func RecordStateSave(duration time.Duration) {
	m := getMetrics()
	m.stateSaveDuration.Observe(duration.Seconds())
}

func RecordStatePersistFailure() {
	m := getMetrics()
	m.statePersistFail.Inc()
}

func RecordHistoryLoad(duration time.Duration) {
	m := getMetrics()
	m.historyLoadDuration.Observe(duration.Seconds())
}

func RecordHistorySave(duration time.Duration) {
	m := getMetrics()
	m.historySaveDuration.Observe(duration.Seconds())
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordOperation(operation string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.operationTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordDelegationAttempt(agent string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.delegationAttempts.WithLabelValues(agent, status).Inc()
	m.delegationDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

func SetRegisteredAgents(count int) {
	m := getMetrics()
	m.registeredAgents.Set(float64(count))
}

func RecordHandshakeFailure(url string) {
	m := getMetrics()
	m.handshakeFailsTotal.WithLabelValues(url).Inc()
}
