package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

// PipelineMetrics: метрики транспорта: доставки, fault записи и backlog outbox.
type PipelineMetrics struct {
	deliveries *prometheus.CounterVec
	faults     *prometheus.CounterVec

	outboxPublishes     *prometheus.CounterVec
	outboxPending       prometheus.Gauge
	outboxStuck         prometheus.Gauge
	outboxOldestPending prometheus.Gauge

	cleanupRuns        *prometheus.CounterVec
	cleanupDeleted     prometheus.Counter
	cleanupLastDeleted prometheus.Gauge
}

// NewPipelineMetrics создаёт метрики в глобальном registry.
func NewPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPipelineMetricsWithRegisterer создаёт метрики в заданном registry.
func NewPipelineMetricsWithRegisterer(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		deliveries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "streamflow_deliveries_total",
			Help: "Total number of message delivery attempts grouped by queue and result",
		}, []string{"queue", "result"}),
		faults: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "streamflow_faults_total",
			Help: "Total number of messages escalated to dead-letter grouped by message type",
		}, []string{"message_type"}),
		outboxPublishes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "streamflow_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "streamflow_outbox_pending_records",
			Help: "Current number of outbox records awaiting publication",
		}),
		outboxStuck: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "streamflow_outbox_manual_review_records",
			Help: "Current number of outbox records that exhausted publish retries",
		}),
		outboxOldestPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "streamflow_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		cleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "streamflow_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"}),
		cleanupDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "streamflow_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		}),
		cleanupLastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "streamflow_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run",
		}),
	}
}

// ObserveDelivery учитывает результат попытки доставки.
func (m *PipelineMetrics) ObserveDelivery(queue, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(queue, result).Inc()
}

// RecordFault учитывает сообщение, переданное в dead-letter.
func (m *PipelineMetrics) RecordFault(messageType string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(messageType).Inc()
}

// RecordOutboxPublish учитывает попытку публикации outbox записи.
func (m *PipelineMetrics) RecordOutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublishes.WithLabelValues(result).Inc()
}

// SetOutboxBacklog обновляет gauges backlog по статистике outbox.
func (m *PipelineMetrics) SetOutboxBacklog(stats domain.OutboxStats, now time.Time) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(stats.PendingCount))
	m.outboxStuck.Set(float64(stats.StuckCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		m.outboxOldestPending.Set(0)
		return
	}

	age := now.Sub(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	m.outboxOldestPending.Set(age)
}

// RecordCleanupRun учитывает цикл очистки ключей идемпотентности.
func (m *PipelineMetrics) RecordCleanupRun(result string, deleted int) {
	if m == nil {
		return
	}
	m.cleanupRuns.WithLabelValues(result).Inc()
	if result != "ok" {
		return
	}
	m.cleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		m.cleanupDeleted.Add(float64(deleted))
	}
}
