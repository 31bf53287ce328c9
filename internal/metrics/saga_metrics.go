// Package metrics содержит Prometheus метрики саги исполнения заказов.
// Методы безопасны для nil-получателя: компонент без метрик просто их не пишет.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики сервиса заказов.
type SagaMetrics struct {
	// Переходы заказа и отброшенные события
	transitions *prometheus.CounterVec
	dropped     *prometheus.CounterVec

	conflictRetries prometheus.Counter
	applyDuration   *prometheus.HistogramVec

	timelineEvents prometheus.Counter

	// Приём заказов
	ordersCreated  prometheus.Counter
	ordersRejected prometheus.Counter
}

// NewSagaMetrics создаёт метрики в глобальном registry.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer создаёт метрики в заданном registry.
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "streamflow_saga_transitions_total",
			Help: "Total number of applied order state transitions grouped by target state",
		}, []string{"state"}),
		dropped: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "streamflow_saga_events_dropped_total",
			Help: "Total number of saga events dropped without changes grouped by reason",
		}, []string{"message_type", "reason"}),
		conflictRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "streamflow_saga_conflict_retries_total",
			Help: "Total number of retries caused by optimistic concurrency conflicts",
		}),
		applyDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "streamflow_saga_apply_duration_seconds",
			Help:    "Duration of applying a saga event to an order in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"message_type"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "streamflow_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "streamflow_orders_created_total",
			Help: "Total number of orders accepted by intake",
		}),
		ordersRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "streamflow_orders_rejected_total",
			Help: "Total number of orders rejected by validation",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordTransition фиксирует применённый переход в состояние state.
func (m *SagaMetrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// RecordDropped фиксирует событие, отброшенное без изменений
// (заказ не найден, устаревшее событие, повторная доставка).
func (m *SagaMetrics) RecordDropped(messageType, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(messageType, reason).Inc()
}

// RecordConflictRetry увеличивает счётчик повторов после конфликта версий.
func (m *SagaMetrics) RecordConflictRetry() {
	if m == nil {
		return
	}
	m.conflictRetries.Inc()
}

// RecordApplyDuration записывает время применения события.
func (m *SagaMetrics) RecordApplyDuration(messageType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.applyDuration.WithLabelValues(messageType).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *SagaMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOrderCreated увеличивает счётчик принятых заказов.
func (m *SagaMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderRejected увеличивает счётчик отклонённых заказов.
func (m *SagaMetrics) RecordOrderRejected() {
	if m == nil {
		return
	}
	m.ordersRejected.Inc()
}
