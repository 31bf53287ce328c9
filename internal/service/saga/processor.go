// Package saga — сторона сервиса заказов: применяет события стадий склада к
// агрегату заказа и ведёт историю статусов.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	"github.com/vladislavdragonenkov/streamflow/internal/metrics"
)

// Причины, по которым событие отброшено без изменений.
const (
	dropNotFound  = "not_found"
	dropStale     = "stale"
	dropDuplicate = "duplicate"
	dropInvalid   = "invalid_order"
)

// Processor: потребитель событий саги на стороне сервиса заказов.
type Processor struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	retry    *ConflictRetry
	clock    clockwork.Clock
	metrics  *metrics.SagaMetrics
	logger   *log.Entry
}

type options struct {
	retry   RetryConfig
	clock   clockwork.Clock
	metrics *metrics.SagaMetrics
	logger  *log.Entry
}

// Option настраивает Processor.
type Option func(*options)

// WithRetryConfig задаёт параметры повтора при конфликте версий.
func WithRetryConfig(config RetryConfig) Option {
	return func(o *options) {
		o.retry = config
	}
}

// WithClock подменяет часы.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithMetrics подключает метрики саги.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewProcessor создаёт потребителя. timeline может быть nil.
func NewProcessor(orders domain.OrderRepository, timeline domain.TimelineRepository, opts ...Option) *Processor {
	o := options{retry: DefaultRetryConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "saga")
	}
	return &Processor{
		orders:   orders,
		timeline: timeline,
		retry:    NewConflictRetry(o.retry, o.clock, o.metrics, o.logger),
		clock:    o.clock,
		metrics:  o.metrics,
		logger:   o.logger,
	}
}

// Subscriptions возвращает подписки сервиса заказов, по очереди на тип события.
func (p *Processor) Subscriptions(workers int) []messaging.Subscription {
	sub := func(queue string, t events.MessageType, handler messaging.Handler) messaging.Subscription {
		return messaging.Subscription{
			Queue:   queue,
			Types:   []events.MessageType{t},
			Workers: workers,
			Handler: handler,
		}
	}
	return []messaging.Subscription{
		sub(events.QueueERPStockReserved, events.TypeStockReserved, p.HandleStockReserved),
		sub(events.QueueERPStockUnavailable, events.TypeStockUnavailable, p.HandleStockUnavailable),
		sub(events.QueueERPOrderPicked, events.TypeOrderPicked, p.HandleOrderPicked),
		sub(events.QueueERPOrderPacked, events.TypeOrderPacked, p.HandleOrderPacked),
		sub(events.QueueERPInvalidOrder, events.TypeOrderInvalid, p.HandleOrderInvalid),
	}
}

// HandleStockReserved применяет полное или частичное резервирование.
func (p *Processor) HandleStockReserved(ctx context.Context, msg messaging.Message) error {
	e, err := events.Unmarshal[events.StockReserved](msg.Body)
	if err != nil {
		return err
	}

	reason := "all items reserved"
	if e.IsPartialReservation {
		reason = fmt.Sprintf("partial reservation: %d of %d items", e.TotalReserved, e.TotalRequested)
	}
	skus := events.SKUs(e.Items)
	return p.apply(ctx, e, reason, func(order *domain.Order, at time.Time) (bool, error) {
		return order.ApplyReservation(skus, e.IsPartialReservation, at)
	})
}

// HandleStockUnavailable фиксирует отказ склада.
func (p *Processor) HandleStockUnavailable(ctx context.Context, msg messaging.Message) error {
	e, err := events.Unmarshal[events.StockUnavailable](msg.Body)
	if err != nil {
		return err
	}
	return p.apply(ctx, e, e.Reason, func(order *domain.Order, at time.Time) (bool, error) {
		return order.ApplyStockUnavailable(at)
	})
}

// HandleOrderPicked переводит собранные позиции в Picked.
func (p *Processor) HandleOrderPicked(ctx context.Context, msg messaging.Message) error {
	e, err := events.Unmarshal[events.OrderPicked](msg.Body)
	if err != nil {
		return err
	}
	skus := events.SKUs(e.Items)
	return p.apply(ctx, e, "picked by "+e.PickedBy, func(order *domain.Order, at time.Time) (bool, error) {
		return order.ApplyPicked(skus, at)
	})
}

// HandleOrderPacked переводит упакованные позиции в Packed.
func (p *Processor) HandleOrderPacked(ctx context.Context, msg messaging.Message) error {
	e, err := events.Unmarshal[events.OrderPacked](msg.Body)
	if err != nil {
		return err
	}
	reason := fmt.Sprintf("packed by %s in %s box, %s kg", e.PackedBy, e.BoxSize, e.TotalWeight.String())
	skus := events.SKUs(e.Items)
	return p.apply(ctx, e, reason, func(order *domain.Order, at time.Time) (bool, error) {
		return order.ApplyPacked(skus, at)
	})
}

// HandleOrderInvalid регистрирует отклонённый заказ. Заказ не сохранялся,
// поэтому в историю пишется только запись Failed.
func (p *Processor) HandleOrderInvalid(ctx context.Context, msg messaging.Message) error {
	e, err := events.Unmarshal[events.OrderInvalid](msg.Body)
	if err != nil {
		return err
	}

	p.logger.WithFields(log.Fields{
		"order_id":          e.OrderID,
		"correlation_id":    e.CorrelationID,
		"reason":            e.Reason,
		"validation_errors": e.ValidationErrors,
	}).Warn("order rejected by validation")
	p.metrics.RecordDropped(string(e.Type()), dropInvalid)

	if e.OrderID == "" || p.timeline == nil {
		return nil
	}
	return p.timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  e.OrderID,
		State:    domain.OrderStateFailed,
		Reason:   e.Reason,
		Occurred: e.InvalidatedAt,
	})
}

// apply загружает заказ, применяет переход и сохраняет результат.
// Не найденный заказ и устаревшее событие отбрасываются; опережающее событие
// и ошибки инфраструктуры возвращаются для повторной доставки.
func (p *Processor) apply(ctx context.Context, e events.Event, reason string, mutate func(order *domain.Order, at time.Time) (bool, error)) error {
	start := p.clock.Now()
	msgType := string(e.Type())
	defer func() {
		p.metrics.RecordApplyDuration(msgType, p.clock.Since(start))
	}()

	entry := p.logger.WithFields(log.Fields{
		"order_id":       e.AggregateID(),
		"correlation_id": e.Correlation(),
		"message_type":   msgType,
	})

	var (
		applied bool
		saved   domain.Order
	)
	err := p.retry.Do(ctx, e.AggregateID(), func(ctx context.Context) error {
		order, err := p.orders.Get(ctx, e.AggregateID())
		if err != nil {
			return err
		}
		changed, err := mutate(&order, p.clock.Now().UTC())
		if err != nil {
			return err
		}
		if !changed {
			applied = false
			saved = order
			return nil
		}
		saved, err = p.orders.Save(ctx, order)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})

	switch {
	case domain.IsNotFound(err):
		entry.Warn("order not found, event dropped")
		p.metrics.RecordDropped(msgType, dropNotFound)
		return nil
	case errors.Is(err, domain.ErrTransitionStale), errors.Is(err, domain.ErrItemStatusRegression):
		entry.WithError(err).Info("stale event dropped")
		p.metrics.RecordDropped(msgType, dropStale)
		return nil
	case errors.Is(err, domain.ErrTransitionPremature):
		entry.Info("event is ahead of order state, will be redelivered")
		return err
	case err != nil:
		return fmt.Errorf("apply %s to order %s: %w", msgType, e.AggregateID(), err)
	}

	if !applied {
		entry.WithField("state", saved.State).Debug("event already applied")
		p.metrics.RecordDropped(msgType, dropDuplicate)
		return nil
	}

	p.metrics.RecordTransition(string(saved.State))
	entry.WithFields(log.Fields{
		"order_no": saved.OrderNo,
		"state":    saved.State,
		"version":  saved.Version,
	}).Info("order state updated")

	p.recordTimeline(ctx, entry, saved, reason)
	return nil
}

// recordTimeline пишет историю отдельно от заказа: сбой записи не откатывает переход.
func (p *Processor) recordTimeline(ctx context.Context, entry *log.Entry, order domain.Order, reason string) {
	if p.timeline == nil {
		return
	}
	err := p.timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		State:    order.State,
		Reason:   reason,
		Occurred: order.UpdatedAt,
	})
	if err != nil {
		entry.WithError(err).Warn("failed to append timeline event")
		return
	}
	p.metrics.RecordTimelineEvent()
}
