package inventory

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	"github.com/vladislavdragonenkov/streamflow/internal/service/stage"
)

// Handler: потребитель OrderCreated на очереди inventory-check.
type Handler struct {
	engine    *Engine
	publisher messaging.Publisher
	work      stage.Work
	logger    *log.Entry
}

// NewHandler создаёт потребителя стадии склада.
func NewHandler(engine *Engine, publisher messaging.Publisher, work stage.Work, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "inventory")
	}
	return &Handler{engine: engine, publisher: publisher, work: work, logger: logger}
}

// Subscription возвращает подписку стадии.
func (h *Handler) Subscription(workers int) messaging.Subscription {
	return messaging.Subscription{
		Queue:   events.QueueInventoryCheck,
		Types:   []events.MessageType{events.TypeOrderCreated},
		Workers: workers,
		Handler: h.Handle,
	}
}

// Handle проверяет наличие позиций и публикует решение.
// Повторная доставка публикует решение повторно: его применение идемпотентно.
func (h *Handler) Handle(ctx context.Context, msg messaging.Message) error {
	order, err := events.Unmarshal[events.OrderCreated](msg.Body)
	if err != nil {
		return err
	}

	entry := h.logger.WithFields(log.Fields{
		"order_id":       order.OrderID,
		"order_no":       order.OrderNo,
		"correlation_id": order.CorrelationID,
	})

	if err := h.work.Do(ctx); err != nil {
		return err
	}

	result, err := h.engine.Evaluate(ctx, order)
	if err != nil {
		return err
	}

	if err := messaging.PublishEvent(ctx, h.publisher, result.Event, result.Priority); err != nil {
		return fmt.Errorf("publish stock decision for order %s: %w", order.OrderID, err)
	}

	entry.WithFields(log.Fields{
		"decision":        result.Event.Type(),
		"partial":         result.Decision.Partial,
		"total_requested": result.Decision.TotalRequested,
		"total_reserved":  result.Decision.TotalReserved,
		"priority":        result.Priority,
	}).Info("stock decision published")
	return nil
}
