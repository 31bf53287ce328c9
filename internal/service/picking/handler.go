// Package picking — стадия сборки: получает StockReserved и публикует
// OrderPicked только для зарезервированных позиций.
package picking

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	"github.com/vladislavdragonenkov/streamflow/internal/service/routing"
	"github.com/vladislavdragonenkov/streamflow/internal/service/stage"
)

// Config настраивает стадию сборки.
type Config struct {
	// PickedBy: имя сборщика в событии OrderPicked.
	PickedBy string
	Work     stage.Work
	Workers  int
}

// Handler: потребитель очереди picking-stock-reserved.
type Handler struct {
	publisher messaging.Publisher
	router    *routing.Router
	clock     clockwork.Clock
	cfg       Config
	logger    *log.Entry
}

// NewHandler создаёт стадию сборки.
func NewHandler(publisher messaging.Publisher, router *routing.Router, clock clockwork.Clock, cfg Config, logger *log.Entry) *Handler {
	if router == nil {
		router = routing.NewRouter(nil)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.WithField("component", "picking")
	}
	cfg.PickedBy = stage.WorkerName(cfg.PickedBy, "picker")
	return &Handler{publisher: publisher, router: router, clock: clock, cfg: cfg, logger: logger}
}

// Subscription возвращает подписку стадии. Очередь приоритетная: срочные
// заказы собираются раньше.
func (h *Handler) Subscription() messaging.Subscription {
	return messaging.Subscription{
		Queue:    events.QueuePickingStockReserved,
		Types:    []events.MessageType{events.TypeStockReserved},
		Workers:  h.cfg.Workers,
		Priority: true,
		Handler:  h.Handle,
	}
}

// Handle собирает зарезервированные позиции заказа.
func (h *Handler) Handle(ctx context.Context, msg messaging.Message) error {
	reserved, err := events.Unmarshal[events.StockReserved](msg.Body)
	if err != nil {
		return err
	}

	entry := h.logger.WithFields(log.Fields{
		"order_id":       reserved.OrderID,
		"order_no":       reserved.OrderNo,
		"correlation_id": reserved.CorrelationID,
		"partial":        reserved.IsPartialReservation,
	})
	if len(reserved.Items) == 0 {
		entry.Warn("reservation without items, nothing to pick")
		return nil
	}

	if err := h.cfg.Work.Do(ctx); err != nil {
		return err
	}

	priority := h.router.Carry(reserved.Priority, reserved.ShippingAddress.Country, reserved.OrderType)
	picked := events.OrderPicked{
		OrderID:         reserved.OrderID,
		OrderNo:         reserved.OrderNo,
		OrderType:       reserved.OrderType,
		Priority:        priority,
		CorrelationID:   reserved.CorrelationID,
		PickedAt:        h.clock.Now().UTC(),
		PickedBy:        h.cfg.PickedBy,
		Items:           reserved.Items,
		Customer:        reserved.Customer,
		ShippingAddress: reserved.ShippingAddress,
	}
	if err := messaging.PublishEvent(ctx, h.publisher, picked, priority); err != nil {
		return fmt.Errorf("publish picked for order %s: %w", reserved.OrderID, err)
	}

	entry.WithFields(log.Fields{
		"items":     len(picked.Items),
		"picked_by": picked.PickedBy,
		"priority":  priority,
	}).Info("order picked")
	return nil
}
