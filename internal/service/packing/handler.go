// Package packing — стадия упаковки: получает OrderPicked и публикует OrderPacked.
package packing

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	"github.com/vladislavdragonenkov/streamflow/internal/service/routing"
	"github.com/vladislavdragonenkov/streamflow/internal/service/stage"
)

// Размеры коробок.
const (
	BoxSmall    = "Small"
	BoxStandard = "Standard"
	BoxLarge    = "Large"
)

// UnitWeight: условный вес одной единицы товара, кг.
var UnitWeight = decimal.RequireFromString("0.5")

// Config настраивает стадию упаковки.
type Config struct {
	PackedBy string
	Work     stage.Work
	Workers  int
}

// Handler: потребитель очереди packing-order-picked.
type Handler struct {
	publisher messaging.Publisher
	router    *routing.Router
	clock     clockwork.Clock
	cfg       Config
	logger    *log.Entry
}

// NewHandler создаёт стадию упаковки.
func NewHandler(publisher messaging.Publisher, router *routing.Router, clock clockwork.Clock, cfg Config, logger *log.Entry) *Handler {
	if router == nil {
		router = routing.NewRouter(nil)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.WithField("component", "packing")
	}
	if cfg.PackedBy == "" {
		cfg.PackedBy = "System"
	}
	return &Handler{publisher: publisher, router: router, clock: clock, cfg: cfg, logger: logger}
}

// Subscription возвращает подписку стадии.
func (h *Handler) Subscription() messaging.Subscription {
	return messaging.Subscription{
		Queue:    events.QueuePackingOrderPicked,
		Types:    []events.MessageType{events.TypeOrderPicked},
		Workers:  h.cfg.Workers,
		Priority: true,
		Handler:  h.Handle,
	}
}

// Handle упаковывает собранные позиции.
func (h *Handler) Handle(ctx context.Context, msg messaging.Message) error {
	picked, err := events.Unmarshal[events.OrderPicked](msg.Body)
	if err != nil {
		return err
	}

	if err := h.cfg.Work.Do(ctx); err != nil {
		return err
	}

	units := events.TotalQuantity(picked.Items)
	priority := h.router.Carry(picked.Priority, picked.ShippingAddress.Country, picked.OrderType)
	packed := events.OrderPacked{
		OrderID:         picked.OrderID,
		OrderNo:         picked.OrderNo,
		Priority:        priority,
		CorrelationID:   picked.CorrelationID,
		PackedAt:        h.clock.Now().UTC(),
		PackedBy:        h.cfg.PackedBy,
		TotalWeight:     Weight(units),
		BoxSize:         BoxSize(units),
		Items:           picked.Items,
		ShippingAddress: picked.ShippingAddress,
	}
	if err := messaging.PublishEvent(ctx, h.publisher, packed, priority); err != nil {
		return fmt.Errorf("publish packed for order %s: %w", picked.OrderID, err)
	}

	h.logger.WithFields(log.Fields{
		"order_id":       picked.OrderID,
		"order_no":       picked.OrderNo,
		"correlation_id": picked.CorrelationID,
		"units":          units,
		"box_size":       packed.BoxSize,
		"total_weight":   packed.TotalWeight.String(),
	}).Info("order packed")
	return nil
}

// Weight возвращает вес посылки по числу единиц.
func Weight(units int32) decimal.Decimal {
	return UnitWeight.Mul(decimal.NewFromInt32(units))
}

// BoxSize подбирает коробку: до 2 единиц Small, до 5 Standard, иначе Large.
func BoxSize(units int32) string {
	switch {
	case units <= 2:
		return BoxSmall
	case units <= 5:
		return BoxStandard
	default:
		return BoxLarge
	}
}
