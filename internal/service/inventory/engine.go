package inventory

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/service/routing"
)

// Engine принимает решение о резервировании. Состояния между вызовами не хранит.
type Engine struct {
	checker AvailabilityChecker
	router  *routing.Router
	clock   clockwork.Clock
}

// NewEngine создаёт Engine. router и clock могут быть nil.
func NewEngine(checker AvailabilityChecker, router *routing.Router, clock clockwork.Clock) *Engine {
	if router == nil {
		router = routing.NewRouter(nil)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{checker: checker, router: router, clock: clock}
}

// Result: событие решения и приоритет, с которым его нужно опубликовать.
type Result struct {
	Event    events.Event
	Decision routing.Decision
	Priority uint8
}

// Evaluate проверяет позиции заказа и строит StockReserved или StockUnavailable.
func (e *Engine) Evaluate(ctx context.Context, order events.OrderCreated) (Result, error) {
	if order.OrderID == "" {
		return Result{}, fmt.Errorf("evaluate order: empty order id")
	}

	items := MergeItems(order.Items)
	var available, unavailable []events.Item
	for _, item := range items {
		ok, err := e.checker.IsAvailable(ctx, item)
		if err != nil {
			return Result{}, fmt.Errorf("check availability of %s: %w", item.SKU, err)
		}
		if ok {
			available = append(available, item)
		} else {
			unavailable = append(unavailable, item)
		}
	}

	decision := routing.Decide(available, unavailable)
	priority := e.router.Carry(order.Priority, order.ShippingAddress.Country, order.OrderType)
	now := e.clock.Now().UTC()

	result := Result{Decision: decision, Priority: priority}
	if decision.Variant == events.TypeStockUnavailable {
		result.Event = events.StockUnavailable{
			OrderID:         order.OrderID,
			OrderNo:         order.OrderNo,
			Priority:        priority,
			CorrelationID:   order.CorrelationID,
			UnavailableSKUs: events.SKUs(decision.Unavailable),
			Reason:          decision.Reason(),
			CheckedAt:       now,
		}
		return result, nil
	}

	result.Event = events.StockReserved{
		OrderID:              order.OrderID,
		OrderNo:              order.OrderNo,
		OrderType:            order.OrderType,
		Priority:             priority,
		CorrelationID:        order.CorrelationID,
		ReservedAt:           now,
		Items:                decision.Actionable,
		Customer:             order.Customer,
		ShippingAddress:      order.ShippingAddress,
		IsPartialReservation: decision.Partial,
		TotalRequested:       decision.TotalRequested,
		TotalReserved:        decision.TotalReserved,
	}
	return result, nil
}

// MergeItems объединяет позиции с одинаковым SKU, суммируя количество.
// Порядок первых вхождений сохраняется.
func MergeItems(items []events.Item) []events.Item {
	out := make([]events.Item, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := index[item.SKU]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.SKU] = len(out)
		out = append(out, item)
	}
	return out
}
