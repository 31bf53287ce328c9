package picking

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging/memory"
)

var pickedAt = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func reservedMessage(t *testing.T, reserved events.StockReserved) messaging.Message {
	t.Helper()
	msg, err := messaging.NewMessage(reserved, reserved.Priority)
	require.NoError(t, err)
	return msg
}

func TestPickingPublishesReservedItemsOnly(t *testing.T) {
	t.Parallel()

	bus := memory.NewBus(nil, nil)
	handler := NewHandler(bus, nil, clockwork.NewFakeClockAt(pickedAt), Config{PickedBy: "picker-7"}, nil)

	reserved := events.StockReserved{
		OrderID:              "order-1",
		OrderNo:              1000,
		OrderType:            "Standard",
		CorrelationID:        "corr-1",
		IsPartialReservation: true,
		TotalRequested:       3,
		TotalReserved:        2,
		Items: []events.Item{
			{SKU: "SKU-A", Quantity: 1, UnitPrice: decimal.NewFromInt(10)},
			{SKU: "SKU-C", Quantity: 3, UnitPrice: decimal.NewFromInt(5)},
		},
		ShippingAddress: events.Address{Country: "SE"},
	}

	require.NoError(t, handler.Handle(context.Background(), reservedMessage(t, reserved)))

	published := bus.PublishedOf(events.TypeOrderPicked)
	require.Len(t, published, 1)
	assert.Equal(t, events.PriorityStandard, published[0].Priority)

	picked, err := events.Unmarshal[events.OrderPicked](published[0].Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"SKU-A", "SKU-C"}, events.SKUs(picked.Items))
	assert.Equal(t, "picker-7", picked.PickedBy)
	assert.Equal(t, pickedAt, picked.PickedAt)
	assert.Equal(t, int64(1000), picked.OrderNo)
	assert.Equal(t, "corr-1", picked.CorrelationID)
}

func TestPickingCarriesPriority(t *testing.T) {
	t.Parallel()

	bus := memory.NewBus(nil, nil)
	handler := NewHandler(bus, nil, clockwork.NewFakeClockAt(pickedAt), Config{}, nil)

	reserved := events.StockReserved{
		OrderID:         "order-2",
		OrderType:       "Priority",
		Items:           []events.Item{{SKU: "SKU-A", Quantity: 1}},
		ShippingAddress: events.Address{Country: "SE"},
	}
	require.NoError(t, handler.Handle(context.Background(), reservedMessage(t, reserved)))

	published := bus.PublishedOf(events.TypeOrderPicked)
	require.Len(t, published, 1)
	assert.Equal(t, events.PriorityExpedited, published[0].Priority)
}

func TestPickingSkipsEmptyReservation(t *testing.T) {
	t.Parallel()

	bus := memory.NewBus(nil, nil)
	handler := NewHandler(bus, nil, nil, Config{}, nil)

	require.NoError(t, handler.Handle(context.Background(), reservedMessage(t, events.StockReserved{OrderID: "order-3"})))
	assert.Empty(t, bus.Published())
}

func TestPickingSubscriptionIsPriorityQueue(t *testing.T) {
	t.Parallel()

	sub := NewHandler(memory.NewBus(nil, nil), nil, nil, Config{Workers: 3}, nil).Subscription()
	assert.Equal(t, events.QueuePickingStockReserved, sub.Queue)
	assert.True(t, sub.Priority)
	assert.Equal(t, 3, sub.Workers)
	assert.Equal(t, []events.MessageType{events.TypeStockReserved}, sub.Types)
}
