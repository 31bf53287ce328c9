package packing

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

func TestBoxSize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		units int32
		want  string
	}{
		{1, BoxSmall},
		{2, BoxSmall},
		{3, BoxStandard},
		{5, BoxStandard},
		{6, BoxLarge},
		{40, BoxLarge},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BoxSize(tc.units), "units=%d", tc.units)
	}
}

func TestWeight(t *testing.T) {
	t.Parallel()

	assert.True(t, Weight(3).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, Weight(0).IsZero())
}

func TestPackingPublishesOrderPacked(t *testing.T) {
	t.Parallel()

	packedAt := time.Date(2025, 3, 14, 11, 0, 0, 0, time.UTC)
	bus := memory.NewBus(nil, nil)
	handler := NewHandler(bus, nil, clockwork.NewFakeClockAt(packedAt), Config{}, nil)

	picked := events.OrderPicked{
		OrderID:       "order-1",
		OrderNo:       1000,
		OrderType:     "Standard",
		Priority:      events.PriorityExpedited,
		CorrelationID: "corr-1",
		Items: []events.Item{
			{SKU: "SKU-A", Quantity: 1},
			{SKU: "SKU-B", Quantity: 3},
		},
		ShippingAddress: events.Address{Country: "DK"},
	}
	msg, err := messaging.NewMessage(picked, picked.Priority)
	require.NoError(t, err)

	require.NoError(t, handler.Handle(context.Background(), msg))

	published := bus.PublishedOf(events.TypeOrderPacked)
	require.Len(t, published, 1)
	assert.Equal(t, events.PriorityExpedited, published[0].Priority)

	packed, err := events.Unmarshal[events.OrderPacked](published[0].Body)
	require.NoError(t, err)
	assert.Equal(t, BoxStandard, packed.BoxSize)
	assert.True(t, packed.TotalWeight.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "System", packed.PackedBy)
	assert.Equal(t, packedAt, packed.PackedAt)
	assert.Equal(t, []string{"SKU-A", "SKU-B"}, events.SKUs(packed.Items))
}

func TestPackingRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	bus := memory.NewBus(nil, nil)
	handler := NewHandler(bus, nil, nil, Config{}, nil)

	require.Error(t, handler.Handle(context.Background(), messaging.Message{Body: []byte("not json")}))
	assert.Empty(t, bus.Published())
}
