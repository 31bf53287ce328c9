package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/service/routing"
)

var checkedAt = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func sampleOrderCreated() events.OrderCreated {
	return events.OrderCreated{
		OrderID:       "3f1c1f3e-5d7a-4b0e-9a57-7a5c2a4f1d10",
		OrderNo:       1042,
		OrderType:     "Standard",
		CorrelationID: "corr-1042",
		Items: []events.Item{
			{SKU: "SKU-A", ProductName: "Lamp", Quantity: 1, UnitPrice: decimal.NewFromInt(40)},
			{SKU: "SKU-B", ProductName: "Chair", Quantity: 2, UnitPrice: decimal.NewFromInt(25)},
			{SKU: "SKU-C", ProductName: "Rug", Quantity: 1, UnitPrice: decimal.NewFromInt(60)},
		},
		Customer:        events.Customer{CustomerID: "c-1", Name: "Ada Lovelace", Email: "ada@example.com"},
		ShippingAddress: events.Address{Street: "Main 1", City: "Oslo", PostalCode: "0150", Country: "NO"},
		TotalAmount:     decimal.NewFromInt(150),
		TotalItems:      4,
	}
}

func newTestEngine(checker AvailabilityChecker) *Engine {
	return NewEngine(checker, routing.NewRouter(nil), clockwork.NewFakeClockAt(checkedAt))
}

func TestEngineAllAvailable(t *testing.T) {
	t.Parallel()

	result, err := newTestEngine(NewStaticChecker()).Evaluate(context.Background(), sampleOrderCreated())
	require.NoError(t, err)

	reserved, ok := result.Event.(events.StockReserved)
	require.True(t, ok, "expected StockReserved, got %T", result.Event)
	assert.False(t, reserved.IsPartialReservation)
	assert.Equal(t, 3, reserved.TotalRequested)
	assert.Equal(t, 3, reserved.TotalReserved)
	assert.Len(t, reserved.Items, 3)
	assert.Equal(t, int64(1042), reserved.OrderNo)
	assert.Equal(t, "corr-1042", reserved.CorrelationID)
	assert.Equal(t, "Ada Lovelace", reserved.Customer.Name)
	assert.Equal(t, checkedAt, reserved.ReservedAt)
	assert.Equal(t, events.PriorityStandard, result.Priority)
}

func TestEnginePartial(t *testing.T) {
	t.Parallel()

	result, err := newTestEngine(NewStaticChecker("SKU-B")).Evaluate(context.Background(), sampleOrderCreated())
	require.NoError(t, err)

	reserved, ok := result.Event.(events.StockReserved)
	require.True(t, ok)
	assert.True(t, reserved.IsPartialReservation)
	assert.Equal(t, 3, reserved.TotalRequested)
	assert.Equal(t, 2, reserved.TotalReserved)
	assert.Equal(t, []string{"SKU-A", "SKU-C"}, events.SKUs(reserved.Items))
}

func TestEngineNoneAvailable(t *testing.T) {
	t.Parallel()

	checker := NewStaticChecker("SKU-A", "SKU-B", "SKU-C")
	result, err := newTestEngine(checker).Evaluate(context.Background(), sampleOrderCreated())
	require.NoError(t, err)

	unavailable, ok := result.Event.(events.StockUnavailable)
	require.True(t, ok, "expected StockUnavailable, got %T", result.Event)
	assert.Equal(t, []string{"SKU-A", "SKU-B", "SKU-C"}, unavailable.UnavailableSKUs)
	assert.Equal(t, "All 3 items out of stock", unavailable.Reason)
	assert.Equal(t, checkedAt, unavailable.CheckedAt)
}

func TestEngineMergesDuplicateSKUs(t *testing.T) {
	t.Parallel()

	order := sampleOrderCreated()
	order.Items = append(order.Items, events.Item{SKU: "SKU-A", ProductName: "Lamp", Quantity: 2, UnitPrice: decimal.NewFromInt(40)})

	checker := NewStaticChecker()
	result, err := newTestEngine(checker).Evaluate(context.Background(), order)
	require.NoError(t, err)

	reserved := result.Event.(events.StockReserved)
	assert.Equal(t, 3, checker.Calls())
	assert.Equal(t, 3, reserved.TotalRequested)
	assert.Equal(t, []string{"SKU-A", "SKU-B", "SKU-C"}, events.SKUs(reserved.Items))
	assert.Equal(t, int32(3), reserved.Items[0].Quantity)
}

func TestEngineCheckerFailure(t *testing.T) {
	t.Parallel()

	checker := NewStaticChecker()
	checker.FailWith(errors.New("stock source down"))

	_, err := newTestEngine(checker).Evaluate(context.Background(), sampleOrderCreated())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stock source down")
}

func TestEnginePriority(t *testing.T) {
	t.Parallel()

	order := sampleOrderCreated()
	order.ShippingAddress.Country = "DK"
	result, err := newTestEngine(NewStaticChecker()).Evaluate(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, events.PriorityExpedited, result.Priority)

	order = sampleOrderCreated()
	order.Priority = events.PriorityExpedited
	result, err = newTestEngine(NewStaticChecker("SKU-A", "SKU-B", "SKU-C")).Evaluate(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, events.PriorityExpedited, result.Event.(events.StockUnavailable).Priority)
}

func TestRandomCheckerRateBounds(t *testing.T) {
	t.Parallel()

	always := NewRandomChecker(1, 7)
	never := NewRandomChecker(-1, 7)
	for i := 0; i < 50; i++ {
		ok, err := always.IsAvailable(context.Background(), events.Item{SKU: "X"})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = never.IsAvailable(context.Background(), events.Item{SKU: "X"})
		require.NoError(t, err)
		assert.False(t, ok)
	}
}
