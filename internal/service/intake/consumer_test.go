package intake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	membus "github.com/vladislavdragonenkov/streamflow/internal/messaging/memory"
)

func TestConsumerPublishesResponse(t *testing.T) {
	f := newFixture(t)
	bus := membus.NewBus(nil, nil)
	consumer := NewConsumer(f.service, bus, nil)

	msg, err := messaging.NewMessage(events.CreateOrderRequest{Order: validOrder("SE")}, events.PriorityStandard)
	require.NoError(t, err)
	msg.CorrelationID = "corr-envelope"
	msg.ReplyTo = "client-42"

	require.NoError(t, consumer.Handle(context.Background(), msg))

	replies := bus.PublishedOf(events.TypeCreateOrderResponse)
	require.Len(t, replies, 1)
	assert.Equal(t, "client-42", replies[0].ReplyTo)
	assert.Equal(t, "corr-envelope", replies[0].CorrelationID)

	resp, err := events.Unmarshal[events.CreateOrderResponse](replies[0].Body)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccessfullyCreated)
	assert.Equal(t, DefaultOrderNoFloor, resp.OrderNo)
}

func TestConsumerRepliesToInvalidRequest(t *testing.T) {
	f := newFixture(t)
	bus := membus.NewBus(nil, nil)
	consumer := NewConsumer(f.service, bus, nil)

	payload := validOrder("SE")
	payload.Customer.Email = ""
	msg, err := messaging.NewMessage(events.CreateOrderRequest{Order: payload, CorrelationID: "corr-bad"}, events.PriorityStandard)
	require.NoError(t, err)

	require.NoError(t, consumer.Handle(context.Background(), msg))

	replies := bus.PublishedOf(events.TypeCreateOrderResponse)
	require.Len(t, replies, 1)
	resp, err := events.Unmarshal[events.CreateOrderResponse](replies[0].Body)
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessfullyCreated)
	assert.Contains(t, resp.ErrorMessage, "Customer.Email is required")
}

func TestConsumerMalformedRequest(t *testing.T) {
	f := newFixture(t)
	bus := membus.NewBus(nil, nil)
	consumer := NewConsumer(f.service, bus, nil)

	err := consumer.Handle(context.Background(), messaging.Message{Type: events.TypeCreateOrderRequest, Body: []byte("[")})
	require.Error(t, err)
	assert.Empty(t, bus.Published())
}

func TestConsumerSubscription(t *testing.T) {
	consumer := NewConsumer(newFixture(t).service, membus.NewBus(nil, nil), nil)
	sub := consumer.Subscription(3)

	assert.Equal(t, events.QueueCreateOrderRequest, sub.Queue)
	assert.Equal(t, []events.MessageType{events.TypeCreateOrderRequest}, sub.Types)
	assert.Equal(t, 3, sub.Workers)
}
