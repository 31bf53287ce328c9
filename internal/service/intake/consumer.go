package intake

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

// Consumer обслуживает request/response обмен CreateOrderRequest → CreateOrderResponse.
type Consumer struct {
	service   *Service
	publisher messaging.Publisher
	logger    *log.Entry
}

// NewConsumer создаёт потребителя очереди create-order-request.
func NewConsumer(service *Service, publisher messaging.Publisher, logger *log.Entry) *Consumer {
	if logger == nil {
		logger = log.WithField("component", "intake-consumer")
	}
	return &Consumer{service: service, publisher: publisher, logger: logger}
}

// Subscription возвращает подписку на запросы создания заказа.
func (c *Consumer) Subscription(workers int) messaging.Subscription {
	return messaging.Subscription{
		Queue:   events.QueueCreateOrderRequest,
		Types:   []events.MessageType{events.TypeCreateOrderRequest},
		Workers: workers,
		Handler: c.Handle,
	}
}

// Handle создаёт заказ и публикует ответ. Correlation id конверта используется,
// если в теле запроса он не задан. Ответ несёт ReplyTo запроса, чтобы
// вызывающая сторона могла отфильтровать свои ответы.
func (c *Consumer) Handle(ctx context.Context, msg messaging.Message) error {
	req, err := events.Unmarshal[events.CreateOrderRequest](msg.Body)
	if err != nil {
		return err
	}
	if req.CorrelationID == "" {
		req.CorrelationID = msg.CorrelationID
	}

	resp, err := c.service.CreateOrder(ctx, req)
	if err != nil {
		return err
	}

	reply, err := messaging.NewMessage(resp, msg.Priority)
	if err != nil {
		return err
	}
	reply.ReplyTo = msg.ReplyTo
	if err := c.publisher.Publish(ctx, reply); err != nil {
		return fmt.Errorf("publish create order response %s: %w", resp.CorrelationID, err)
	}

	c.logger.WithFields(log.Fields{
		"correlation_id": resp.CorrelationID,
		"order_no":       resp.OrderNo,
		"created":        resp.IsSuccessfullyCreated,
	}).Debug("create order response published")
	return nil
}
