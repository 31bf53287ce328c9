package rabbitmq

import (
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

func toPublishing(msg messaging.Message) amqp.Publishing {
	headers := amqp.Table{
		messaging.HeaderMessageType: string(msg.Type),
		messaging.HeaderPriority:    strconv.Itoa(int(msg.Priority)),
	}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	return amqp.Publishing{
		Headers:       headers,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Priority:      msg.Priority,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		MessageId:     msg.ID,
		Timestamp:     msg.Timestamp,
		Type:          string(msg.Type),
		AppId:         msg.Key,
		Body:          msg.Body,
	}
}

func fromDelivery(queue string, d amqp.Delivery) messaging.Message {
	msg := messaging.Message{
		ID:            d.MessageId,
		Type:          events.MessageType(d.Type),
		Key:           d.AppId,
		CorrelationID: d.CorrelationId,
		Priority:      d.Priority,
		ReplyTo:       d.ReplyTo,
		Body:          d.Body,
		Timestamp:     d.Timestamp,
		Queue:         queue,
	}
	if msg.Type == "" {
		if t, ok := events.TypeFromTopic(d.RoutingKey); ok {
			msg.Type = t
		}
	}
	if msg.ID == "" {
		msg.ID = queue + "/" + strconv.FormatUint(d.DeliveryTag, 10)
	}

	for k, v := range d.Headers {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case messaging.HeaderMessageType, messaging.HeaderPriority:
			continue
		}
		if msg.Headers == nil {
			msg.Headers = make(map[string]string)
		}
		msg.Headers[k] = s
	}
	return msg
}
