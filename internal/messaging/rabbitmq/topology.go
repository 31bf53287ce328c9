package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

// QueueArgs возвращает аргументы объявления очереди подписки.
func QueueArgs(sub messaging.Subscription) amqp.Table {
	if !sub.Priority {
		return nil
	}
	return amqp.Table{"x-max-priority": int32(events.MaxPriority)}
}

// declareQueue объявляет durable очередь подписки и привязывает её к топикам её типов.
func declareQueue(ch channel, exchange string, sub messaging.Subscription) error {
	if _, err := ch.QueueDeclare(sub.Queue, true, false, false, false, QueueArgs(sub)); err != nil {
		return fmt.Errorf("declare queue %s: %w", sub.Queue, err)
	}
	for _, t := range sub.Types {
		if err := ch.QueueBind(sub.Queue, t.Topic(), exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", sub.Queue, t.Topic(), err)
		}
	}
	return nil
}
