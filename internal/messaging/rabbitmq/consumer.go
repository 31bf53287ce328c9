package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

// prefetch: брокер выдаёт каждому обработчику не больше одного неподтверждённого сообщения.
const prefetch = 1

// Consume реализует messaging.Consumer: объявляет очереди подписок и запускает
// Workers обработчиков на каждую. Каждый обработчик работает в своём канале с Qos(1).
func (c *Client) Consume(ctx context.Context, subs ...messaging.Subscription) error {
	if c.deliverer == nil {
		return errors.New("rabbitmq: deliverer is required for consuming")
	}

	c.mu.Lock()
	for _, sub := range subs {
		if err := declareQueue(c.pubChan, c.exchange, sub); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, sub := range subs {
		workers := sub.Workers
		if workers <= 0 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			tag := fmt.Sprintf("%s-%d", sub.Queue, i)
			wg.Add(1)
			go func(sub messaging.Subscription) {
				defer wg.Done()
				if err := c.consumeQueue(ctx, sub, tag); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}(sub)
		}
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (c *Client) consumeQueue(ctx context.Context, sub messaging.Subscription, tag string) error {
	logger := c.logger.WithFields(log.Fields{"queue": sub.Queue, "consumer": tag})

	ch, err := c.openChannel()
	if err != nil {
		return fmt.Errorf("rabbitmq open consumer channel: %w", err)
	}
	defer func() {
		// Неподтверждённые сообщения возвращаются в очередь при закрытии канала.
		if err := ch.Close(); err != nil {
			logger.WithError(err).Warn("failed to close consumer channel")
		}
	}()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos %s: %w", sub.Queue, err)
	}

	deliveries, err := ch.Consume(sub.Queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume %s: %w", sub.Queue, err)
	}

	logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(tag, false); err != nil {
				logger.WithError(err).Warn("failed to cancel consumer")
			}
			logger.Info("consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("rabbitmq deliveries closed for %s", sub.Queue)
			}
			c.handleDelivery(ctx, sub, d, logger)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, sub messaging.Subscription, d amqp.Delivery, logger *log.Entry) {
	msg := fromDelivery(sub.Queue, d)

	if err := c.deliverer.Deliver(ctx, msg, sub.Handler); err != nil {
		// Остановка прервала ожидание повтора: вернуть сообщение в очередь.
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.WithError(nackErr).Warn("failed to nack message")
		}
		return
	}

	if err := d.Ack(false); err != nil {
		logger.WithError(err).WithField("message_id", msg.ID).Warn("failed to ack message")
	}
}
