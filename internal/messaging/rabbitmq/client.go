// Package rabbitmq — транспорт саги поверх RabbitMQ: topic exchange,
// очереди стадий, приоритетная очередь сборки и ручное подтверждение.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

// DefaultExchange: topic exchange, в который публикуются все события саги.
const DefaultExchange = "streamflow.events"

const publishTimeout = 5 * time.Second

// channel: подмножество *amqp.Channel, используемое транспортом.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Client: подключение к RabbitMQ: публикация и потребление сообщений саги.
type Client struct {
	conn        *amqp.Connection
	openChannel func() (channel, error)
	exchange    string
	deliverer   *messaging.Deliverer
	logger      *log.Entry

	mu      sync.Mutex
	pubChan channel
}

// Dial подключается к брокеру и объявляет exchange.
func Dial(url string, deliverer *messaging.Deliverer, logger *log.Entry) (*Client, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	open := func() (channel, error) {
		return conn.Channel()
	}
	client, err := newClient(open, deliverer, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	client.conn = conn
	return client, nil
}

func newClient(open func() (channel, error), deliverer *messaging.Deliverer, logger *log.Entry) (*Client, error) {
	if logger == nil {
		logger = log.WithField("component", "rabbitmq")
	}

	ch, err := open()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(DefaultExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq declare exchange: %w", err)
	}

	return &Client{
		openChannel: open,
		exchange:    DefaultExchange,
		deliverer:   deliverer,
		logger:      logger,
		pubChan:     ch,
	}, nil
}

// Publish реализует messaging.Publisher. Приоритет передаётся в свойстве Priority.
func (c *Client) Publish(ctx context.Context, msg messaging.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pubChan == nil {
		return errors.New("rabbitmq: publish channel is not open")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := c.pubChan.PublishWithContext(ctx, c.exchange, msg.Topic(), false, false, toPublishing(msg)); err != nil {
		return fmt.Errorf("rabbitmq publish %s: %w", msg.Type, err)
	}

	c.logger.WithFields(log.Fields{
		"routing_key":    msg.Topic(),
		"priority":       msg.Priority,
		"correlation_id": msg.CorrelationID,
	}).Debug("message published")
	return nil
}

// Close закрывает канал публикации и соединение.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.pubChan != nil {
		errs = append(errs, c.pubChan.Close())
		c.pubChan = nil
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
		c.conn = nil
	}
	return errors.Join(errs...)
}

var _ messaging.Broker = (*Client)(nil)
