// Package messaging содержит транспортно-независимую часть обмена сообщениями:
// конверт сообщения, порты публикации и потребления, политику повторной
// доставки и передачу исчерпавших попытки сообщений в dead-letter.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
)

// Заголовки, которыми транспорт сопровождает сообщение.
const (
	HeaderMessageType   = "x-message-type"
	HeaderCorrelationID = "x-correlation-id"
	HeaderPriority      = "x-priority"
	HeaderReplyTo       = "x-reply-to"
	HeaderFaultReason   = "x-fault-reason"
)

// Message: транспортный конверт вокруг сериализованного события.
type Message struct {
	ID            string
	Type          events.MessageType
	Key           string
	CorrelationID string
	// Priority: приоритет транспорта: 9 для срочных заказов, 1 для остальных.
	Priority  uint8
	ReplyTo   string
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time

	// Заполняются транспортом при потреблении.
	Queue   string
	Attempt int
}

// NewMessage сериализует событие и заполняет метаданные конверта.
func NewMessage(e events.Event, priority uint8) (Message, error) {
	body, err := events.Encode(e)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:            uuid.NewString(),
		Type:          e.Type(),
		Key:           e.AggregateID(),
		CorrelationID: e.Correlation(),
		Priority:      priority,
		Body:          body,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// Topic возвращает топик сообщения по его типу.
func (m Message) Topic() string {
	return m.Type.Topic()
}

// Handler обрабатывает одно сообщение. Ошибка означает, что сообщение нужно доставить повторно.
type Handler func(ctx context.Context, msg Message) error

// Publisher публикует сообщения в брокер.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// PublishEvent: вспомогательная функция: сериализует событие и публикует его.
func PublishEvent(ctx context.Context, publisher Publisher, e events.Event, priority uint8) error {
	msg, err := NewMessage(e, priority)
	if err != nil {
		return err
	}
	if err := publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type(), err)
	}
	return nil
}

// Subscription связывает очередь стадии с типами сообщений и обработчиком.
type Subscription struct {
	Queue string
	Types []events.MessageType
	// Workers: число параллельных обработчиков, каждый берёт по одному сообщению.
	Workers int
	// Priority: очередь объявляется с поддержкой приоритетов (x-max-priority).
	Priority bool
	Handler  Handler
}

// Consumer: транспорт, доставляющий сообщения подпискам.
// Consume блокируется до отмены ctx, после чего перестаёт принимать новые
// сообщения и дожидается завершения уже начатых обработок.
type Consumer interface {
	Consume(ctx context.Context, subs ...Subscription) error
}

// Broker объединяет публикацию и потребление.
type Broker interface {
	Publisher
	Consumer
	Close() error
}
