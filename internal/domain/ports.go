package domain

import (
	"context"
	"time"
)

// OutboxRepository хранит outbox записи и их статус публикации.
type OutboxRepository interface {
	// Enqueue сохраняет запись вне транзакции заказа (например, OrderInvalid).
	Enqueue(ctx context.Context, record OutboxRecord) (OutboxRecord, error)
	// PullPending возвращает до limit необработанных записей с RetryCount < maxRetries
	// в порядке создания.
	PullPending(ctx context.Context, limit, maxRetries int) ([]OutboxRecord, error)
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	// IncrementRetry увеличивает счётчик попыток и возвращает новое значение.
	IncrementRetry(ctx context.Context, id string) (int, error)
	Stats(ctx context.Context, maxRetries int) (OutboxStats, error)
}

// FaultRepository хранит fault записи для ручного разбора.
type FaultRepository interface {
	Save(ctx context.Context, record FaultRecord) error
	Get(ctx context.Context, id string) (FaultRecord, error)
	List(ctx context.Context, limit int) ([]FaultRecord, error)
}

// TimelineRepository хранит историю статусов заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит ответы на запросы создания заказа.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, response []byte) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
