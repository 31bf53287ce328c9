package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Get возвращает заказ вместе с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetByOrderNo ищет заказ по человекочитаемому номеру.
	GetByOrderNo(ctx context.Context, orderNo int64) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking и
	// возвращает заказ с увеличенной версией.
	Save(ctx context.Context, order Order) (Order, error)
}

// OrderTx: операции, доступные внутри единицы работы создания заказа.
type OrderTx interface {
	// NextOrderNo выдаёт следующий номер заказа: max+1 либо floor для первого заказа.
	NextOrderNo(ctx context.Context, floor int64) (int64, error)
	// InsertOrder сохраняет новый заказ с позициями.
	InsertOrder(ctx context.Context, order Order) error
	// EnqueueOutbox добавляет outbox запись в ту же транзакцию.
	EnqueueOutbox(ctx context.Context, record OutboxRecord) (OutboxRecord, error)
}

// Transactor выполняет fn атомарно: либо фиксируются все изменения, либо ни одного.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx OrderTx) error) error
}
