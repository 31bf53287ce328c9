// Package memory содержит in-memory реализации хранилищ для локального
// запуска и тестов.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

// Store хранит заказы и outbox в одном месте, чтобы создание заказа и
// запись outbox выполнялись атомарно, как в транзакции БД.
type Store struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	byNo   map[int64]string
	outbox []*domain.OutboxRecord
	// txMu сериализует единицы работы (аналог pg_advisory_xact_lock).
	txMu sync.Mutex
	now  func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		orders: make(map[string]domain.Order),
		byNo:   make(map[int64]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// InTx выполняет fn над промежуточным состоянием и применяет изменения только
// при успешном завершении.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx domain.OrderTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &storeTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range tx.orders {
		if _, exists := s.orders[order.ID]; exists {
			return domain.ErrOrderAlreadyExists
		}
		if _, exists := s.byNo[order.OrderNo]; exists {
			return domain.ErrOrderNoConflict
		}
	}
	for _, order := range tx.orders {
		s.orders[order.ID] = order
		s.byNo[order.OrderNo] = order.ID
	}
	for i := range tx.outbox {
		rec := tx.outbox[i]
		s.outbox = append(s.outbox, &rec)
	}
	return nil
}

// storeTx накапливает изменения единицы работы.
type storeTx struct {
	store  *Store
	orders []domain.Order
	outbox []domain.OutboxRecord
}

func (tx *storeTx) NextOrderNo(_ context.Context, floor int64) (int64, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	var highest int64
	for no := range tx.store.byNo {
		if no > highest {
			highest = no
		}
	}
	for _, order := range tx.orders {
		if order.OrderNo > highest {
			highest = order.OrderNo
		}
	}
	if highest == 0 {
		return floor, nil
	}
	if highest+1 < floor {
		return floor, nil
	}
	return highest + 1, nil
}

func (tx *storeTx) InsertOrder(_ context.Context, order domain.Order) error {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return errs[0]
	}
	order = order.Clone()
	if order.Version == 0 {
		order.Version = 1
	}
	tx.orders = append(tx.orders, order)
	return nil
}

func (tx *storeTx) EnqueueOutbox(_ context.Context, record domain.OutboxRecord) (domain.OutboxRecord, error) {
	record = prepareOutboxRecord(record, tx.store.now())
	tx.outbox = append(tx.outbox, record)
	return record, nil
}

var _ domain.Transactor = (*Store)(nil)
