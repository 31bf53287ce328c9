package memory

import (
	"context"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

// Get возвращает копию заказа или ErrOrderNotFound.
func (s *Store) Get(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetByOrderNo ищет заказ по номеру.
func (s *Store) GetByOrderNo(ctx context.Context, orderNo int64) (domain.Order, error) {
	s.mu.RLock()
	id, ok := s.byNo[orderNo]
	s.mu.RUnlock()
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.Get(ctx, id)
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (s *Store) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	// Инкрементируем версию перед сохранением.
	order = order.Clone()
	order.Version++
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = s.now()
	}
	s.orders[order.ID] = order
	return order.Clone(), nil
}

var _ domain.OrderRepository = (*Store)(nil)
