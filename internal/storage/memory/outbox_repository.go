package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

func prepareOutboxRecord(record domain.OutboxRecord, now time.Time) domain.OutboxRecord {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.Payload = append([]byte(nil), record.Payload...)
	record.ProcessedAt = nil
	record.RetryCount = 0
	return record
}

// Enqueue сохраняет запись вне транзакции заказа.
func (s *Store) Enqueue(_ context.Context, record domain.OutboxRecord) (domain.OutboxRecord, error) {
	record = prepareOutboxRecord(record, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record
	s.outbox = append(s.outbox, &stored)
	return record, nil
}

// PullPending возвращает до limit необработанных записей, ещё не исчерпавших попытки,
// в порядке создания.
func (s *Store) PullPending(_ context.Context, limit, maxRetries int) ([]domain.OutboxRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]domain.OutboxRecord, 0, limit)
	for _, rec := range s.outbox {
		if rec.Processed() || rec.NeedsManualReview(maxRetries) {
			continue
		}
		pending = append(pending, cloneOutboxRecord(*rec))
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkProcessed фиксирует успешную публикацию.
func (s *Store) MarkProcessed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findOutbox(id)
	if rec == nil {
		return domain.ErrOutboxRecordNotFound
	}
	processedAt := at
	rec.ProcessedAt = &processedAt
	return nil
}

// IncrementRetry увеличивает счётчик неудачных попыток публикации.
func (s *Store) IncrementRetry(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.findOutbox(id)
	if rec == nil {
		return 0, domain.ErrOutboxRecordNotFound
	}
	rec.RetryCount++
	return rec.RetryCount, nil
}

// Stats возвращает размер backlog и число записей, ожидающих ручного разбора.
func (s *Store) Stats(_ context.Context, maxRetries int) (domain.OutboxStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range s.outbox {
		if rec.Processed() {
			continue
		}
		if rec.NeedsManualReview(maxRetries) {
			stats.StuckCount++
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.CreatedAt
		}
	}
	return stats, nil
}

// OutboxRecords возвращает копию всех записей (используется в тестах).
func (s *Store) OutboxRecords() []domain.OutboxRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.OutboxRecord, 0, len(s.outbox))
	for _, rec := range s.outbox {
		out = append(out, cloneOutboxRecord(*rec))
	}
	return out
}

func (s *Store) findOutbox(id string) *domain.OutboxRecord {
	for _, rec := range s.outbox {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func cloneOutboxRecord(src domain.OutboxRecord) domain.OutboxRecord {
	dst := src
	dst.Payload = append([]byte(nil), src.Payload...)
	if src.ProcessedAt != nil {
		at := *src.ProcessedAt
		dst.ProcessedAt = &at
	}
	return dst
}

var _ domain.OutboxRepository = (*Store)(nil)
