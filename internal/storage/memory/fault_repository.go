package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

type faultRepositoryInMemory struct {
	mu      sync.RWMutex
	records map[string]domain.FaultRecord
}

// NewFaultRepository создаёт in-memory хранилище fault записей.
func NewFaultRepository() domain.FaultRepository {
	return &faultRepositoryInMemory{records: make(map[string]domain.FaultRecord)}
}

// Save сохраняет запись один раз; повторное сохранение с тем же ID отклоняется.
func (r *faultRepositoryInMemory) Save(_ context.Context, record domain.FaultRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; exists {
		return domain.ErrFaultAlreadyExists
	}
	r.records[record.ID] = cloneFaultRecord(record)
	return nil
}

func (r *faultRepositoryInMemory) Get(_ context.Context, id string) (domain.FaultRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return domain.FaultRecord{}, domain.ErrFaultNotFound
	}
	return cloneFaultRecord(record), nil
}

// List возвращает последние записи, новые первыми.
func (r *faultRepositoryInMemory) List(_ context.Context, limit int) ([]domain.FaultRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.FaultRecord, 0, len(r.records))
	for _, record := range r.records {
		result = append(result, cloneFaultRecord(record))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].OccurredAt.After(result[j].OccurredAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneFaultRecord(src domain.FaultRecord) domain.FaultRecord {
	dst := src
	dst.Payload = append([]byte(nil), src.Payload...)
	dst.Exceptions = append([]domain.ExceptionInfo(nil), src.Exceptions...)
	return dst
}

var _ domain.FaultRepository = (*faultRepositoryInMemory)(nil)
