package domain

import "time"

// OutboxRecord: запись журнала transactional outbox.
// Запись не удаляется: обработанные помечаются ProcessedAt, а записи,
// исчерпавшие лимит попыток, остаются необработанными для ручного разбора.
type OutboxRecord struct {
	ID            string
	MessageType   string
	AggregateID   string
	CorrelationID string
	// Priority передаётся брокеру как метаданные сообщения.
	Priority    uint8
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
	RetryCount  int
}

// Processed сообщает, опубликована ли запись.
func (r OutboxRecord) Processed() bool {
	return r.ProcessedAt != nil
}

// NeedsManualReview возвращает true для записей, исчерпавших лимит попыток.
func (r OutboxRecord) NeedsManualReview(maxRetries int) bool {
	return !r.Processed() && r.RetryCount >= maxRetries
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	StuckCount      int
	OldestPendingAt time.Time
}
