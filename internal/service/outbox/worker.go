// Package outbox публикует записи transactional outbox в брокер.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	"github.com/vladislavdragonenkov/streamflow/internal/metrics"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 10
	defaultMaxRetries   = 3
)

// Lease ограничивает публикацию одним экземпляром сервиса.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger       *log.Entry
	Clock        clockwork.Clock
	Metrics      *metrics.PipelineMetrics
	Lease        Lease
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithClock задаёт часы для тикера и отметок processed-at.
func WithClock(clock clockwork.Clock) Option {
	return func(opts *WorkerOptions) {
		opts.Clock = clock
	}
}

// WithMetrics задаёт метрики публикации и backlog.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithLease включает аренду: цикл без аренды пропускается.
func WithLease(lease Lease) Option {
	return func(opts *WorkerOptions) {
		opts.Lease = lease
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxRetries задаёт потолок попыток, после которого запись остаётся
// необработанной для ручного разбора.
func WithMaxRetries(maxRetries int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxRetries = maxRetries
	}
}

// Worker публикует необработанные outbox записи в брокер.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    messaging.Publisher
	lease        Lease
	clock        clockwork.Clock
	metrics      *metrics.PipelineMetrics
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	maxRetries   int
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher messaging.Publisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		MaxRetries:   defaultMaxRetries,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	return &Worker{
		repo:         repo,
		publisher:    publisher,
		lease:        opts.Lease,
		clock:        clock,
		metrics:      opts.Metrics,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		maxRetries:   opts.MaxRetries,
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := w.clock.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer w.releaseLease()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл и возвращает число опубликованных записей.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	if !w.holdsLease(ctx) {
		return 0
	}

	records, err := w.repo.PullPending(ctx, w.batchSize, w.maxRetries)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox records")
		return 0
	}

	published := 0
	for _, record := range records {
		if ctx.Err() != nil {
			break
		}
		if w.publish(ctx, record) {
			published++
		}
	}

	w.refreshBacklogMetrics(ctx)
	return published
}

func (w *Worker) publish(ctx context.Context, record domain.OutboxRecord) bool {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    record.ID,
		"message_type": record.MessageType,
		"aggregate_id": record.AggregateID,
	})

	msg, err := w.message(record)
	if err == nil {
		err = w.publisher.Publish(ctx, msg)
	}
	if err != nil {
		w.metrics.RecordOutboxPublish("failed")
		retries, incErr := w.repo.IncrementRetry(ctx, record.ID)
		if incErr != nil {
			entry.WithError(incErr).Warn("failed to increment outbox retry count")
			return false
		}
		entry = entry.WithError(err).WithField("retry_count", retries)
		if retries >= w.maxRetries {
			entry.Error("outbox record reached retry ceiling, left for manual review")
		} else {
			entry.Warn("outbox publish failed")
		}
		return false
	}

	if err := w.repo.MarkProcessed(ctx, record.ID, w.clock.Now().UTC()); err != nil {
		// Запись будет опубликована повторно: получатели идемпотентны.
		entry.WithError(err).Warn("failed to mark outbox record as processed")
	}
	w.metrics.RecordOutboxPublish("published")
	entry.Debug("outbox record published")
	return true
}

// message восстанавливает конверт из записи: тип проверяется декодированием
// payload, метаданные берутся из записи.
func (w *Worker) message(record domain.OutboxRecord) (messaging.Message, error) {
	t := events.MessageType(record.MessageType)
	if _, err := events.Decode(t, record.Payload); err != nil {
		return messaging.Message{}, fmt.Errorf("decode outbox payload %s: %w", record.ID, err)
	}
	priority := record.Priority
	if priority == 0 {
		priority = events.PriorityStandard
	}
	return messaging.Message{
		ID:            record.ID,
		Type:          t,
		Key:           record.AggregateID,
		CorrelationID: record.CorrelationID,
		Priority:      priority,
		Body:          append([]byte(nil), record.Payload...),
		Timestamp:     record.CreatedAt,
	}, nil
}

func (w *Worker) holdsLease(ctx context.Context) bool {
	if w.lease == nil {
		return true
	}
	ok, err := w.lease.TryAcquire(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to acquire outbox lease")
		return false
	}
	return ok
}

func (w *Worker) releaseLease() {
	if w.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.lease.Release(ctx); err != nil {
		w.logger.WithError(err).Warn("failed to release outbox lease")
	}
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx, w.maxRetries)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetOutboxBacklog(stats, w.clock.Now())
}
