package saga

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/metrics"
)

// RetryConfig конфигурация повтора при конфликте версий.
type RetryConfig struct {
	MaxAttempts int
	// BaseDelay умножается на номер попытки: 100ms, 200ms, ...
	BaseDelay time.Duration
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
	}
}

// ConflictRetry повторяет операцию загрузки и сохранения заказа, пока
// сохранение упирается в конфликт версий. Остальные ошибки возвращаются сразу.
type ConflictRetry struct {
	config  RetryConfig
	clock   clockwork.Clock
	metrics *metrics.SagaMetrics
	logger  *log.Entry
}

// NewConflictRetry создаёт комбинатор повтора.
func NewConflictRetry(config RetryConfig, clock clockwork.Clock, m *metrics.SagaMetrics, logger *log.Entry) *ConflictRetry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if config.BaseDelay < 0 {
		config.BaseDelay = 0
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.WithField("component", "conflict-retry")
	}
	return &ConflictRetry{config: config, clock: clock, metrics: m, logger: logger}
}

// Do выполняет fn. После MaxAttempts конфликтов возвращается исходная ошибка конфликта.
func (r *ConflictRetry) Do(ctx context.Context, orderID string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil || !domain.IsVersionConflict(lastErr) {
			return lastErr
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.config.BaseDelay * time.Duration(attempt)
		r.metrics.RecordConflictRetry()
		r.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt,
			"delay":    delay,
		}).Warn("version conflict detected, retrying")

		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(delay):
			}
		}
	}

	r.logger.WithError(lastErr).WithFields(log.Fields{
		"order_id":     orderID,
		"max_attempts": r.config.MaxAttempts,
	}).Error("version conflict persisted after all retry attempts")
	return lastErr
}
