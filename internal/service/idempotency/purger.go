// Package idempotency удаляет сохранённые ответы на запросы создания заказа,
// срок хранения которых истёк. После удаления повтор запроса с тем же
// correlation id снова создаёт заказ.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/metrics"
)

// RetentionConfig параметры очистки.
type RetentionConfig struct {
	// Interval между проходами.
	Interval time.Duration
	// BatchSize ключей за одно удаление.
	BatchSize int
	// MaxBatches ограничивает проход; остаток удаляется следующим проходом.
	// Ноль снимает ограничение.
	MaxBatches int
}

// DefaultRetentionConfig: проход раз в 10 минут порциями по 500 ключей.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{Interval: 10 * time.Minute, BatchSize: 500, MaxBatches: 100}
}

// Sweep итог одного прохода.
type Sweep struct {
	Cutoff  time.Time
	Deleted int
	Batches int
	// Drained: просроченных ключей на момент Cutoff не осталось.
	Drained bool
}

// Purger периодически удаляет просроченные ключи идемпотентности.
type Purger struct {
	repo    domain.IdempotencyRepository
	cfg     RetentionConfig
	clock   clockwork.Clock
	metrics *metrics.PipelineMetrics
	logger  *log.Entry
}

// NewPurger создаёт Purger. Нулевые поля cfg заменяются значениями по умолчанию.
func NewPurger(repo domain.IdempotencyRepository, cfg RetentionConfig, clock clockwork.Clock, m *metrics.PipelineMetrics, logger *log.Entry) *Purger {
	defaults := DefaultRetentionConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxBatches < 0 {
		cfg.MaxBatches = 0
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-retention")
	}
	return &Purger{repo: repo, cfg: cfg, clock: clock, metrics: m, logger: logger}
}

// Run выполняет проход сразу и затем каждые Interval до отмены ctx.
func (p *Purger) Run(ctx context.Context) {
	if p.repo == nil {
		p.logger.Warn("idempotency retention is disabled: no repository")
		return
	}

	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (p *Purger) tick(ctx context.Context) {
	sweep, err := p.Sweep(ctx, p.clock.Now().UTC())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		p.metrics.RecordCleanupRun("error", sweep.Deleted)
		p.logger.WithError(err).WithField("deleted", sweep.Deleted).Warn("idempotency retention sweep failed")
		return
	}

	p.metrics.RecordCleanupRun("ok", sweep.Deleted)
	if sweep.Deleted == 0 {
		return
	}
	entry := p.logger.WithFields(log.Fields{
		"deleted": sweep.Deleted,
		"batches": sweep.Batches,
		"cutoff":  sweep.Cutoff,
	})
	if !sweep.Drained {
		entry.Info("expired correlation responses purged, backlog left for next sweep")
		return
	}
	entry.Info("expired correlation responses purged")
}

// Sweep удаляет ключи с ttl <= cutoff порциями BatchSize. Нулевой cutoff
// означает текущее время. Проход заканчивается неполной порцией или
// на MaxBatches порций.
func (p *Purger) Sweep(ctx context.Context, cutoff time.Time) (Sweep, error) {
	if cutoff.IsZero() {
		cutoff = p.clock.Now().UTC()
	}
	sweep := Sweep{Cutoff: cutoff}

	for p.cfg.MaxBatches == 0 || sweep.Batches < p.cfg.MaxBatches {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}
		deleted, err := p.repo.DeleteExpired(ctx, cutoff, p.cfg.BatchSize)
		if err != nil {
			return sweep, err
		}
		sweep.Batches++
		sweep.Deleted += deleted
		if deleted < p.cfg.BatchSize {
			sweep.Drained = true
			break
		}
	}
	return sweep, nil
}
