// Package stage содержит общее для складских стадий: имитацию ручной работы
// и идентификацию исполнителя.
package stage

import (
	"context"
	"math/rand/v2"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
)

// Work: пауза, имитирующая работу склада: случайная длительность из [Min, Max].
// Нулевое значение не ждёт.
type Work struct {
	Min   time.Duration
	Max   time.Duration
	Clock clockwork.Clock
}

// Duration возвращает длительность очередной паузы.
func (w Work) Duration() time.Duration {
	if w.Max <= w.Min {
		if w.Min < 0 {
			return 0
		}
		return w.Min
	}
	return w.Min + rand.N(w.Max-w.Min+1)
}

// Do ждёт Duration или отмены ctx.
func (w Work) Do(ctx context.Context) error {
	d := w.Duration()
	if d <= 0 {
		return ctx.Err()
	}
	clock := w.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}

// WorkerName возвращает идентичность исполнителя: заданное имя или имя хоста.
func WorkerName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}
