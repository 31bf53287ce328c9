package messaging

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

const (
	defaultRedeliveryAttempts = 3
	defaultRedeliveryInterval = 5 * time.Second
)

// RedeliveryPolicy: фиксированный интервал между попытками доставки.
type RedeliveryPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultRedeliveryPolicy возвращает политику по умолчанию: 3 попытки с интервалом 5s.
func DefaultRedeliveryPolicy() RedeliveryPolicy {
	return RedeliveryPolicy{Attempts: defaultRedeliveryAttempts, Interval: defaultRedeliveryInterval}
}

// FaultSink принимает сообщения, исчерпавшие повторные доставки.
// Реализация не должна возвращать ошибок: это терминальная точка.
type FaultSink interface {
	HandleFault(ctx context.Context, msg Message, attempts int, cause error)
}

// DeliveryObserver получает результат каждой попытки (метрики).
type DeliveryObserver interface {
	ObserveDelivery(queue string, result string)
}

// Результаты попыток доставки.
const (
	DeliveryOK         = "ok"
	DeliveryRetry      = "retry"
	DeliveryDeadLetter = "dead_letter"
)

// Deliverer выполняет обработчик по политике повторной доставки и
// передаёт сообщение в FaultSink после последней неудачной попытки.
type Deliverer struct {
	policy   RedeliveryPolicy
	sink     FaultSink
	clock    clockwork.Clock
	logger   *log.Entry
	observer DeliveryObserver
}

// DelivererOption настраивает Deliverer.
type DelivererOption func(*Deliverer)

// WithClock подменяет часы (в тестах используется fake clock).
func WithClock(clock clockwork.Clock) DelivererOption {
	return func(d *Deliverer) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) DelivererOption {
	return func(d *Deliverer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithObserver подключает наблюдателя за результатами доставки.
func WithObserver(observer DeliveryObserver) DelivererOption {
	return func(d *Deliverer) {
		d.observer = observer
	}
}

// NewDeliverer создаёт Deliverer.
func NewDeliverer(policy RedeliveryPolicy, sink FaultSink, opts ...DelivererOption) *Deliverer {
	if policy.Attempts <= 0 {
		policy.Attempts = defaultRedeliveryAttempts
	}
	if policy.Interval < 0 {
		policy.Interval = 0
	}
	d := &Deliverer{
		policy: policy,
		sink:   sink,
		clock:  clockwork.NewRealClock(),
		logger: log.WithField("component", "deliverer"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Policy возвращает действующую политику.
func (d *Deliverer) Policy() RedeliveryPolicy {
	return d.policy
}

// Deliver обрабатывает сообщение. Возвращает nil, если сообщение можно
// подтвердить брокеру (успех или передача в dead-letter), и ошибку контекста,
// если остановка стадии прервала ожидание между попытками.
// Обработчик выполняется в контексте без отмены: начатая обработка доводится до конца.
func (d *Deliverer) Deliver(ctx context.Context, msg Message, handler Handler) error {
	handlerCtx := context.WithoutCancel(ctx)
	entry := d.logger.WithFields(log.Fields{
		"queue":          msg.Queue,
		"message_id":     msg.ID,
		"message_type":   msg.Type,
		"correlation_id": msg.CorrelationID,
	})

	var lastErr error
	for attempt := 1; attempt <= d.policy.Attempts; attempt++ {
		msg.Attempt = attempt
		lastErr = handler(handlerCtx, msg)
		if lastErr == nil {
			d.observe(msg.Queue, DeliveryOK)
			return nil
		}

		entry.WithError(lastErr).WithFields(log.Fields{
			"attempt":      attempt,
			"max_attempts": d.policy.Attempts,
		}).Warn("message handling failed")

		if attempt == d.policy.Attempts {
			break
		}
		d.observe(msg.Queue, DeliveryRetry)
		if err := d.wait(ctx); err != nil {
			return err
		}
	}

	d.observe(msg.Queue, DeliveryDeadLetter)
	if d.sink != nil {
		d.sink.HandleFault(handlerCtx, msg, d.policy.Attempts, lastErr)
	} else {
		entry.WithError(lastErr).Error("redelivery exhausted and no fault sink configured")
	}
	return nil
}

func (d *Deliverer) wait(ctx context.Context) error {
	if d.policy.Interval == 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(d.policy.Interval):
		return nil
	}
}

func (d *Deliverer) observe(queue, result string) {
	if d.observer != nil {
		d.observer.ObserveDelivery(queue, result)
	}
}
