// Package deadletter обрабатывает сообщения, исчерпавшие повторные доставки:
// пишет fault запись для ручного разбора и публикует событие Fault.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	"github.com/vladislavdragonenkov/streamflow/internal/metrics"
)

const maxExceptionChain = 16

// Recorder: общие зависимости обработчиков: хранилище, публикация Fault, метрики.
type Recorder struct {
	faults    domain.FaultRepository
	publisher messaging.Publisher
	metrics   *metrics.PipelineMetrics
	clock     clockwork.Clock
	logger    *log.Entry
}

// NewRecorder создаёт Recorder. faults и publisher могут быть nil, но не оба сразу.
func NewRecorder(faults domain.FaultRepository, publisher messaging.Publisher, m *metrics.PipelineMetrics, clock clockwork.Clock, logger *log.Entry) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.WithField("component", "dead-letter")
	}
	return &Recorder{faults: faults, publisher: publisher, metrics: m, clock: clock, logger: logger}
}

// FaultHandler: обработчик dead-letter для сообщений типа T.
// Типизированное событие нужно только для извлечения идентификаторов заказа.
type FaultHandler[T events.Event] struct {
	recorder *Recorder
}

// NewFaultHandler создаёт обработчик для типа T.
func NewFaultHandler[T events.Event](recorder *Recorder) *FaultHandler[T] {
	return &FaultHandler[T]{recorder: recorder}
}

// HandleFault реализует messaging.FaultSink. Ошибок не возвращает.
func (h *FaultHandler[T]) HandleFault(ctx context.Context, msg messaging.Message, attempts int, cause error) {
	orderID, correlationID := msg.Key, msg.CorrelationID
	if e, err := events.Unmarshal[T](msg.Body); err == nil {
		if id := e.AggregateID(); id != "" {
			orderID = id
		}
		if id := e.Correlation(); id != "" {
			correlationID = id
		}
	}
	h.recorder.record(ctx, msg, orderID, correlationID, attempts, cause)
}

func (r *Recorder) record(ctx context.Context, msg messaging.Message, orderID, correlationID string, attempts int, cause error) {
	record := domain.FaultRecord{
		ID:            uuid.NewString(),
		MessageType:   string(msg.Type),
		Queue:         msg.Queue,
		OrderID:       orderID,
		CorrelationID: correlationID,
		Payload:       append([]byte(nil), msg.Body...),
		Exceptions:    ExceptionChain(cause),
		Attempts:      attempts,
		OccurredAt:    r.clock.Now().UTC(),
	}

	entry := r.logger.WithFields(log.Fields{
		"fault_id":          record.ID,
		"message_type":      record.MessageType,
		"queue":             record.Queue,
		"dead_letter_queue": events.DeadLetterQueue(record.Queue),
		"order_id":          record.OrderID,
		"correlation_id":    record.CorrelationID,
		"attempts":          record.Attempts,
		"timestamp":         record.OccurredAt,
		"exceptions":        record.Exceptions,
	})
	entry.Error("message moved to dead-letter")
	r.metrics.RecordFault(record.MessageType)

	if r.faults != nil {
		if err := r.faults.Save(ctx, record); err != nil {
			entry.WithError(err).Error("failed to persist fault record")
		}
	}

	// Fault о Fault не публикуется, иначе сбой монитора зациклится.
	if r.publisher == nil || msg.Type == events.TypeFault {
		return
	}
	if err := messaging.PublishEvent(ctx, r.publisher, FaultEvent(record), msg.Priority); err != nil {
		entry.WithError(err).Error("failed to publish fault event")
	}
}

// FaultEvent строит событие Fault по fault записи.
func FaultEvent(record domain.FaultRecord) events.Fault {
	exceptions := make([]events.ExceptionInfo, 0, len(record.Exceptions))
	for _, ex := range record.Exceptions {
		exceptions = append(exceptions, events.ExceptionInfo{Type: ex.Type, Message: ex.Message})
	}
	return events.Fault{
		FaultID:       record.ID,
		MessageType:   events.MessageType(record.MessageType),
		Queue:         record.Queue,
		OrderID:       record.OrderID,
		CorrelationID: record.CorrelationID,
		Message:       messagePayload(record.Payload),
		Exceptions:    exceptions,
		Attempts:      record.Attempts,
		Timestamp:     record.OccurredAt,
	}
}

// RecordFromEvent выполняет обратное преобразование FaultEvent.
func RecordFromEvent(e events.Fault) domain.FaultRecord {
	exceptions := make([]domain.ExceptionInfo, 0, len(e.Exceptions))
	for _, ex := range e.Exceptions {
		exceptions = append(exceptions, domain.ExceptionInfo{Type: ex.Type, Message: ex.Message})
	}
	return domain.FaultRecord{
		ID:            e.FaultID,
		MessageType:   string(e.MessageType),
		Queue:         e.Queue,
		OrderID:       e.OrderID,
		CorrelationID: e.CorrelationID,
		Payload:       append([]byte(nil), e.Message...),
		Exceptions:    exceptions,
		Attempts:      e.Attempts,
		OccurredAt:    e.Timestamp,
	}
}

// ExceptionChain разворачивает цепочку ошибок от внешней к корневой.
func ExceptionChain(err error) []domain.ExceptionInfo {
	var chain []domain.ExceptionInfo
	for err != nil && len(chain) < maxExceptionChain {
		chain = append(chain, domain.ExceptionInfo{
			Type:    fmt.Sprintf("%T", err),
			Message: err.Error(),
		})
		err = errors.Unwrap(err)
	}
	return chain
}

// messagePayload сохраняет исходное тело как JSON; не-JSON тело кодируется строкой.
func messagePayload(body []byte) []byte {
	if len(body) == 0 {
		return []byte("null")
	}
	if json.Valid(body) {
		return append([]byte(nil), body...)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return []byte("null")
	}
	return quoted
}
