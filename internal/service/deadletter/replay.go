package deadletter

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

// Replayer повторно публикует сообщение из fault записи после ручного разбора.
type Replayer struct {
	faults    domain.FaultRepository
	publisher messaging.Publisher
	logger    *log.Entry
}

// NewReplayer создаёт Replayer.
func NewReplayer(faults domain.FaultRepository, publisher messaging.Publisher, logger *log.Entry) *Replayer {
	if logger == nil {
		logger = log.WithField("component", "fault-replay")
	}
	return &Replayer{faults: faults, publisher: publisher, logger: logger}
}

// Replay публикует исходное сообщение fault записи id под его типом.
// Fault записи о самих Fault не переигрываются.
func (r *Replayer) Replay(ctx context.Context, id string) (messaging.Message, error) {
	record, err := r.faults.Get(ctx, id)
	if err != nil {
		return messaging.Message{}, err
	}

	t := events.MessageType(record.MessageType)
	if t == events.TypeFault {
		return messaging.Message{}, fmt.Errorf("fault %s: fault events are not replayable", id)
	}
	event, err := events.Decode(t, record.Payload)
	if err != nil {
		return messaging.Message{}, fmt.Errorf("fault %s: %w", id, err)
	}

	msg, err := messaging.NewMessage(event, events.PriorityStandard)
	if err != nil {
		return messaging.Message{}, err
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = record.CorrelationID
	}
	if err := r.publisher.Publish(ctx, msg); err != nil {
		return messaging.Message{}, fmt.Errorf("replay fault %s: %w", id, err)
	}

	r.logger.WithFields(log.Fields{
		"fault_id":       record.ID,
		"message_type":   record.MessageType,
		"order_id":       record.OrderID,
		"correlation_id": msg.CorrelationID,
		"message_id":     msg.ID,
	}).Info("fault message replayed")
	return msg, nil
}
