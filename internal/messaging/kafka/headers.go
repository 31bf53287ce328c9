package kafka

import (
	"strconv"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

const headerMessageID = "x-message-id"

func encodeHeaders(msg messaging.Message) []sarama.RecordHeader {
	headers := []sarama.RecordHeader{
		{Key: []byte(headerMessageID), Value: []byte(msg.ID)},
		{Key: []byte(messaging.HeaderMessageType), Value: []byte(msg.Type)},
		{Key: []byte(messaging.HeaderCorrelationID), Value: []byte(msg.CorrelationID)},
		{Key: []byte(messaging.HeaderPriority), Value: []byte(strconv.Itoa(int(msg.Priority)))},
	}
	if msg.ReplyTo != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(messaging.HeaderReplyTo), Value: []byte(msg.ReplyTo)})
	}
	for k, v := range msg.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return headers
}

// decodeMessage восстанавливает конверт из сообщения Kafka. Тип берётся из
// заголовка, а при его отсутствии — из имени топика.
func decodeMessage(queue string, record *sarama.ConsumerMessage) messaging.Message {
	msg := messaging.Message{
		Key:       string(record.Key),
		Body:      record.Value,
		Timestamp: record.Timestamp,
		Queue:     queue,
		Headers:   map[string]string{},
	}

	for _, h := range record.Headers {
		if h == nil {
			continue
		}
		key, value := string(h.Key), string(h.Value)
		switch key {
		case headerMessageID:
			msg.ID = value
		case messaging.HeaderMessageType:
			msg.Type = events.MessageType(value)
		case messaging.HeaderCorrelationID:
			msg.CorrelationID = value
		case messaging.HeaderPriority:
			if p, err := strconv.ParseUint(value, 10, 8); err == nil {
				msg.Priority = uint8(p)
			}
		case messaging.HeaderReplyTo:
			msg.ReplyTo = value
		default:
			msg.Headers[key] = value
		}
	}

	if msg.Type == "" {
		if t, ok := events.TypeFromTopic(record.Topic); ok {
			msg.Type = t
		}
	}
	if msg.ID == "" {
		msg.ID = record.Topic + "/" + strconv.Itoa(int(record.Partition)) + "/" + strconv.FormatInt(record.Offset, 10)
	}
	return msg
}
