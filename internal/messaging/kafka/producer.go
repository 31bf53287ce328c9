package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

// DefaultPriorityThreshold: сообщения с приоритетом не ниже порога идут в приоритетную полосу.
const DefaultPriorityThreshold uint8 = 5

// Producer публикует сообщения саги в Kafka.
// Kafka не поддерживает приоритетные очереди, поэтому срочные сообщения
// публикуются в отдельный топик <topic>.priority.
type Producer struct {
	producer  sarama.SyncProducer
	logger    *log.Entry
	threshold uint8
}

// NewProducer создает новый Kafka producer
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll // Wait for all in-sync replicas
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true // Включаем идемпотентность
	config.Net.MaxOpenRequests = 1    // Для идемпотентности

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return newProducer(producer, logger), nil
}

func newProducer(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{
		producer:  producer,
		logger:    logger,
		threshold: DefaultPriorityThreshold,
	}
}

// LaneTopic возвращает физический топик для сообщения с учётом приоритета.
func LaneTopic(msg messaging.Message, threshold uint8) string {
	topic := msg.Topic()
	if msg.Priority >= threshold {
		return topic + events.PriorityLaneSuffix
	}
	return topic
}

// Publish реализует messaging.Publisher.
func (p *Producer) Publish(_ context.Context, msg messaging.Message) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}

	key := msg.Key
	if key == "" {
		key = msg.ID
	}
	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	topic := LaneTopic(msg, p.threshold)
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(msg.Body),
		Headers:   encodeHeaders(msg),
		Timestamp: timestamp,
	})
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":          topic,
		"key":            key,
		"partition":      partition,
		"offset":         offset,
		"correlation_id": msg.CorrelationID,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

var _ messaging.Publisher = (*Producer)(nil)
