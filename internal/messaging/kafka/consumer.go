package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
)

// GroupFactory создаёт consumer group для очереди стадии.
type GroupFactory func(groupID string) (sarama.ConsumerGroup, error)

// Consumer доставляет сообщения Kafka подпискам стадий. Каждая очередь —
// отдельная consumer group, подписанная на обе полосы своих типов сообщений.
type Consumer struct {
	newGroup    GroupFactory
	groupPrefix string
	deliverer   *messaging.Deliverer
	laneWeight  int
	logger      *log.Entry
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithLaneWeight задаёт вес приоритетной полосы.
func WithLaneWeight(weight int) ConsumerOption {
	return func(c *Consumer) {
		if weight > 0 {
			c.laneWeight = weight
		}
	}
}

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer создает новый Kafka consumer
func NewConsumer(brokers []string, groupPrefix string, deliverer *messaging.Deliverer, opts ...ConsumerOption) *Consumer {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	factory := func(groupID string) (sarama.ConsumerGroup, error) {
		group, err := sarama.NewConsumerGroup(brokers, groupID, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka consumer group %s: %w", groupID, err)
		}
		return group, nil
	}
	return newConsumer(factory, groupPrefix, deliverer, opts...)
}

func newConsumer(factory GroupFactory, groupPrefix string, deliverer *messaging.Deliverer, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		newGroup:    factory,
		groupPrefix: groupPrefix,
		deliverer:   deliverer,
		laneWeight:  DefaultLaneWeight,
		logger:      log.WithField("component", "kafka-consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LaneTopics возвращает топики обеих полос для типов сообщений.
func LaneTopics(types []events.MessageType) []string {
	topics := make([]string, 0, len(types)*2)
	for _, t := range types {
		topics = append(topics, t.Topic()+events.PriorityLaneSuffix, t.Topic())
	}
	return topics
}

// Consume реализует messaging.Consumer.
func (c *Consumer) Consume(ctx context.Context, subs ...messaging.Subscription) error {
	runners := make([]*queueRunner, 0, len(subs))
	for _, sub := range subs {
		groupID := sub.Queue
		if c.groupPrefix != "" {
			groupID = c.groupPrefix + "." + sub.Queue
		}
		group, err := c.newGroup(groupID)
		if err != nil {
			for _, r := range runners {
				_ = r.group.Close()
			}
			return err
		}
		runners = append(runners, c.newRunner(group, sub))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, r := range runners {
		wg.Add(1)
		go func(r *queueRunner) {
			defer wg.Done()
			if err := r.run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("failed to close kafka consumer %s: %w", r.sub.Queue, err))
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()

	c.logger.Info("kafka consumer stopped")
	return errors.Join(errs...)
}

func (c *Consumer) newRunner(group sarama.ConsumerGroup, sub messaging.Subscription) *queueRunner {
	workers := sub.Workers
	if workers <= 0 {
		workers = 1
	}
	return &queueRunner{
		group:     group,
		sub:       sub,
		topics:    LaneTopics(sub.Types),
		workers:   workers,
		deliverer: c.deliverer,
		lanes:     newLaneScheduler[*delivery](c.laneWeight),
		logger:    c.logger.WithField("queue", sub.Queue),
	}
}

// delivery: сообщение, переданное из claim воркеру, и канал результата.
type delivery struct {
	record *sarama.ConsumerMessage
	msg    messaging.Message
	result chan error
}

// queueRunner обслуживает одну очередь: claim-горутины sarama кладут
// сообщения в полосы, воркеры забирают их через планировщик полос.
type queueRunner struct {
	group     sarama.ConsumerGroup
	sub       messaging.Subscription
	topics    []string
	workers   int
	deliverer *messaging.Deliverer
	lanes     *laneScheduler[*delivery]
	logger    *log.Entry
}

func (r *queueRunner) run(ctx context.Context) error {
	var workers, drain sync.WaitGroup

	workCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	for i := 0; i < r.workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			r.work(workCtx)
		}()
	}

	drain.Add(1)
	go func() {
		defer drain.Done()
		for err := range r.group.Errors() {
			r.logger.WithError(err).Error("consumer error")
		}
	}()

	r.logger.WithField("topics", r.topics).Info("kafka consumer started")
	for {
		// Consume должен вызываться в цикле, так как при rebalance он завершается
		if err := r.group.Consume(ctx, r.topics, r); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				break
			}
			r.logger.WithError(err).Error("error from consumer")
		}
		if ctx.Err() != nil {
			break
		}
	}

	// Начатые обработки завершаются до закрытия соединения.
	stopWorkers()
	workers.Wait()

	// Закрытие группы завершает канал ошибок.
	closeErr := r.group.Close()
	drain.Wait()
	return closeErr
}

func (r *queueRunner) work(ctx context.Context) {
	for {
		d, ok := r.lanes.Next(ctx)
		if !ok {
			return
		}
		d.result <- r.deliverer.Deliver(ctx, d.msg, r.sub.Handler)
	}
}

// Setup вызывается при старте consumer session
func (r *queueRunner) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (r *queueRunner) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim передаёт сообщения partition воркерам по одному (prefetch=1)
// и фиксирует offset только после успешной обработки или передачи в dead-letter.
func (r *queueRunner) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	priority := strings.HasSuffix(claim.Topic(), events.PriorityLaneSuffix)

	for {
		select {
		case record := <-claim.Messages():
			if record == nil {
				return nil
			}

			d := &delivery{
				record: record,
				msg:    decodeMessage(r.sub.Queue, record),
				result: make(chan error, 1),
			}

			select {
			case r.lanes.Lane(priority) <- d:
			case <-ctx.Done():
				return nil
			}

			var err error
			select {
			case err = <-d.result:
			case <-ctx.Done():
				// Обработка завершится, но offset не фиксируется: сообщение придёт повторно.
				return nil
			}
			if err != nil {
				r.logger.WithError(err).WithFields(log.Fields{
					"topic":     record.Topic,
					"partition": record.Partition,
					"offset":    record.Offset,
				}).Warn("delivery interrupted, offset not committed")
				return nil
			}

			session.MarkMessage(record, "")

		case <-ctx.Done():
			return nil
		}
	}
}

var _ messaging.Consumer = (*Consumer)(nil)
