package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging/memory"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/streamflow/internal/service/inventory"
	memstore "github.com/vladislavdragonenkov/streamflow/internal/storage/memory"
	"github.com/vladislavdragonenkov/streamflow/internal/storage/postgres"
	"github.com/vladislavdragonenkov/streamflow/internal/storage/redisstore"
)

// Storage: репозитории сервиса заказов поверх выбранного драйвера.
type Storage struct {
	Transactor  domain.Transactor
	Orders      domain.OrderRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Faults      domain.FaultRepository
	Idempotency domain.IdempotencyRepository

	ping  func(ctx context.Context) error
	close func() error
}

// Ping проверяет доступность хранилища.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close освобождает соединения хранилища.
func (s *Storage) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStorage открывает хранилище по cfg.StorageDriver.
// Для postgres при включённом PostgresAutoMigrate применяются миграции.
func OpenStorage(ctx context.Context, cfg Config, logger *log.Entry) (*Storage, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memstore.NewStore()
		logger.Info("using in-memory storage")
		return &Storage{
			Transactor:  store,
			Orders:      store,
			Outbox:      store,
			Timeline:    memstore.NewTimelineRepository(),
			Faults:      memstore.NewFaultRepository(),
			Idempotency: memstore.NewIdempotencyRepository(),
		}, nil
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx); err != nil {
				_ = store.Close()
				return nil, err
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return &Storage{
			Transactor:  postgres.NewTransactor(store),
			Orders:      postgres.NewOrderRepository(store),
			Outbox:      postgres.NewOutboxRepository(store),
			Timeline:    postgres.NewTimelineRepository(store),
			Faults:      postgres.NewFaultRepository(store),
			Idempotency: postgres.NewIdempotencyRepository(store),
			ping:        store.Ping,
			close:       store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// kafkaBroker объединяет producer и consumer group в messaging.Broker.
type kafkaBroker struct {
	*kafka.Producer
	*kafka.Consumer
}

// OpenBroker подключается к брокеру по cfg.Broker.
func OpenBroker(cfg Config, deliverer *messaging.Deliverer, logger *log.Entry) (messaging.Broker, error) {
	switch cfg.Broker {
	case BrokerMemory, "":
		logger.Info("using in-memory broker")
		return memory.NewBus(deliverer, logger.WithField("component", "memory-bus")), nil
	case BrokerKafka:
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, logger.WithField("component", "kafka-producer"))
		if err != nil {
			return nil, err
		}
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupPrefix, deliverer,
			kafka.WithLaneWeight(cfg.KafkaLaneWeight),
			kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
		)
		logger.WithField("brokers", cfg.KafkaBrokers).Info("using kafka broker")
		return kafkaBroker{Producer: producer, Consumer: consumer}, nil
	case BrokerRabbitMQ:
		client, err := rabbitmq.Dial(cfg.RabbitMQURL, deliverer, logger.WithField("component", "rabbitmq"))
		if err != nil {
			return nil, err
		}
		logger.Info("using rabbitmq broker")
		return client, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

// errPublisherNotReady: публикация до подключения брокера.
var errPublisherNotReady = errors.New("publisher is not ready")

// lazyPublisher разрывает цикл зависимостей: dead-letter нужен Deliverer'у,
// а публикует через брокер, который создаётся уже с этим Deliverer'ом.
type lazyPublisher struct {
	mu     sync.RWMutex
	target messaging.Publisher
}

func (p *lazyPublisher) Set(target messaging.Publisher) {
	p.mu.Lock()
	p.target = target
	p.mu.Unlock()
}

func (p *lazyPublisher) Publish(ctx context.Context, msg messaging.Message) error {
	p.mu.RLock()
	target := p.target
	p.mu.RUnlock()
	if target == nil {
		return errPublisherNotReady
	}
	return target.Publish(ctx, msg)
}

// OpenRedis подключается к Redis, если он настроен. Без адреса возвращает nil.
func OpenRedis(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	return redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
}

// NewAvailabilityChecker выбирает источник доступности товара для стадии склада.
func NewAvailabilityChecker(cfg Config, client *redis.Client) (inventory.AvailabilityChecker, error) {
	switch cfg.AvailabilitySource {
	case AvailabilityRedis:
		if client == nil {
			return nil, errors.New("redis availability source requires REDIS_ADDR")
		}
		return redisstore.NewStockChecker(client, cfg.RedisStockPrefix), nil
	case AvailabilityRandom, "":
		return inventory.NewRandomChecker(cfg.AvailabilityRate, cfg.AvailabilitySeed), nil
	default:
		return nil, fmt.Errorf("unknown availability source %q", cfg.AvailabilitySource)
	}
}

// leaseOwner идентифицирует экземпляр в аренде outbox.
func leaseOwner(workerName string) string {
	host := workerName
	if host == "" {
		host, _ = os.Hostname()
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
