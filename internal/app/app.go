package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/health"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging/memory"
	"github.com/vladislavdragonenkov/streamflow/internal/metrics"
	"github.com/vladislavdragonenkov/streamflow/internal/service/deadletter"
	grpcsvc "github.com/vladislavdragonenkov/streamflow/internal/service/grpc"
	"github.com/vladislavdragonenkov/streamflow/internal/service/idempotency"
	"github.com/vladislavdragonenkov/streamflow/internal/service/intake"
	"github.com/vladislavdragonenkov/streamflow/internal/service/inventory"
	"github.com/vladislavdragonenkov/streamflow/internal/service/outbox"
	"github.com/vladislavdragonenkov/streamflow/internal/service/packing"
	"github.com/vladislavdragonenkov/streamflow/internal/service/picking"
	"github.com/vladislavdragonenkov/streamflow/internal/service/routing"
	"github.com/vladislavdragonenkov/streamflow/internal/service/saga"
	"github.com/vladislavdragonenkov/streamflow/internal/service/stage"
	"github.com/vladislavdragonenkov/streamflow/internal/storage/redisstore"
	"github.com/vladislavdragonenkov/streamflow/internal/version"
)

// Стадии конвейера. Каждая запускается отдельным процессом;
// StageAll поднимает все стадии в одном процессе.
const (
	StageOrder     = "order"
	StageInventory = "inventory"
	StagePicking   = "picking"
	StagePacking   = "packing"
	StageAll       = "all"
)

const shutdownTimeout = 5 * time.Second

// Stages возвращает поддерживаемые имена стадий.
func Stages() []string {
	return []string{StageOrder, StageInventory, StagePicking, StagePacking, StageAll}
}

// runtime: общие зависимости, из которых собираются стадии.
type runtime struct {
	cfg       Config
	clock     clockwork.Clock
	router    *routing.Router
	publisher messaging.Publisher
	storage   *Storage
	redis     *redis.Client
	saga      *metrics.SagaMetrics
	pipeline  *metrics.PipelineMetrics
	logger    *log.Entry
}

// components: то, что стадия запускает: подписки, фоновые воркеры и gRPC.
type components struct {
	subs    []messaging.Subscription
	workers []func(ctx context.Context)
	grpc    *grpcsvc.Server
}

func (c *components) merge(other components) {
	c.subs = append(c.subs, other.subs...)
	c.workers = append(c.workers, other.workers...)
	if other.grpc != nil {
		c.grpc = other.grpc
	}
}

// Run запускает стадию stageName и блокируется до отмены ctx.
// Штатная остановка по ctx возвращает nil.
func Run(ctx context.Context, cfg Config, stageName string) error {
	if !slices.Contains(Stages(), stageName) {
		return fmt.Errorf("unknown stage %q", stageName)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.WithFields(log.Fields{"component": "app", "stage": stageName})
	if cfg.Broker == BrokerMemory && stageName != StageAll && stageName != StageOrder {
		logger.Warn("in-memory broker is process local, stage will receive no messages from other processes")
	}

	tracer, shutdownTracing, err := SetupTracing(cfg.TracingEnabled, stageName, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracer shutdown with error")
		}
	}()

	rt := &runtime{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		router:   routing.NewRouter(cfg.ExpeditedCountries),
		saga:     metrics.NewSagaMetrics(),
		pipeline: metrics.NewPipelineMetrics(),
		logger:   logger,
	}
	healthHandler := health.NewHandler(stageName, version.Version(), rt.clock)

	if stageName == StageOrder || stageName == StageAll {
		rt.storage, err = OpenStorage(ctx, cfg, logger.WithField("component", "storage"))
		if err != nil {
			return err
		}
		defer closeWithLog(rt.storage.Close, "storage", logger)
		healthHandler.RegisterChecker("storage", health.NewCheckFunc("storage", rt.storage.Ping))
	}

	rt.redis, err = OpenRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rt.redis != nil {
		defer closeWithLog(rt.redis.Close, "redis", logger)
		client := rt.redis
		healthHandler.RegisterChecker("redis", health.NewOptionalCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}

	publisher := &lazyPublisher{}
	rt.publisher = publisher

	var faults domain.FaultRepository
	if rt.storage != nil {
		faults = rt.storage.Faults
	}
	recorder := deadletter.NewRecorder(faults, publisher, rt.pipeline, rt.clock, logger.WithField("component", "dead-letter"))
	deliverer := messaging.NewDeliverer(
		messaging.RedeliveryPolicy{Attempts: cfg.RedeliveryAttempts, Interval: cfg.RedeliveryInterval},
		deadletter.NewDispatcher(recorder),
		messaging.WithClock(rt.clock),
		messaging.WithLogger(logger.WithField("component", "deliverer")),
		messaging.WithObserver(rt.pipeline),
	)

	broker, err := OpenBroker(cfg, deliverer, logger)
	if err != nil {
		return err
	}
	defer closeWithLog(broker.Close, "broker", logger)
	publisher.Set(broker)

	comps, err := rt.build(stageName)
	if err != nil {
		return err
	}
	for i := range comps.subs {
		comps.subs[i].Handler = messaging.Traced(tracer, comps.subs[i].Handler)
	}
	// Очереди in-memory шины объявляются до старта outbox воркера,
	// иначе первые события уйдут в никуда.
	if bus, ok := broker.(*memory.Bus); ok {
		bus.Bind(comps.subs...)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	var lis net.Listener
	if comps.grpc != nil {
		lis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return broker.Consume(gctx, comps.subs...)
	})
	for _, worker := range comps.workers {
		g.Go(func() error {
			worker(gctx)
			return nil
		})
	}
	if comps.grpc != nil {
		srv := comps.grpc
		g.Go(func() error {
			logger.Infof("grpc server listening on %s", lis.Addr())
			if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("serve grpc: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			stopGRPC(srv, logger)
			return nil
		})
	}

	logger.WithFields(log.Fields{
		"broker":        cfg.Broker,
		"storage":       cfg.StorageDriver,
		"subscriptions": len(comps.subs),
		"workers":       len(comps.workers),
	}).Info("stage started")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stage stopped")
	return nil
}

func (rt *runtime) build(stageName string) (components, error) {
	switch stageName {
	case StageOrder:
		return rt.orderStage(), nil
	case StageInventory:
		return rt.inventoryStage()
	case StagePicking:
		return rt.pickingStage(), nil
	case StagePacking:
		return rt.packingStage(), nil
	case StageAll:
		all := rt.orderStage()
		inv, err := rt.inventoryStage()
		if err != nil {
			return components{}, err
		}
		all.merge(inv)
		all.merge(rt.pickingStage())
		all.merge(rt.packingStage())
		return all, nil
	default:
		return components{}, fmt.Errorf("unknown stage %q", stageName)
	}
}

// orderStage: сервис заказов: приём, сага, outbox, очистка ключей и gRPC.
func (rt *runtime) orderStage() components {
	cfg, st := rt.cfg, rt.storage

	processor := saga.NewProcessor(st.Orders, st.Timeline,
		saga.WithRetryConfig(saga.RetryConfig{MaxAttempts: cfg.ConflictRetryAttempts, BaseDelay: cfg.ConflictRetryBaseDelay}),
		saga.WithClock(rt.clock),
		saga.WithMetrics(rt.saga),
		saga.WithLogger(rt.logger.WithField("component", "saga")),
	)
	service := intake.NewService(intake.Deps{
		Transactor:  st.Transactor,
		Outbox:      st.Outbox,
		Orders:      st.Orders,
		Timeline:    st.Timeline,
		Idempotency: st.Idempotency,
	}, intake.Config{
		OrderNoFloor:   cfg.OrderNoFloor,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}, rt.router, rt.clock, rt.saga, rt.logger.WithField("component", "intake"))
	consumer := intake.NewConsumer(service, rt.publisher, rt.logger.WithField("component", "intake-consumer"))
	monitor := deadletter.NewMonitor(st.Faults, rt.logger.WithField("component", "fault-monitor"))

	outboxOpts := []outbox.Option{
		outbox.WithLogger(rt.logger.WithField("component", "outbox")),
		outbox.WithClock(rt.clock),
		outbox.WithMetrics(rt.pipeline),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxRetries(cfg.OutboxMaxRetries),
	}
	if rt.redis != nil {
		lease := redisstore.NewLease(rt.redis, redisstore.DefaultLeaseKey, leaseOwner(cfg.WorkerName), cfg.OutboxLeaseTTL)
		outboxOpts = append(outboxOpts, outbox.WithLease(lease))
	}
	outboxWorker := outbox.NewWorker(st.Outbox, rt.publisher, outboxOpts...)

	retention := idempotency.NewPurger(st.Idempotency, idempotency.RetentionConfig{
		Interval:   cfg.IdempotencyCleanupInterval,
		BatchSize:  cfg.IdempotencyCleanupBatchSize,
		MaxBatches: cfg.IdempotencyCleanupMaxBatches,
	}, rt.clock, rt.pipeline, rt.logger.WithField("component", "idempotency-retention"))

	subs := processor.Subscriptions(cfg.Workers)
	subs = append(subs, consumer.Subscription(cfg.Workers), monitor.Subscription())

	return components{
		subs:    subs,
		workers: []func(ctx context.Context){outboxWorker.Run, retention.Run},
		grpc: grpcsvc.NewServer(
			grpcsvc.NewOrderIntakeService(service, rt.logger.WithField("component", "grpc-intake")),
			prometheus.DefaultRegisterer,
			rt.logger.WithField("layer", "grpc"),
		),
	}
}

func (rt *runtime) inventoryStage() (components, error) {
	checker, err := NewAvailabilityChecker(rt.cfg, rt.redis)
	if err != nil {
		return components{}, err
	}
	engine := inventory.NewEngine(checker, rt.router, rt.clock)
	work := stage.Work{Min: rt.cfg.InventoryDelayMin, Max: rt.cfg.InventoryDelayMax, Clock: rt.clock}
	handler := inventory.NewHandler(engine, rt.publisher, work, rt.logger.WithField("component", "inventory"))
	return components{subs: []messaging.Subscription{handler.Subscription(rt.cfg.Workers)}}, nil
}

func (rt *runtime) pickingStage() components {
	handler := picking.NewHandler(rt.publisher, rt.router, rt.clock, picking.Config{
		PickedBy: rt.cfg.WorkerName,
		Work:     stage.Work{Min: rt.cfg.PickingDelayMin, Max: rt.cfg.PickingDelayMax, Clock: rt.clock},
		Workers:  rt.cfg.Workers,
	}, rt.logger.WithField("component", "picking"))
	return components{subs: []messaging.Subscription{handler.Subscription()}}
}

func (rt *runtime) packingStage() components {
	handler := packing.NewHandler(rt.publisher, rt.router, rt.clock, packing.Config{
		PackedBy: rt.cfg.WorkerName,
		Work:     stage.Work{Min: rt.cfg.PackingDelayMin, Max: rt.cfg.PackingDelayMax, Clock: rt.clock},
		Workers:  rt.cfg.Workers,
	}, rt.logger.WithField("component", "packing"))
	return components{subs: []messaging.Subscription{handler.Subscription()}}
}

// stopGRPC останавливает сервер: health переводится в NOT_SERVING,
// GracefulStop ограничен shutdownTimeout.
func stopGRPC(srv *grpcsvc.Server, logger *log.Entry) {
	srv.Drain()
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop timed out, forcing grpc server stop")
		srv.Stop()
	}
}

// newHTTPHandler собирает HTTP маршруты метрик и проверок.
func newHTTPHandler(healthHandler *health.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	return mux
}

// startMetricsServer запускает HTTP сервер /metrics и health checks.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *health.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newHTTPHandler(healthHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("metrics available at %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}

func closeWithLog(closeFn func() error, name string, logger *log.Entry) {
	if err := closeFn(); err != nil {
		logger.WithError(err).WithField("resource", name).Warn("close failed")
	}
}
