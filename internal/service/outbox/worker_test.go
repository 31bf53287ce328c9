package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	membus "github.com/vladislavdragonenkov/streamflow/internal/messaging/memory"
	"github.com/vladislavdragonenkov/streamflow/internal/metrics"
	"github.com/vladislavdragonenkov/streamflow/internal/storage/memory"
)

var baseTime = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func enqueueCreated(t *testing.T, store *memory.Store, orderID string, priority uint8, at time.Time) domain.OutboxRecord {
	t.Helper()
	payload, err := events.Encode(events.OrderCreated{OrderID: orderID, OrderNo: 1000, CorrelationID: "corr-" + orderID})
	require.NoError(t, err)
	record, err := store.Enqueue(context.Background(), domain.OutboxRecord{
		MessageType:   string(events.TypeOrderCreated),
		AggregateID:   orderID,
		CorrelationID: "corr-" + orderID,
		Priority:      priority,
		Payload:       payload,
		CreatedAt:     at,
	})
	require.NoError(t, err)
	return record
}

type failingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *failingPublisher) Publish(context.Context, messaging.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return errors.New("broker unavailable")
}

type stubLease struct {
	held     bool
	err      error
	released bool
}

func (l *stubLease) TryAcquire(context.Context) (bool, error) {
	return l.held, l.err
}

func (l *stubLease) Release(context.Context) error {
	l.released = true
	return nil
}

func TestWorkerPublishesInCreationOrder(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	bus := membus.NewBus(nil, nil)
	second := enqueueCreated(t, store, "order-2", events.PriorityStandard, baseTime.Add(time.Second))
	first := enqueueCreated(t, store, "order-1", events.PriorityExpedited, baseTime)

	clock := clockwork.NewFakeClockAt(baseTime.Add(time.Minute))
	worker := NewWorker(store, bus, WithClock(clock))

	assert.Equal(t, 2, worker.ProcessOnce(context.Background()))

	published := bus.PublishedOf(events.TypeOrderCreated)
	require.Len(t, published, 2)
	assert.Equal(t, first.ID, published[0].ID)
	assert.Equal(t, "order-1", published[0].Key)
	assert.Equal(t, "corr-order-1", published[0].CorrelationID)
	assert.Equal(t, events.PriorityExpedited, published[0].Priority)
	assert.Equal(t, second.ID, published[1].ID)

	for _, record := range store.OutboxRecords() {
		require.True(t, record.Processed())
		assert.Equal(t, clock.Now().UTC(), *record.ProcessedAt)
	}
	assert.Zero(t, worker.ProcessOnce(context.Background()))
}

func TestWorkerRespectsBatchSize(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	bus := membus.NewBus(nil, nil)
	for i := 0; i < 3; i++ {
		enqueueCreated(t, store, "order", events.PriorityStandard, baseTime.Add(time.Duration(i)*time.Second))
	}

	worker := NewWorker(store, bus, WithBatchSize(2))

	assert.Equal(t, 2, worker.ProcessOnce(context.Background()))
	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))
}

func TestWorkerLeavesRecordForManualReviewAtCeiling(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	publisher := &failingPublisher{}
	reg := prometheus.NewRegistry()
	enqueueCreated(t, store, "order-1", events.PriorityStandard, baseTime)

	worker := NewWorker(store, publisher,
		WithMaxRetries(3),
		WithMetrics(metrics.NewPipelineMetricsWithRegisterer(reg)),
	)

	for i := 0; i < 5; i++ {
		assert.Zero(t, worker.ProcessOnce(context.Background()))
	}

	assert.Equal(t, 3, publisher.calls)
	records := store.OutboxRecords()
	require.Len(t, records, 1)
	assert.False(t, records[0].Processed())
	assert.Equal(t, 3, records[0].RetryCount)
	assert.True(t, records[0].NeedsManualReview(3))

	assert.Equal(t, 1.0, gaugeValue(t, reg, "streamflow_outbox_manual_review_records"))
	assert.Equal(t, 0.0, gaugeValue(t, reg, "streamflow_outbox_pending_records"))
}

func TestWorkerCountsUndecodablePayloadAsFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	bus := membus.NewBus(nil, nil)
	_, err := store.Enqueue(context.Background(), domain.OutboxRecord{
		MessageType: string(events.TypeOrderCreated),
		AggregateID: "order-1",
		Payload:     []byte("{broken"),
		CreatedAt:   baseTime,
	})
	require.NoError(t, err)

	worker := NewWorker(store, bus)
	assert.Zero(t, worker.ProcessOnce(context.Background()))

	assert.Empty(t, bus.Published())
	assert.Equal(t, 1, store.OutboxRecords()[0].RetryCount)
}

func TestWorkerSkipsCycleWithoutLease(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	bus := membus.NewBus(nil, nil)
	enqueueCreated(t, store, "order-1", events.PriorityStandard, baseTime)

	lease := &stubLease{held: false}
	worker := NewWorker(store, bus, WithLease(lease))
	assert.Zero(t, worker.ProcessOnce(context.Background()))

	lease.err = errors.New("redis down")
	assert.Zero(t, worker.ProcessOnce(context.Background()))

	lease.err = nil
	lease.held = true
	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))
}

func TestWorkerRunPollsOnTicker(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	bus := membus.NewBus(nil, nil)
	lease := &stubLease{held: true}
	clock := clockwork.NewFakeClockAt(baseTime)
	enqueueCreated(t, store, "order-1", events.PriorityStandard, baseTime)

	worker := NewWorker(store, bus, WithClock(clock), WithLease(lease), WithPollInterval(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(bus.Published()) == 1
	}, time.Second, 5*time.Millisecond)

	enqueueCreated(t, store, "order-2", events.PriorityStandard, baseTime.Add(time.Millisecond))
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		return len(bus.Published()) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.True(t, lease.released)
}

// lostAckStore теряет отметку processed заданное число раз.
type lostAckStore struct {
	*memory.Store
	failures int
}

func (s *lostAckStore) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	return s.Store.MarkProcessed(ctx, id, at)
}

func TestWorkerRepublishesWhenMarkProcessedFails(t *testing.T) {
	t.Parallel()

	store := &lostAckStore{Store: memory.NewStore(), failures: 1}
	bus := membus.NewBus(nil, nil)
	record := enqueueCreated(t, store.Store, "order-1", events.PriorityStandard, baseTime)

	worker := NewWorker(store, bus)

	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))
	records := store.OutboxRecords()
	require.Len(t, records, 1)
	assert.False(t, records[0].Processed())
	assert.Zero(t, records[0].RetryCount)

	assert.Equal(t, 1, worker.ProcessOnce(context.Background()))
	published := bus.PublishedOf(events.TypeOrderCreated)
	require.Len(t, published, 2)
	assert.Equal(t, record.ID, published[0].ID)
	assert.Equal(t, record.ID, published[1].ID)

	records = store.OutboxRecords()
	assert.True(t, records[0].Processed())
	assert.Zero(t, records[0].RetryCount)
	assert.Zero(t, worker.ProcessOnce(context.Background()))
}

func TestWorkerPublishesRecordsCommittedBeforeRestart(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	payload, err := events.Encode(events.OrderCreated{OrderID: "order-1", OrderNo: 1000, CorrelationID: "corr-order-1"})
	require.NoError(t, err)

	err = store.InTx(context.Background(), func(ctx context.Context, tx domain.OrderTx) error {
		no, err := tx.NextOrderNo(ctx, 1000)
		if err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, domain.Order{
			ID:          "order-1",
			OrderNo:     no,
			State:       domain.OrderStateCreated,
			OrderType:   domain.OrderTypeStandard,
			TotalAmount: decimal.RequireFromString("10.00"),
			Items: []domain.OrderItem{{
				SKU: "SKU-1", ProductName: "Mug", Quantity: 1,
				UnitPrice: decimal.RequireFromString("10.00"), LineTotal: decimal.RequireFromString("10.00"),
				Status: domain.ItemStatusPending,
			}},
			CreatedAt: baseTime,
			UpdatedAt: baseTime,
		}); err != nil {
			return err
		}
		_, err = tx.EnqueueOutbox(ctx, domain.OutboxRecord{
			MessageType:   string(events.TypeOrderCreated),
			AggregateID:   "order-1",
			CorrelationID: "corr-order-1",
			Priority:      events.PriorityStandard,
			Payload:       payload,
			CreatedAt:     baseTime,
		})
		return err
	})
	require.NoError(t, err)

	// Процесс остановился до первого цикла публикации.
	stopped, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Zero(t, NewWorker(store, membus.NewBus(nil, nil)).ProcessOnce(stopped))

	bus := membus.NewBus(nil, nil)
	restarted := NewWorker(store, bus)
	assert.Equal(t, 1, restarted.ProcessOnce(context.Background()))

	published := bus.PublishedOf(events.TypeOrderCreated)
	require.Len(t, published, 1)
	assert.Equal(t, "order-1", published[0].Key)
	assert.True(t, store.OutboxRecords()[0].Processed())
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			require.NotEmpty(t, family.GetMetric())
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
