package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
)

func sampleOrder(id string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:            id,
		CorrelationID: "corr-" + id,
		State:         domain.OrderStateCreated,
		OrderType:     domain.OrderTypeStandard,
		TotalAmount:   decimal.RequireFromString("30.00"),
		Customer:      domain.Customer{ID: "c-1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		ShippingAddress: domain.ShippingAddress{
			Street: "1 Main St", City: "Copenhagen", PostalCode: "1000", Country: "DK",
		},
		Payment: domain.Payment{Method: "card", Currency: "DKK", Amount: decimal.RequireFromString("30.00")},
		Items: []domain.OrderItem{
			{SKU: "SKU-1", ProductName: "Mug", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00"), LineTotal: decimal.RequireFromString("20.00")},
			{SKU: "SKU-2", ProductName: "Plate", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00"), LineTotal: decimal.RequireFromString("10.00")},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestStore_PostgresOrderLifecycle(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()

	tx := NewTransactor(store)
	orders := NewOrderRepository(store)
	outbox := NewOutboxRepository(store)
	now := time.Now().UTC().Round(time.Microsecond)

	var created domain.Order
	err := tx.InTx(ctx, func(ctx context.Context, otx domain.OrderTx) error {
		no, err := otx.NextOrderNo(ctx, 1000)
		if err != nil {
			return err
		}
		created = sampleOrder("order-1", now)
		created.OrderNo = no
		if err := otx.InsertOrder(ctx, created); err != nil {
			return err
		}
		_, err = otx.EnqueueOutbox(ctx, domain.OutboxRecord{
			MessageType: "OrderCreated",
			AggregateID: created.ID,
			Priority:    9,
			Payload:     []byte(`{"orderId":"order-1"}`),
		})
		return err
	})
	if err != nil {
		t.Fatalf("create order tx: %v", err)
	}
	if created.OrderNo != 1000 {
		t.Fatalf("expected order number 1000, got %d", created.OrderNo)
	}

	got, err := orders.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Version != 1 || len(got.Items) != 2 || got.Items[0].Status != domain.ItemStatusPending {
		t.Fatalf("unexpected stored order: %+v", got)
	}
	if !got.TotalAmount.Equal(created.TotalAmount) {
		t.Fatalf("expected total %s, got %s", created.TotalAmount, got.TotalAmount)
	}

	if _, err := got.ApplyReservation([]string{"SKU-1"}, true, now.Add(time.Second)); err != nil {
		t.Fatalf("apply reservation: %v", err)
	}
	saved, err := orders.Save(ctx, got)
	if err != nil {
		t.Fatalf("save order: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("expected version 2, got %d", saved.Version)
	}
	if _, err := orders.Save(ctx, got); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	byNo, err := orders.GetByOrderNo(ctx, 1000)
	if err != nil {
		t.Fatalf("get by order no: %v", err)
	}
	if byNo.State != domain.OrderStatePartialDelivered || byNo.Items[1].Status != domain.ItemStatusUnavailable {
		t.Fatalf("unexpected order after save: %+v", byNo)
	}

	pending, err := outbox.PullPending(ctx, 10, 3)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Priority != 9 {
		t.Fatalf("unexpected pending outbox: %+v", pending)
	}
	if err := outbox.MarkProcessed(ctx, pending[0].ID, now); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	stats, err := outbox.Stats(ctx, 3)
	if err != nil {
		t.Fatalf("outbox stats: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected empty backlog, got %+v", stats)
	}
}

func TestStore_PostgresFaultsTimelineIdempotency(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	faults := NewFaultRepository(store)
	record := domain.FaultRecord{
		ID:          "fault-1",
		MessageType: "OrderPicked",
		Payload:     []byte(`{}`),
		Exceptions:  []domain.ExceptionInfo{{Type: "*errors.errorString", Message: "boom"}},
		Attempts:    3,
		OccurredAt:  now,
	}
	if err := faults.Save(ctx, record); err != nil {
		t.Fatalf("save fault: %v", err)
	}
	if err := faults.Save(ctx, record); !errors.Is(err, domain.ErrFaultAlreadyExists) {
		t.Fatalf("expected ErrFaultAlreadyExists, got %v", err)
	}
	got, err := faults.Get(ctx, "fault-1")
	if err != nil {
		t.Fatalf("get fault: %v", err)
	}
	if len(got.Exceptions) != 1 || got.Exceptions[0].Message != "boom" {
		t.Fatalf("unexpected fault exceptions: %+v", got.Exceptions)
	}

	timeline := NewTimelineRepository(store)
	if err := timeline.Append(ctx, domain.TimelineEvent{OrderID: "order-1", State: domain.OrderStateCreated, Occurred: now}); err != nil {
		t.Fatalf("append timeline: %v", err)
	}
	events, err := timeline.List(ctx, "order-1")
	if err != nil || len(events) != 1 {
		t.Fatalf("list timeline: %v %+v", err, events)
	}

	idem := NewIdempotencyRepository(store)
	if _, err := idem.CreateProcessing(ctx, "corr-1", "hash", now.Add(-time.Minute)); err != nil {
		t.Fatalf("create idempotency: %v", err)
	}
	if _, err := idem.CreateProcessing(ctx, "corr-1", "other", now); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
	removed, err := idem.DeleteExpired(ctx, now, 10)
	if err != nil || removed != 1 {
		t.Fatalf("delete expired: removed=%d err=%v", removed, err)
	}
}

func TestStore_PostgresMigrationVersion(t *testing.T) {
	store := integrationStore(t)

	version, err := store.MigrationVersion(context.Background())
	if err != nil {
		t.Fatalf("migration version: %v", err)
	}
	if version < 1 {
		t.Fatalf("expected applied migrations, got version %d", version)
	}
}

func TestStore_PostgresConcurrentOrderNumbersAreUnique(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()
	tx := NewTransactor(store)
	now := time.Now().UTC().Round(time.Microsecond)

	const total = 16
	numbers := make([]int64, total)
	errs := make([]error, total)
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tx.InTx(ctx, func(ctx context.Context, otx domain.OrderTx) error {
				no, err := otx.NextOrderNo(ctx, 1000)
				if err != nil {
					return err
				}
				order := sampleOrder(fmt.Sprintf("order-parallel-%d", i), now)
				order.OrderNo = no
				numbers[i] = no
				return otx.InsertOrder(ctx, order)
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("create order %d: %v", i, err)
		}
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, no := range numbers {
		if no != 1000+int64(i) {
			t.Fatalf("expected contiguous unique numbers from 1000, got %v", numbers)
		}
	}
}
