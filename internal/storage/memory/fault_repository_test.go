package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/storage/memory"
)

func TestFaultRepository_WriteOnceAndList(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewFaultRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	older := domain.FaultRecord{ID: "fault-1", MessageType: "StockReserved", OccurredAt: base}
	newer := domain.FaultRecord{
		ID:          "fault-2",
		MessageType: "OrderPicked",
		OccurredAt:  base.Add(time.Minute),
		Exceptions:  []domain.ExceptionInfo{{Type: "*errors.errorString", Message: "boom"}},
	}

	for _, rec := range []domain.FaultRecord{older, newer} {
		if err := repo.Save(ctx, rec); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}
	if err := repo.Save(ctx, older); !errors.Is(err, domain.ErrFaultAlreadyExists) {
		t.Fatalf("expected ErrFaultAlreadyExists, got %v", err)
	}

	list, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "fault-2" {
		t.Fatalf("expected newest fault first, got %+v", list)
	}

	got, err := repo.Get(ctx, "fault-2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got.Exceptions) != 1 || got.Exceptions[0].Message != "boom" {
		t.Fatalf("unexpected exceptions: %+v", got.Exceptions)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrFaultNotFound) {
		t.Fatalf("expected ErrFaultNotFound, got %v", err)
	}
}

func TestTimelineRepository_ListChronological(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = repo.Append(ctx, domain.TimelineEvent{OrderID: "order-1", State: domain.OrderStatePicked, Occurred: base.Add(2 * time.Second)})
	_ = repo.Append(ctx, domain.TimelineEvent{OrderID: "order-1", State: domain.OrderStateCreated, Occurred: base})
	_ = repo.Append(ctx, domain.TimelineEvent{OrderID: "order-1", State: domain.OrderStateStockReserved, Occurred: base.Add(time.Second)})

	list, err := repo.List(ctx, "order-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []domain.OrderState{domain.OrderStateCreated, domain.OrderStateStockReserved, domain.OrderStatePicked}
	if len(list) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(list))
	}
	for i, state := range want {
		if list[i].State != state {
			t.Fatalf("event %d: expected %s, got %s", i, state, list[i].State)
		}
	}

	if err := repo.Append(ctx, domain.TimelineEvent{}); !errors.Is(err, domain.ErrOrderIDRequired) {
		t.Fatalf("expected ErrOrderIDRequired, got %v", err)
	}
}
