package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/streamflow/internal/events"
	"github.com/vladislavdragonenkov/streamflow/internal/health"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging"
	"github.com/vladislavdragonenkov/streamflow/internal/messaging/memory"
	"github.com/vladislavdragonenkov/streamflow/internal/service/inventory"
)

func TestHTTPHandlerRoutes(t *testing.T) {
	h := health.NewHandler(StageOrder, "test", clockwork.NewFakeClock())
	srv := httptest.NewServer(newHTTPHandler(h))
	defer srv.Close()

	for _, path := range []string{"/metrics", "/healthz", "/readyz", "/livez"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestHTTPHandlerReportsFailedStorage(t *testing.T) {
	h := health.NewHandler(StageOrder, "test", clockwork.NewFakeClock())
	h.RegisterChecker("storage", health.NewCheckFunc("storage", func(context.Context) error {
		return assert.AnError
	}))
	srv := httptest.NewServer(newHTTPHandler(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestShutdownHTTPIgnoresNilServer(t *testing.T) {
	shutdownHTTP(nil, nil)
}

func TestRunRejectsUnknownStage(t *testing.T) {
	err := Run(context.Background(), DefaultConfig(), "shipping")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown stage "shipping"`)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, StageAll) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestOpenMemoryStorage(t *testing.T) {
	st, err := OpenStorage(context.Background(), DefaultConfig(), testLogger())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Ping(context.Background()))
	assert.NotNil(t, st.Transactor)
	assert.NotNil(t, st.Orders)
	assert.NotNil(t, st.Outbox)
	assert.NotNil(t, st.Timeline)
	assert.NotNil(t, st.Faults)
	assert.NotNil(t, st.Idempotency)
}

func TestOpenBrokerSelectsMemoryBus(t *testing.T) {
	broker, err := OpenBroker(DefaultConfig(), nil, testLogger())
	require.NoError(t, err)
	defer broker.Close()

	_, ok := broker.(*memory.Bus)
	assert.True(t, ok)
}

func TestOpenBrokerRejectsUnknown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker = "nats"

	_, err := OpenBroker(cfg, nil, testLogger())
	require.Error(t, err)
}

func TestLazyPublisher(t *testing.T) {
	p := &lazyPublisher{}
	msg := messaging.Message{Type: events.TypeOrderCreated}

	require.ErrorIs(t, p.Publish(context.Background(), msg), errPublisherNotReady)

	bus := memory.NewBus(nil, nil)
	p.Set(bus)
	require.NoError(t, p.Publish(context.Background(), msg))
	assert.Len(t, bus.Published(), 1)
}

func TestNewAvailabilityChecker(t *testing.T) {
	cfg := DefaultConfig()
	checker, err := NewAvailabilityChecker(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &inventory.RandomChecker{}, checker)

	cfg.AvailabilitySource = AvailabilityRedis
	_, err = NewAvailabilityChecker(cfg, nil)
	require.Error(t, err)
}

func TestSetupTracingWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer, shutdown, err := SetupTracing(true, StageInventory, &buf)
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "check")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(&buf).Decode(&decoded))
	assert.Equal(t, "check", decoded["Name"])
}

func TestSetupTracingDisabled(t *testing.T) {
	tracer, shutdown, err := SetupTracing(false, StageOrder, nil)
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.NoError(t, shutdown(context.Background()))
}
