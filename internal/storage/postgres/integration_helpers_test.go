package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// integrationDSNEnv задаёт базу для интеграционных тестов; без неё тесты пропускаются.
const integrationDSNEnv = "STREAMFLOW_POSTGRES_TEST_DSN"

// integrationTables очищаются перед каждым тестом, порядок учитывает внешние ключи.
var integrationTables = []string{"idempotency_keys", "outbox", "faults", "timeline_events", "order_items", "orders"}

func integrationStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(integrationDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set, skipping postgres integration test", integrationDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	require.NoError(t, err, "open postgres")
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.MigrateUp(ctx), "migrate up")
	_, err = store.DB().ExecContext(ctx, "TRUNCATE TABLE "+strings.Join(integrationTables, ", ")+" RESTART IDENTITY CASCADE")
	require.NoError(t, err, "truncate tables")
	return store
}
