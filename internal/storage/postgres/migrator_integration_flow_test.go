package postgres

import (
	"context"
	"testing"
	"time"
)

func migrationStateForTest(ctx context.Context, t *testing.T, store *Store) (int64, int) {
	t.Helper()
	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status: %v", err)
	}
	return version, count
}

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Сбрасываем схему перед прогоном.
	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("migrate down reset: %v", err)
	}
	if version, count := migrationStateForTest(ctx, t, store); version != 0 || count != 0 {
		t.Fatalf("unexpected status after reset: version=%d count=%d", version, count)
	}

	// Пошаговое применение: только первая миграция.
	if err := store.MigrateUp(ctx, 1); err != nil {
		t.Fatalf("migrate up one step: %v", err)
	}
	if version, count := migrationStateForTest(ctx, t, store); version != 1 || count != 1 {
		t.Fatalf("unexpected status after one step: version=%d count=%d", version, count)
	}

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up all: %v", err)
	}
	if version, count := migrationStateForTest(ctx, t, store); version != 3 || count != 3 {
		t.Fatalf("unexpected status after up all: version=%d count=%d", version, count)
	}

	// Повторный up идемпотентен.
	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("idempotent migrate up: %v", err)
	}
	if version, count := migrationStateForTest(ctx, t, store); version != 3 || count != 3 {
		t.Fatalf("unexpected status after idempotent up: version=%d count=%d", version, count)
	}

	// В журнале лежат имена применённых миграций.
	var outboxLedgerName string
	err := store.DB().QueryRowContext(ctx,
		`SELECT name FROM checkout_schema_migrations WHERE version = 3`,
	).Scan(&outboxLedgerName)
	if err != nil {
		t.Fatalf("read migration ledger: %v", err)
	}
	if outboxLedgerName != "create_outbox_messages" {
		t.Fatalf("unexpected ledger name for version 3: %s", outboxLedgerName)
	}

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down 1: %v", err)
	}
	if version, count := migrationStateForTest(ctx, t, store); version != 2 || count != 2 {
		t.Fatalf("unexpected status after down 1: version=%d count=%d", version, count)
	}

	// steps<=0 трактуется как один шаг.
	if err := store.MigrateDown(ctx, 0); err != nil {
		t.Fatalf("migrate down default step: %v", err)
	}
	if version, count := migrationStateForTest(ctx, t, store); version != 1 || count != 1 {
		t.Fatalf("unexpected status after down default: version=%d count=%d", version, count)
	}

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down last: %v", err)
	}
	if version, count := migrationStateForTest(ctx, t, store); version != 0 || count != 0 {
		t.Fatalf("unexpected status after full rollback: version=%d count=%d", version, count)
	}

	// Down на пустой схеме — no-op.
	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down on empty should be no-op: %v", err)
	}
}

func TestMigrator_NilStoreGuards(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := nilStore.MigrateUp(ctx, 0); err == nil {
		t.Fatal("expected error for nil store MigrateUp")
	}
	if err := nilStore.MigrateDown(ctx, 1); err == nil {
		t.Fatal("expected error for nil store MigrateDown")
	}
	if _, _, err := nilStore.MigrationStatus(ctx); err == nil {
		t.Fatal("expected error for nil store MigrationStatus")
	}
}
