package postgres

import (
	"context"
	"testing"
	"time"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	assertStatus := func(stage string, wantVersion int64, wantCount int) {
		t.Helper()
		version, count, err := store.MigrationStatus(ctx)
		if err != nil {
			t.Fatalf("migration status %s: %v", stage, err)
		}
		if version != wantVersion || count != wantCount {
			t.Fatalf("unexpected status %s: version=%d count=%d", stage, version, count)
		}
	}

	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("migrate down reset: %v", err)
	}
	assertStatus("after reset", 0, 0)

	if err := store.MigrateUp(ctx, 1); err != nil {
		t.Fatalf("migrate up one step: %v", err)
	}
	assertStatus("after one step", 1, 1)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up all: %v", err)
	}
	assertStatus("after up all", 2, 2)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("idempotent migrate up: %v", err)
	}
	assertStatus("after idempotent up", 2, 2)

	if err := store.MigrateDown(ctx, 0); err != nil {
		t.Fatalf("migrate down default step: %v", err)
	}
	assertStatus("after down default", 1, 1)

	if err := store.MigrateDown(ctx, 5); err != nil {
		t.Fatalf("migrate down rest: %v", err)
	}
	assertStatus("after down rest", 0, 0)

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
