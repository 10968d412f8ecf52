package postgres

import (
	"os"
	"testing"

	"github.com/soulprint/soulprint-sync/internal/migrations"
	"github.com/soulprint/soulprint-sync/internal/store"
	"github.com/soulprint/soulprint-sync/internal/store/storetest"
)

func makePGStore(t *testing.T) store.Store {
	t.Helper()
	dsn := os.Getenv("SOULSYNC_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SOULSYNC_POSTGRES_DSN not set; skipping postgres store integration test")
	}
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("postgres open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := migrations.Up(db, "postgres"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewWithDB(db)
}

func TestPostgresStore_Compliance(t *testing.T) {
	storetest.Run(t, makePGStore)
}
