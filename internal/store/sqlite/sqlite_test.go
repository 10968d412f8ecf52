package sqlite

import (
	"testing"

	"github.com/soulprint/soulprint-sync/internal/migrations"
	"github.com/soulprint/soulprint-sync/internal/store"
	"github.com/soulprint/soulprint-sync/internal/store/storetest"
)

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		db, err := Open(":memory:")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })

		if err := migrations.Up(db, "sqlite"); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return NewWithDB(db)
	})
}
