package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestNewSQLiteAppliesMigrationsTwice(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "support.db")

	first, err := NewSQLite(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	first.Close()

	second, err := NewSQLite(ctx, path, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer second.Close()

	for _, table := range []string{"tickets", "ticket_history", "requesters", "handlers", "broadcasts"} {
		var name string
		err := second.DB.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}
	if err := second.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestNewSQLiteRequiresPath(t *testing.T) {
	if _, err := NewSQLite(context.Background(), "  ", zap.NewNop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}
