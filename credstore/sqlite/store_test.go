package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrEthical07/gameauth/credstore"
	"github.com/MrEthical07/gameauth/credstore/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) credstore.Store {
		return openTestStore(t)
	})
}

func TestSQLiteOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	id := &credstore.Identity{Username: "kate", Email: "kate@example.com", PasswordHash: "h", IsActive: true}
	if err := first.Create(context.Background(), id); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_ = first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer second.Close()

	got, err := second.GetByID(context.Background(), id.ID)
	if err != nil {
		t.Fatalf("GetByID after reopen failed: %v", err)
	}
	if got.Username != "kate" {
		t.Fatalf("expected persisted username, got %q", got.Username)
	}
}

func TestSQLiteOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
