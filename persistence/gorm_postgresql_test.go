package persistence

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
)

// 需要真实数据库: BABYFOOT_TEST_POSTGRES_DSN="host=localhost user=postgres dbname=babyfoot_test sslmode=disable"
func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := os.Getenv("BABYFOOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BABYFOOT_TEST_POSTGRES_DSN not set")
	}
	store, err := OpenGormStore(dsn, nil)
	if err != nil {
		t.Fatalf("OpenGormStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGormStore_UpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)
	const collection = "counters"
	id := uuid.NewString()
	if err := Insert(ctx, store, collection, &counter{ID: id, Status: "open"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	doc, err := store.Get(ctx, collection, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	stale := doc.clone()
	if err := store.Update(ctx, doc, 1); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := store.Update(ctx, stale, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("Expected ErrVersionConflict, got %v", err)
	}

	_, err = Mutate(ctx, store, collection, id, func(c *counter) error {
		c.Status = "closed"
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	open, _ := store.Query(ctx, collection, Eq("status", "open"))
	closed, _ := store.Query(ctx, collection, Eq("status", "closed"))
	if containsID(open, id) || !containsID(closed, id) {
		t.Fatal("Expected the status index to move with the update")
	}
	got, _ := store.Get(ctx, collection, id)
	if got.Version != 3 {
		t.Fatalf("Expected version 3, got %d", got.Version)
	}
}

func containsID(docs []*Document, id string) bool {
	for _, d := range docs {
		if d.ID == id {
			return true
		}
	}
	return false
}
