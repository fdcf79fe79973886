package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wfunc/babyfoot/apperr"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(context.Background(), rdb, nil)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStore_UpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	if err := Insert(ctx, store, "counters", &counter{ID: "a", Status: "open"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := Insert(ctx, store, "counters", &counter{ID: "a"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}

	doc, err := store.Get(ctx, "counters", "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	stale := doc.clone()
	if err := store.Update(ctx, doc, 1); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if doc.Version != 2 {
		t.Fatalf("Expected version 2, got %d", doc.Version)
	}

	err = store.Update(ctx, stale, 1)
	if !errors.Is(err, ErrVersionConflict) || !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("Expected ErrVersionConflict, got %v", err)
	}
	got, _ := store.Get(ctx, "counters", "a")
	if got.Version != 2 {
		t.Fatalf("Stale update must not write, version %d", got.Version)
	}

	missing := &Document{Collection: "counters", ID: "missing", Data: []byte(`{}`)}
	if err := store.Update(ctx, missing, 1); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestRedisStore_StatusMovesBetweenIndexSets(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)
	if err := Insert(ctx, store, "counters", &counter{ID: "a", Status: "open"}); err != nil {
		t.Fatal(err)
	}

	_, err := Mutate(ctx, store, "counters", "a", func(c *counter) error {
		c.Status = "closed"
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	if ok, _ := mr.IsMember(indexKey("counters", "status", "open"), "a"); ok {
		t.Fatal("id still in the open index")
	}
	if ok, _ := mr.IsMember(indexKey("counters", "status", "closed"), "a"); !ok {
		t.Fatal("id missing from the closed index")
	}
	open, err := store.Query(ctx, "counters", Eq("status", "open"))
	if err != nil || len(open) != 0 {
		t.Fatalf("Expected no open counters, got %d (%v)", len(open), err)
	}
	closed, err := store.Query(ctx, "counters", In("status", "open", "closed"))
	if err != nil || len(closed) != 1 {
		t.Fatalf("Expected one counter, got %d (%v)", len(closed), err)
	}

	if err := store.Delete(ctx, "counters", "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := mr.IsMember(indexKey("counters", "status", "closed"), "a"); ok {
		t.Fatal("deleted id still indexed")
	}
	all, _ := store.Query(ctx, "counters")
	if len(all) != 0 {
		t.Fatalf("Expected empty collection, got %d", len(all))
	}
}

func TestRedisStore_MutateRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	if err := Insert(ctx, store, "counters", &counter{ID: "a"}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Mutate(ctx, store, "counters", "a", func(c *counter) error {
				c.Hits++
				return nil
			})
			if err != nil {
				t.Errorf("Mutate failed: %v", err)
			}
		}()
	}
	wg.Wait()

	c, _ := Load[counter](ctx, store, "counters", "a")
	if c.Hits != 4 {
		t.Fatalf("Expected 4 hits, got %d", c.Hits)
	}
}
