package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wfunc/babyfoot/models"
	"github.com/wfunc/babyfoot/persistence"
	"github.com/wfunc/babyfoot/session"
)

func TestRedisStore_ConcurrentJoinLastSlot(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := persistence.NewRedisStore(context.Background(), rdb, nil)
	defer store.Close()
	m := session.NewManager(store, session.Options{})
	ctx := context.Background()

	host := models.Player{UserID: "u1", Username: "alice"}
	joiners := []models.Player{{UserID: "u2", Username: "bob"}, {UserID: "u3", Username: "carol"}}

	for i := 0; i < 20; i++ {
		s, err := m.Create(ctx, host, "", models.Format1v1)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		var wg sync.WaitGroup
		errs := make([]error, len(joiners))
		for j, p := range joiners {
			wg.Add(1)
			go func(j int, p models.Player) {
				defer wg.Done()
				_, errs[j] = m.Join(ctx, s.ID, p)
			}(j, p)
		}
		wg.Wait()

		full := 0
		for _, err := range errs {
			if err == nil {
				continue
			}
			if !errors.Is(err, session.ErrSessionFull) {
				t.Fatalf("Expected ErrSessionFull, got %v", err)
			}
			full++
		}
		if full != 1 {
			t.Fatalf("Expected exactly one full rejection, got %d", full)
		}

		got, err := m.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(got.Players) != 2 || got.Status != models.SessionReady {
			t.Fatalf("Expected ready session with 2 players, got %d/%s", len(got.Players), got.Status)
		}
		ready, err := store.Query(ctx, models.CollectionSessions, persistence.Eq(models.FieldStatus, string(models.SessionReady)))
		if err != nil || len(ready) != i+1 {
			t.Fatalf("Expected %d ready sessions, got %d (%v)", i+1, len(ready), err)
		}
	}
}
