package broadcast

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesTopicSubscribersOnly(t *testing.T) {
	hub := NewHub()

	var got []int64
	cancel := hub.Subscribe(Topic("games", "g1"), func(s Snapshot) { got = append(got, s.Version) })
	defer cancel()

	other := 0
	cancelOther := hub.Subscribe(Topic("games", "g2"), func(Snapshot) { other++ })
	defer cancelOther()

	hub.Publish(Snapshot{Collection: "games", ID: "g1", Version: 1})
	hub.Publish(Snapshot{Collection: "games", ID: "g1", Version: 2})

	assert.Equal(t, []int64{1, 2}, got)
	assert.Equal(t, 0, other)
}

func TestHub_DropsStaleVersions(t *testing.T) {
	hub := NewHub()

	var got []int64
	defer hub.Subscribe(Topic("sessions", "s1"), func(s Snapshot) { got = append(got, s.Version) })()

	for _, v := range []int64{1, 3, 2, 3, 4} {
		hub.Publish(Snapshot{Collection: "sessions", ID: "s1", Version: v})
	}
	assert.Equal(t, []int64{1, 3, 4}, got)
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	hub := NewHub()
	calls := 0
	cancel := hub.Subscribe(Topic("games", "g1"), func(Snapshot) { calls++ })
	require.Equal(t, 1, hub.Count())

	cancel()
	cancel()
	hub.Publish(Snapshot{Collection: "games", ID: "g1", Version: 1})

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, hub.Count())
}

func TestHub_ConcurrentPublishStaysMonotonic(t *testing.T) {
	hub := NewHub()

	var (
		mu   sync.Mutex
		seen []int64
	)
	defer hub.Subscribe(Topic("games", "g1"), func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.Version)
		mu.Unlock()
	})()

	var wg sync.WaitGroup
	for v := int64(1); v <= 50; v++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			hub.Publish(Snapshot{Collection: "games", ID: "g1", Version: v})
		}(v)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}
