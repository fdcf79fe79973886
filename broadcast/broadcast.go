// broadcast/broadcast.go
package broadcast

import (
	"sync"
)

// Snapshot is the full document delivered to subscribers after each change.
type Snapshot struct {
	Collection string
	ID         string
	Version    int64
	Data       []byte
	Deleted    bool
}

// Topic 文档的订阅主题
func Topic(collection, id string) string {
	return collection + "/" + id
}

// Broadcaster 发布/订阅接口
type Broadcaster interface {
	Subscribe(topic string, fn func(Snapshot)) (cancel func())
	Publish(snap Snapshot)
}

type subscription struct {
	fn     func(Snapshot)
	last   int64
	closed bool
	mutex  sync.Mutex
}

// deliver drops snapshots older than the last one seen, so every subscriber
// observes a monotonic version sequence even when writers race.
func (s *subscription) deliver(snap Snapshot) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed || snap.Version <= s.last {
		return
	}
	s.last = snap.Version
	s.fn(snap)
}

func (s *subscription) close() {
	s.mutex.Lock()
	s.closed = true
	s.mutex.Unlock()
}

// Hub 基于主题的进程内广播器
type Hub struct {
	topics map[string]map[uint64]*subscription
	nextID uint64
	mutex  sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[uint64]*subscription),
	}
}

// Subscribe registers fn for topic. fn runs on the publishing goroutine and
// must not block. The returned cancel is idempotent.
func (h *Hub) Subscribe(topic string, fn func(Snapshot)) func() {
	h.mutex.Lock()
	h.nextID++
	id := h.nextID
	sub := &subscription{fn: fn}
	if _, exists := h.topics[topic]; !exists {
		h.topics[topic] = make(map[uint64]*subscription)
	}
	h.topics[topic][id] = sub
	h.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.close()
			h.mutex.Lock()
			defer h.mutex.Unlock()
			if subs, exists := h.topics[topic]; exists {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.topics, topic)
				}
			}
		})
	}
}

// Publish delivers snap to every subscriber of its document topic.
func (h *Hub) Publish(snap Snapshot) {
	h.mutex.RLock()
	subs := make([]*subscription, 0, len(h.topics[Topic(snap.Collection, snap.ID)]))
	for _, s := range h.topics[Topic(snap.Collection, snap.ID)] {
		subs = append(subs, s)
	}
	h.mutex.RUnlock()

	for _, s := range subs {
		s.deliver(snap)
	}
}

// Count returns the number of live subscriptions across all topics.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	n := 0
	for _, subs := range h.topics {
		n += len(subs)
	}
	return n
}
