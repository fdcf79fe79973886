package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/babyfoot/broadcast"
)

// MemoryStore keeps documents in process. It backs tests and single-node
// deployments; writes are serialized by one mutex so Update is a true CAS.
type MemoryStore struct {
	docs  map[string]map[string]*Document
	hub   broadcast.Broadcaster
	now   func() time.Time
	mutex sync.RWMutex
}

func NewMemoryStore(hub broadcast.Broadcaster) *MemoryStore {
	if hub == nil {
		hub = broadcast.NewHub()
	}
	return &MemoryStore{
		docs: make(map[string]map[string]*Document),
		hub:  hub,
		now:  time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, collection, id string) (*Document, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	doc, exists := m.docs[collection][id]
	if !exists {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrRecordNotFound)
	}
	return doc.clone(), nil
}

func (m *MemoryStore) Create(_ context.Context, doc *Document) error {
	m.mutex.Lock()
	if _, exists := m.docs[doc.Collection]; !exists {
		m.docs[doc.Collection] = make(map[string]*Document)
	}
	if _, exists := m.docs[doc.Collection][doc.ID]; exists {
		m.mutex.Unlock()
		return fmt.Errorf("%s/%s: %w", doc.Collection, doc.ID, ErrAlreadyExists)
	}
	doc.Version = 1
	doc.UpdatedAt = m.now()
	stored := doc.clone()
	m.docs[doc.Collection][doc.ID] = stored
	m.mutex.Unlock()

	m.hub.Publish(stored.snapshot())
	return nil
}

func (m *MemoryStore) Update(_ context.Context, doc *Document, expectedVersion int64) error {
	m.mutex.Lock()
	current, exists := m.docs[doc.Collection][doc.ID]
	if !exists {
		m.mutex.Unlock()
		return fmt.Errorf("%s/%s: %w", doc.Collection, doc.ID, ErrRecordNotFound)
	}
	if current.Version != expectedVersion {
		m.mutex.Unlock()
		return ErrVersionConflict
	}
	doc.Version = expectedVersion + 1
	doc.UpdatedAt = m.now()
	stored := doc.clone()
	m.docs[doc.Collection][doc.ID] = stored
	m.mutex.Unlock()

	m.hub.Publish(stored.snapshot())
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	m.mutex.Lock()
	current, exists := m.docs[collection][id]
	if !exists {
		m.mutex.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, ErrRecordNotFound)
	}
	delete(m.docs[collection], id)
	m.mutex.Unlock()

	m.hub.Publish(broadcast.Snapshot{Collection: collection, ID: id, Version: current.Version + 1, Deleted: true})
	return nil
}

// Query returns matching documents ordered by ID for stable results.
func (m *MemoryStore) Query(_ context.Context, collection string, filters ...Filter) ([]*Document, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Document
	for _, doc := range m.docs[collection] {
		ok := true
		for _, f := range filters {
			if !f.matches(doc.Fields) {
				ok = false
				break
			}
		}
		if ok {
			result = append(result, doc.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) Subscribe(collection, id string, fn func(broadcast.Snapshot)) func() {
	return m.hub.Subscribe(broadcast.Topic(collection, id), fn)
}

func (m *MemoryStore) Close() error { return nil }
