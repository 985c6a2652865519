// Package scriptcache keeps prepared scripts keyed by content hash so the
// same source is parsed and transpiled once per process, or once per
// cache directory when a persistent store is configured.
package scriptcache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is one prepared script.
type Entry struct {
	Key       string
	Origin    string
	Loader    string
	Code      string
	CreatedAt time.Time
}

// Store is implemented by the in-memory and SQLite caches.
type Store interface {
	Get(key string) (Entry, bool, error)
	Put(e Entry) error
	Len() int
	Close() error
}

// Memory is a bounded LRU cache. The zero value is not usable; use
// NewMemory.
type Memory struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

var _ Store = (*Memory)(nil)

// NewMemory creates an LRU holding at most capacity entries. A capacity
// of zero or less disables caching.
func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the entry for key and marks it recently used.
func (m *Memory) Get(key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	m.order.MoveToFront(el)
	return el.Value.(Entry), true, nil
}

// Put stores e, evicting the least recently used entry when full.
func (m *Memory) Put(e Entry) error {
	if m.capacity <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[e.Key]; ok {
		el.Value = e
		m.order.MoveToFront(el)
		return nil
	}
	m.items[e.Key] = m.order.PushFront(e)
	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(Entry).Key)
	}
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Close drops all entries.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	m.items = make(map[string]*list.Element)
	return nil
}
