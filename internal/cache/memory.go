package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/dgallion1/rtfbridge/internal/convert"
)

type entry struct {
	key     string
	out     convert.Output
	expires time.Time
}

// Memory is a bounded in-process LRU with per-entry expiry.
type Memory struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	order   *list.List // front is most recent
	entries map[string]*list.Element
	now     func() time.Time
}

// NewMemory holds at most max entries, each for ttl (0 means no expiry).
func NewMemory(max int, ttl time.Duration) *Memory {
	if max <= 0 {
		max = 1024
	}
	return &Memory{
		max:     max,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element, max),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (convert.Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[key]
	if !ok {
		return convert.Output{}, ErrMiss
	}
	e := el.Value.(*entry)
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.order.Remove(el)
		delete(m.entries, key)
		return convert.Output{}, ErrMiss
	}
	m.order.MoveToFront(el)
	return e.out, nil
}

func (m *Memory) Set(_ context.Context, key string, out convert.Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if m.ttl > 0 {
		expires = m.now().Add(m.ttl)
	}
	if el, ok := m.entries[key]; ok {
		e := el.Value.(*entry)
		e.out, e.expires = out, expires
		m.order.MoveToFront(el)
		return nil
	}
	m.entries[key] = m.order.PushFront(&entry{key: key, out: out, expires: expires})
	for m.order.Len() > m.max {
		last := m.order.Back()
		m.order.Remove(last)
		delete(m.entries, last.Value.(*entry).key)
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Memory) Close() error { return nil }
