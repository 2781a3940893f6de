package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory holds all records in memory.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]*memRecord
	bySource map[string]string
	seq      int
}

type memRecord struct {
	*Record
	seq int
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]*memRecord),
		bySource: make(map[string]string),
	}
}

func (m *Memory) Save(_ context.Context, r *Record) (*Record, error) {
	cp := *r
	cp.ID = uuid.New().String()
	cp.CreatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.Source != "" {
		if old, ok := m.bySource[cp.Source]; ok {
			delete(m.records, old)
		}
		m.bySource[cp.Source] = cp.ID
	}
	m.seq++
	m.records[cp.ID] = &memRecord{Record: &cp, seq: m.seq}

	out := cp
	return &out, nil
}

func (m *Memory) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r.Record
	return &out, nil
}

func (m *Memory) List(_ context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sorted(), nil
}

func (m *Memory) FindWord(_ context.Context, word string) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, r := range m.sorted() {
		hits = append(hits, hitsFor(r, word)...)
	}
	return hits, nil
}

func (m *Memory) DeleteSource(_ context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.bySource[source]
	if !ok || source == "" {
		return ErrNotFound
	}
	delete(m.bySource, source)
	delete(m.records, id)
	return nil
}

func (m *Memory) Close() error { return nil }

// sorted returns copies of the records, most recent first. Callers hold mu.
func (m *Memory) sorted() []*Record {
	list := make([]*memRecord, 0, len(m.records))
	for _, r := range m.records {
		list = append(list, r)
	}
	// Insertion sort on save order, small N.
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].seq > list[j-1].seq; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}

	out := make([]*Record, len(list))
	for i, r := range list {
		cp := *r.Record
		out[i] = &cp
	}
	return out
}
