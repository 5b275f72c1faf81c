package urltable

import (
	"context"
	"sync"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// MemoryTable is an in-process Table backed by a mutex-guarded map, the
// default backend for single-process runs and tests.
type MemoryTable struct {
	mu       sync.Mutex
	records  map[string]*types.URLRecord
	visits   map[string]*types.Visit // keyed by PayloadDigest
	byDigest map[string]string       // PayloadDigest -> WARCID
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{
		records:  make(map[string]*types.URLRecord),
		visits:   make(map[string]*types.Visit),
		byDigest: make(map[string]string),
	}
}

func (m *MemoryTable) AddMany(ctx context.Context, records []*types.URLRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, r := range records {
		if _, exists := m.records[r.URL]; exists {
			continue
		}
		m.records[r.URL] = r.Clone()
		inserted++
	}
	return inserted, nil
}

func (m *MemoryTable) CheckOut(ctx context.Context, status types.Status, n int) ([]*types.URLRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.URLRecord, 0, n)
	for _, r := range m.records {
		if len(out) >= n {
			break
		}
		if r.Status == status {
			r.Status = types.StatusInProgress
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryTable) CheckIn(ctx context.Context, url string, status types.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[url]; ok {
		r.Status = status
	}
	return nil
}

func (m *MemoryTable) UpdateOne(ctx context.Context, url string, status types.Status, statusCode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[url]
	if !ok {
		return nil
	}
	r.Status = status
	r.StatusCode = statusCode
	if status == types.StatusError {
		r.TryCount++
	}
	return nil
}

func (m *MemoryTable) Release(ctx context.Context, url string, status types.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[url]; ok {
		r.Status = status
	}
	return nil
}

func (m *MemoryTable) ResetInProgress(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Status == types.StatusInProgress {
			r.Status = types.StatusTodo
			n++
		}
	}
	return n, nil
}

func (m *MemoryTable) AddVisits(ctx context.Context, visits []*types.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range visits {
		m.visits[v.PayloadDigest] = v
		m.byDigest[v.PayloadDigest] = v.WARCID
	}
	return nil
}

func (m *MemoryTable) GetRevisitID(ctx context.Context, payloadDigest string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byDigest[payloadDigest]
	return id, ok, nil
}

func (m *MemoryTable) Get(ctx context.Context, url string) (*types.URLRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[url]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (m *MemoryTable) Count(ctx context.Context, status types.Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *MemoryTable) Close() error { return nil }

// Snapshot returns a copy of every record currently held, for checkpoint
// serialization. In-progress records are snapshotted as todo, since a
// crash mid-fetch must be retried from scratch on restore.
func (m *MemoryTable) Snapshot() []*types.URLRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.URLRecord, 0, len(m.records))
	for _, r := range m.records {
		c := r.Clone()
		if c.Status == types.StatusInProgress {
			c.Status = types.StatusTodo
		}
		out = append(out, c)
	}
	return out
}

// Restore replaces the table's contents with records, for checkpoint
// recovery on startup.
func (m *MemoryTable) Restore(records []*types.URLRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.URL] = r.Clone()
	}
}
