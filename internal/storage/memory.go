package storage

import (
	"context"
	"sync"
)

// Memory keeps records in process memory. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	groups map[string][]Record
	closed bool
}

func NewMemory() *Memory {
	return &Memory{groups: map[string][]Record{}}
}

func (m *Memory) Load(ctx context.Context, group string) ([]Record, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return cloneRecords(m.groups[group]), nil
}

func (m *Memory) Save(ctx context.Context, group string, records []Record) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	recs := persistentOnly(records)
	if len(recs) == 0 {
		delete(m.groups, group)
		return nil
	}
	m.groups[group] = recs
	return nil
}

func (m *Memory) RemoveAll(ctx context.Context, group string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.groups, group)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
