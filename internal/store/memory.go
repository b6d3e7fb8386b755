package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps everything in process. Nothing survives a restart.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	documents map[string]Document
}

func NewMemory() *Memory {
	return &Memory{
		snapshots: make(map[string]Snapshot),
		documents: make(map[string]Document),
	}
}

func (m *Memory) SaveSnapshot(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.snapshots[s.Quote.Symbol]; ok && old.FetchedAt.After(s.FetchedAt) {
		return nil
	}
	m.snapshots[s.Quote.Symbol] = s
	return nil
}

func (m *Memory) LoadSnapshots(context.Context) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quote.Symbol < out[j].Quote.Symbol })
	return out, nil
}

func (m *Memory) PutDocument(_ context.Context, d Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.Body = append([]byte(nil), d.Body...)
	m.documents[d.Key] = d
	return nil
}

func (m *Memory) GetDocument(_ context.Context, key string) (Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[key]
	return d, ok, nil
}

func (m *Memory) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, d := range m.documents {
		if d.ExpiresAt.Before(cutoff) {
			delete(m.documents, k)
			n++
		}
	}
	for k, s := range m.snapshots {
		if s.FetchedAt.Before(cutoff) {
			delete(m.snapshots, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }
