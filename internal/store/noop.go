package store

import (
	"context"
	"time"
)

// Noop discards everything. It is the default when no store is configured.
type Noop struct{}

func (Noop) SaveSnapshot(context.Context, Snapshot) error { return nil }
func (Noop) LoadSnapshots(context.Context) ([]Snapshot, error) { return nil, nil }
func (Noop) PutDocument(context.Context, Document) error { return nil }
func (Noop) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }
func (Noop) Close() error { return nil }

func (Noop) GetDocument(context.Context, string) (Document, bool, error) {
	return Document{}, false, nil
}
