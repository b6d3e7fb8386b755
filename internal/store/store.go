// Package store persists quote snapshots and cached upstream documents
// (overviews, history) so they survive restarts and can be shared between
// instances.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quotehub/internal/provider"
)

// Snapshot is a quote together with the time it was fetched.
type Snapshot struct {
	Quote     provider.Quote
	FetchedAt time.Time
}

// Document is an opaque upstream payload, fresh until ExpiresAt.
type Document struct {
	Key       string
	Body      []byte
	FetchedAt time.Time
	ExpiresAt time.Time
}

type Store interface {
	// SaveSnapshot keeps the newest snapshot per symbol.
	SaveSnapshot(ctx context.Context, s Snapshot) error
	LoadSnapshots(ctx context.Context) ([]Snapshot, error)
	PutDocument(ctx context.Context, d Document) error
	// GetDocument returns expired documents too; freshness is the caller's call.
	GetDocument(ctx context.Context, key string) (Document, bool, error)
	// DeleteExpired removes documents that expired and snapshots fetched
	// before the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

type Config struct {
	Driver        string // memory, noop, sqlite, redis
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
	// Retention is how long expired documents and old snapshots are kept
	// for stale serving.
	Retention time.Duration
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "noop":
		return Noop{}, nil
	case "sqlite":
		return NewSQLite(cfg.SQLitePath, log)
	case "redis":
		return NewRedis(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
