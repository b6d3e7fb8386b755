package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLite persists snapshots and documents in a local database file.
type SQLite struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSQLite opens (or creates) the database at path and runs migrations.
func NewSQLite(path string, log zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; WAL lets readers proceed alongside it
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLite{db: db, log: log.With().Str("component", "store").Str("driver", "sqlite").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.Info().Str("path", path).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quote_snapshots (
			symbol          TEXT PRIMARY KEY,
			price           TEXT NOT NULL,
			change_abs      TEXT NOT NULL,
			change_pct      TEXT NOT NULL,
			volume          INTEGER,
			as_of           INTEGER NOT NULL,
			source          TEXT,
			fetched_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_fetched ON quote_snapshots(fetched_at)`,

		`CREATE TABLE IF NOT EXISTS documents (
			key        TEXT PRIMARY KEY,
			body       BLOB NOT NULL,
			fetched_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_expires ON documents(expires_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

func (s *SQLite) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := toRecord(snap)
	var volume sql.NullInt64
	if r.Volume != nil {
		volume = sql.NullInt64{Int64: *r.Volume, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quote_snapshots (symbol, price, change_abs, change_pct, volume, as_of, source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			price = excluded.price,
			change_abs = excluded.change_abs,
			change_pct = excluded.change_pct,
			volume = excluded.volume,
			as_of = excluded.as_of,
			source = excluded.source,
			fetched_at = excluded.fetched_at
		WHERE excluded.fetched_at >= quote_snapshots.fetched_at`,
		r.Symbol, r.Price, r.ChangeAbsolute, r.ChangePercent, volume, r.AsOf, r.Source, r.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", r.Symbol, err)
	}
	return nil
}

func (s *SQLite) LoadSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, price, change_abs, change_pct, volume, as_of, source, fetched_at
		FROM quote_snapshots ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			r      snapshotRecord
			volume sql.NullInt64
			source sql.NullString
		)
		if err := rows.Scan(&r.Symbol, &r.Price, &r.ChangeAbsolute, &r.ChangePercent, &volume, &r.AsOf, &source, &r.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if volume.Valid {
			r.Volume = &volume.Int64
		}
		r.Source = source.String
		snap, err := r.snapshot()
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", r.Symbol).Msg("skipping unreadable snapshot")
			continue
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLite) PutDocument(ctx context.Context, d Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (key, body, fetched_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at, expires_at = excluded.expires_at`,
		d.Key, d.Body, d.FetchedAt.UnixMilli(), d.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put document %s: %w", d.Key, err)
	}
	return nil
}

func (s *SQLite) GetDocument(ctx context.Context, key string) (Document, bool, error) {
	var (
		d                    = Document{Key: key}
		fetchedAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT body, fetched_at, expires_at FROM documents WHERE key = ?`, key,
	).Scan(&d.Body, &fetchedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get document %s: %w", key, err)
	}
	d.FetchedAt = time.UnixMilli(fetchedAt).UTC()
	d.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return d, true, nil
}

func (s *SQLite) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := cutoff.UnixMilli()
	var total int64
	for _, stmt := range []string{
		`DELETE FROM documents WHERE expires_at < ?`,
		`DELETE FROM quote_snapshots WHERE fetched_at < ?`,
	} {
		res, err := s.db.ExecContext(ctx, stmt, ms)
		if err != nil {
			return total, fmt.Errorf("delete expired: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
