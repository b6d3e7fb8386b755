package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Redis shares snapshots and documents between instances. Values are
// msgpack encoded; keys expire on their own after the retention period.
type Redis struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewRedis connects to cfg.RedisAddr and checks the connection.
func NewRedis(ctx context.Context, cfg Config, log zerolog.Logger) (*Redis, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	r := NewRedisWithClient(client, cfg.Prefix, cfg.Retention, log)
	r.log.Info().Str("addr", cfg.RedisAddr).Msg("redis store connected")
	return r, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, prefix string, retention time.Duration, log zerolog.Logger) *Redis {
	if prefix == "" {
		prefix = "quotehub:"
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Redis{
		client:    client,
		prefix:    prefix,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("component", "store").Str("driver", "redis").Logger(),
	}
}

func (r *Redis) snapshotKey(symbol string) string { return r.prefix + "snapshot:" + symbol }
func (r *Redis) snapshotIndex() string { return r.prefix + "snapshots" }
func (r *Redis) documentKey(key string) string { return r.prefix + "doc:" + key }

func (r *Redis) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	key := r.snapshotKey(snap.Quote.Symbol)

	// keep the newest snapshot when writers race
	if prev, err := r.client.Get(ctx, key).Bytes(); err == nil {
		var old snapshotRecord
		if msgpack.Unmarshal(prev, &old) == nil && old.FetchedAt > snap.FetchedAt.UnixMilli() {
			return nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("save snapshot %s: %w", snap.Quote.Symbol, err)
	}

	data, err := msgpack.Marshal(toRecord(snap))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, data, r.retention)
	pipe.SAdd(ctx, r.snapshotIndex(), snap.Quote.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.Quote.Symbol, err)
	}
	return nil
}

func (r *Redis) LoadSnapshots(ctx context.Context) ([]Snapshot, error) {
	symbols, err := r.client.SMembers(ctx, r.snapshotIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = r.snapshotKey(s)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	out := make([]Snapshot, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec snapshotRecord
		if err := msgpack.Unmarshal([]byte(s), &rec); err != nil {
			r.log.Warn().Err(err).Str("symbol", symbols[i]).Msg("skipping unreadable snapshot")
			continue
		}
		snap, err := rec.snapshot()
		if err != nil {
			r.log.Warn().Err(err).Str("symbol", symbols[i]).Msg("skipping unreadable snapshot")
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (r *Redis) PutDocument(ctx context.Context, d Document) error {
	data, err := msgpack.Marshal(documentRecord{
		Body:      d.Body,
		FetchedAt: d.FetchedAt.UnixMilli(),
		ExpiresAt: d.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	ttl := d.ExpiresAt.Sub(r.now()) + r.retention
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.documentKey(d.Key), data, ttl).Err()
}

func (r *Redis) GetDocument(ctx context.Context, key string) (Document, bool, error) {
	data, err := r.client.Get(ctx, r.documentKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get document %s: %w", key, err)
	}
	var rec documentRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return Document{}, false, fmt.Errorf("unmarshal document %s: %w", key, err)
	}
	return Document{
		Key:       key,
		Body:      rec.Body,
		FetchedAt: time.UnixMilli(rec.FetchedAt).UTC(),
		ExpiresAt: time.UnixMilli(rec.ExpiresAt).UTC(),
	}, true, nil
}

// DeleteExpired drops index entries whose snapshot keys have expired.
// Redis expires the values themselves.
func (r *Redis) DeleteExpired(ctx context.Context, _ time.Time) (int64, error) {
	symbols, err := r.client.SMembers(ctx, r.snapshotIndex()).Result()
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	var gone []any
	for _, s := range symbols {
		n, err := r.client.Exists(ctx, r.snapshotKey(s)).Result()
		if err != nil {
			return 0, fmt.Errorf("delete expired: %w", err)
		}
		if n == 0 {
			gone = append(gone, s)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}
	return r.client.SRem(ctx, r.snapshotIndex(), gone...).Result()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
