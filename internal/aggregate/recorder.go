package aggregate

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"quotehub/internal/cache"
	"quotehub/internal/events"
	"quotehub/internal/metrics"
	"quotehub/internal/provider"
	"quotehub/internal/store"
)

// Recorder writes every successful fetch to the cache, the snapshot store
// and the event stream. It is installed as the scheduler's observer: the
// cache is updated before any waiter is released, persistence and
// publishing follow once they are.
type Recorder struct {
	cache   *cache.Cache
	store   store.Store
	events  events.Publisher
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewRecorder builds a Recorder. A nil store or publisher disables that
// output.
func NewRecorder(c *cache.Cache, st store.Store, pub events.Publisher, m *metrics.Metrics, log zerolog.Logger) *Recorder {
	if st == nil {
		st = store.Noop{}
	}
	if pub == nil {
		pub = events.Noop{}
	}
	return &Recorder{cache: c, store: st, events: pub, metrics: m, log: log}
}

// Observe implements scheduler.Observer. Failed fetches leave the cache
// untouched so the previous entry keeps being served as stale. The returned
// func persists and publishes the stored entry.
func (r *Recorder) Observe(symbol string, q provider.Quote, err error) func() {
	if err != nil {
		return nil
	}
	e, stored := r.cache.Put(symbol, q)
	r.metrics.SetCacheEntries(r.cache.Len())
	if !stored {
		return nil
	}
	return func() { r.persist(symbol, e) }
}

func (r *Recorder) persist(symbol string, e cache.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.SaveSnapshot(ctx, store.Snapshot{Quote: e.Quote, FetchedAt: e.FetchedAt}); err != nil {
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("save snapshot")
	}
	if err := r.events.Publish(ctx, e.Quote, e.FetchedAt); err != nil {
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("publish quote")
	}
}

// Restore loads persisted snapshots into the cache with their original
// fetch times, so they are served as stale until refreshed.
func (r *Recorder) Restore(ctx context.Context) (int, error) {
	snaps, err := r.store.LoadSnapshots(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range snaps {
		if _, ok := r.cache.PutAt(s.Quote.Symbol, s.Quote, s.FetchedAt); ok {
			n++
		}
	}
	r.metrics.SetCacheEntries(r.cache.Len())
	r.log.Info().Int("restored", n).Msg("cache restored from store")
	return n, nil
}
