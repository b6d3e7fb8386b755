// Package aggregate answers quote requests from the cache, schedules
// refreshes through the scheduler and decides what each symbol reports.
package aggregate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quotehub/internal/cache"
	"quotehub/internal/metrics"
	"quotehub/internal/provider"
	"quotehub/internal/scheduler"
	"quotehub/internal/store"
)

// ErrDetailsUnsupported is returned for overview and history requests when
// the configured upstream does not serve them.
var ErrDetailsUnsupported = errors.New("upstream does not serve overviews or history")

// Scheduler is the part of scheduler.Scheduler the service needs.
type Scheduler interface {
	ScheduleBatch(symbols []string) map[string]*scheduler.FetchTask
	Do(ctx context.Context, kind, key string, fn func(ctx context.Context) (any, error)) (any, error)
}

type Config struct {
	// QuoteTTL bounds freshness for individual quote requests.
	QuoteTTL time.Duration
	// AggregateTTL bounds freshness for the indices and trending lists.
	AggregateTTL time.Duration
	// DocumentTTL is how long overviews and history stay fresh.
	DocumentTTL time.Duration
	// FirstFetchTimeout caps how long a request waits for symbols that
	// have never been cached.
	FirstFetchTimeout time.Duration
	Indices           []string
	Trending          []string
}

type Service struct {
	cfg     Config
	cache   *cache.Cache
	sched   Scheduler
	details provider.DetailFetcher
	store   store.Store
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	// document keys with a background refresh running
	refreshing sync.Map
}

type Option func(*Service)

// WithDetails enables overview and history requests.
func WithDetails(d provider.DetailFetcher) Option {
	return func(s *Service) { s.details = d }
}

// WithStore sets where overview and history documents are kept.
func WithStore(st store.Store) Option {
	return func(s *Service) { s.store = st }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock replaces time.Now for document freshness.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg Config, c *cache.Cache, sched Scheduler, opts ...Option) *Service {
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = c.TTL()
	}
	if cfg.AggregateTTL <= 0 {
		cfg.AggregateTTL = cfg.QuoteTTL
	}
	if cfg.DocumentTTL <= 0 {
		cfg.DocumentTTL = 24 * time.Hour
	}
	if cfg.FirstFetchTimeout <= 0 {
		cfg.FirstFetchTimeout = 5 * time.Second
	}
	s := &Service{
		cfg:   cfg,
		cache: c,
		sched: sched,
		store: store.NewMemory(),
		log:   zerolog.Nop(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetQuote resolves one symbol.
func (s *Service) GetQuote(ctx context.Context, symbol string) (QuoteResult, error) {
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return unavailable(provider.ReasonInvalidSymbol), nil
	}
	res, err := s.resolve(ctx, []string{sym}, s.cfg.QuoteTTL)
	if err != nil {
		return QuoteResult{}, err
	}
	return res[sym], nil
}

// GetQuotes resolves every symbol independently. The result is keyed by the
// normalized symbol; invalid entries are reported as unavailable.
func (s *Service) GetQuotes(ctx context.Context, symbols []string) (map[string]QuoteResult, error) {
	return s.resolve(ctx, symbols, s.cfg.QuoteTTL)
}

// GetIndices resolves the configured index symbols.
func (s *Service) GetIndices(ctx context.Context) (map[string]QuoteResult, error) {
	return s.resolve(ctx, s.cfg.Indices, s.cfg.AggregateTTL)
}

// GetTrending resolves the configured trending symbols.
func (s *Service) GetTrending(ctx context.Context) (map[string]QuoteResult, error) {
	return s.resolve(ctx, s.cfg.Trending, s.cfg.AggregateTTL)
}

// Warm schedules a refresh for every symbol in the fixed lists that is not
// fresh under AggregateTTL and returns how many were scheduled. It does not
// wait for the fetches.
func (s *Service) Warm() int {
	syms := make([]string, 0, len(s.cfg.Indices)+len(s.cfg.Trending))
	syms = append(syms, s.cfg.Indices...)
	syms = append(syms, s.cfg.Trending...)
	valid, _ := provider.NormalizeSymbols(syms)

	var stale []string
	for sym, l := range s.cache.GetMany(valid, s.cfg.AggregateTTL) {
		if !l.Fresh {
			stale = append(stale, sym)
		}
	}
	s.sched.ScheduleBatch(stale)
	return len(stale)
}

// resolve serves fresh entries as is, serves stale entries immediately
// while a refresh runs, and waits up to FirstFetchTimeout for symbols that
// were never cached. Only a closed scheduler fails the whole call.
func (s *Service) resolve(ctx context.Context, symbols []string, ttl time.Duration) (map[string]QuoteResult, error) {
	valid, invalid := provider.NormalizeSymbols(symbols)
	out := make(map[string]QuoteResult, len(valid)+len(invalid))
	for _, sym := range invalid {
		out[sym] = unavailable(provider.ReasonInvalidSymbol)
	}
	if len(valid) == 0 {
		return out, nil
	}

	lookups := s.cache.GetMany(valid, ttl)
	var refresh, missing []string
	for _, sym := range valid {
		l := lookups[sym]
		switch {
		case l.Fresh:
			out[sym] = fromEntry(StatusFresh, l.Entry)
			s.metrics.ObserveCacheLookup("fresh")
		case l.Present:
			out[sym] = fromEntry(StatusStale, l.Entry)
			refresh = append(refresh, sym)
			s.metrics.ObserveCacheLookup("stale")
		default:
			refresh = append(refresh, sym)
			missing = append(missing, sym)
			s.metrics.ObserveCacheLookup("miss")
		}
	}
	if len(refresh) == 0 {
		return out, nil
	}
	tasks := s.sched.ScheduleBatch(refresh)
	if len(missing) == 0 {
		return out, nil
	}

	// One deadline for the whole request, so waiting in order is bounded too.
	wctx, cancel := context.WithTimeout(ctx, s.cfg.FirstFetchTimeout)
	defer cancel()
	for _, sym := range missing {
		r, err := s.await(wctx, tasks[sym])
		if err != nil {
			return nil, err
		}
		out[sym] = r
	}
	return out, nil
}

func (s *Service) await(ctx context.Context, task *scheduler.FetchTask) (QuoteResult, error) {
	q, err := task.Wait(ctx)
	switch {
	case errors.Is(err, scheduler.ErrClosed):
		return QuoteResult{}, err
	case err != nil:
		s.log.Debug().Err(err).Str("symbol", task.Symbol).Msg("first fetch failed")
		return unavailable(provider.Reason(err)), nil
	}
	if e, ok := s.cache.Get(task.Symbol); ok {
		return fromEntry(StatusFresh, e), nil
	}
	return fromEntry(StatusFresh, cache.Entry{Quote: q, FetchedAt: s.now()}), nil
}
