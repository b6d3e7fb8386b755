package aggregate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotehub/internal/aggregate"
	"quotehub/internal/cache"
	"quotehub/internal/provider"
	"quotehub/internal/provider/ratelimit"
	"quotehub/internal/scheduler"
	"quotehub/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeUpstream answers from funcs and counts quote calls per symbol.
type fakeUpstream struct {
	quote    func(ctx context.Context, symbol string) (provider.Quote, error)
	overview func(ctx context.Context, symbol string) (provider.Overview, error)
	history  func(ctx context.Context, symbol string, interval provider.Interval) ([]provider.HistoryPoint, error)

	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeUpstream) Name() string { return "fake" }

func (f *fakeUpstream) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[symbol]++
	f.mu.Unlock()
	return f.quote(ctx, symbol)
}

func (f *fakeUpstream) FetchOverview(ctx context.Context, symbol string) (provider.Overview, error) {
	return f.overview(ctx, symbol)
}

func (f *fakeUpstream) FetchHistory(ctx context.Context, symbol string, interval provider.Interval) ([]provider.HistoryPoint, error) {
	return f.history(ctx, symbol, interval)
}

func (f *fakeUpstream) Calls(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func priced(sym, price string) provider.Quote {
	return provider.Quote{
		Symbol: sym,
		Price:  decimal.RequireFromString(price),
		AsOf:   time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
		Source: "fake",
	}
}

type harness struct {
	clock *fakeClock
	cache *cache.Cache
	store *store.Memory
	sched *scheduler.Scheduler
	svc   *aggregate.Service
}

func newHarness(t *testing.T, up *fakeUpstream, cfg aggregate.Config, opts ...aggregate.Option) *harness {
	t.Helper()
	h := &harness{
		clock: &fakeClock{t: time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC)},
		store: store.NewMemory(),
	}
	h.cache = cache.New(300*time.Second, cache.WithClock(h.clock.Now))
	rec := aggregate.NewRecorder(h.cache, h.store, nil, nil, zerolog.Nop())
	h.sched = scheduler.New(up, ratelimit.NewPacer(1000, time.Second, 10*time.Millisecond), scheduler.WithObserver(rec))
	t.Cleanup(h.sched.Close)

	if cfg.QuoteTTL == 0 {
		cfg.QuoteTTL = 300 * time.Second
	}
	if cfg.FirstFetchTimeout == 0 {
		cfg.FirstFetchTimeout = 2 * time.Second
	}
	opts = append([]aggregate.Option{aggregate.WithStore(h.store), aggregate.WithClock(h.clock.Now)}, opts...)
	h.svc = aggregate.New(cfg, h.cache, h.sched, opts...)
	return h
}

func TestGetQuoteFreshFromCacheSkipsUpstream(t *testing.T) {
	t.Parallel()

	// Arrange
	up := &fakeUpstream{quote: func(context.Context, string) (provider.Quote, error) {
		return provider.Quote{}, provider.ErrUpstreamUnavailable
	}}
	h := newHarness(t, up, aggregate.Config{})
	h.cache.Put("AAPL", priced("AAPL", "170.10"))
	h.clock.Advance(299 * time.Second)

	// Act
	res, err := h.svc.GetQuote(t.Context(), " aapl ")

	// Assert
	require.NoError(t, err)
	require.Equal(t, aggregate.StatusFresh, res.Status)
	require.True(t, decimal.RequireFromString("170.10").Equal(res.Quote.Price))
	require.Zero(t, up.Calls("AAPL"))
}

func TestGetQuoteFirstFetchWaitsAndCaches(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{quote: func(_ context.Context, sym string) (provider.Quote, error) {
		return priced(sym, "412.00"), nil
	}}
	h := newHarness(t, up, aggregate.Config{})

	res, err := h.svc.GetQuote(t.Context(), "MSFT")

	require.NoError(t, err)
	require.Equal(t, aggregate.StatusFresh, res.Status)
	require.Equal(t, "MSFT", res.Quote.Symbol)
	require.NotNil(t, res.FetchedAt)
	e, ok := h.cache.Get("MSFT")
	require.True(t, ok)
	require.True(t, decimal.RequireFromString("412").Equal(e.Quote.Price))

	require.Eventually(t, func() bool {
		snaps, err := h.store.LoadSnapshots(t.Context())
		return err == nil && len(snaps) == 1
	}, time.Second, 5*time.Millisecond)
}

// slowStore delays snapshot writes.
type slowStore struct {
	*store.Memory
	delay time.Duration
}

func (s slowStore) SaveSnapshot(ctx context.Context, snap store.Snapshot) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Memory.SaveSnapshot(ctx, snap)
}

func TestGetQuoteFirstFetchIgnoresSlowStore(t *testing.T) {
	t.Parallel()

	// Arrange: an instant upstream and a store slower than the fetch budget
	up := &fakeUpstream{quote: func(_ context.Context, sym string) (provider.Quote, error) {
		return priced(sym, "88.00"), nil
	}}
	st := slowStore{Memory: store.NewMemory(), delay: 500 * time.Millisecond}
	c := cache.New(300 * time.Second)
	rec := aggregate.NewRecorder(c, st, nil, nil, zerolog.Nop())
	sched := scheduler.New(up, ratelimit.NewPacer(1000, time.Second, 10*time.Millisecond), scheduler.WithObserver(rec))
	t.Cleanup(sched.Close)
	svc := aggregate.New(aggregate.Config{QuoteTTL: 300 * time.Second, FirstFetchTimeout: 200 * time.Millisecond}, c, sched, aggregate.WithStore(st))

	// Act
	start := time.Now()
	res, err := svc.GetQuote(t.Context(), "AMD")
	elapsed := time.Since(start)

	// Assert: the quote is served without waiting for persistence
	require.NoError(t, err)
	require.Equal(t, aggregate.StatusFresh, res.Status)
	require.Equal(t, "AMD", res.Quote.Symbol)
	require.Less(t, elapsed, 200*time.Millisecond)
	require.Equal(t, 1, up.Calls("AMD"))

	require.Eventually(t, func() bool {
		snaps, err := st.LoadSnapshots(t.Context())
		return err == nil && len(snaps) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetQuoteFirstFetchTimeout(t *testing.T) {
	t.Parallel()

	// Arrange: the upstream answers only after the request gave up
	release := make(chan struct{})
	up := &fakeUpstream{quote: func(ctx context.Context, sym string) (provider.Quote, error) {
		select {
		case <-release:
			return priced(sym, "1.00"), nil
		case <-ctx.Done():
			return provider.Quote{}, ctx.Err()
		}
	}}
	h := newHarness(t, up, aggregate.Config{FirstFetchTimeout: 30 * time.Millisecond})

	// Act
	start := time.Now()
	res, err := h.svc.GetQuote(t.Context(), "NVDA")
	elapsed := time.Since(start)

	// Assert: the request is bounded and the fetch still completes later
	require.NoError(t, err)
	require.Equal(t, aggregate.StatusUnavailable, res.Status)
	require.Equal(t, provider.ReasonTimeout, res.Reason)
	require.Nil(t, res.Quote)
	require.Less(t, elapsed, time.Second)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := h.cache.Get("NVDA")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestGetQuoteServesStaleThenRefreshes(t *testing.T) {
	t.Parallel()

	// Arrange: a cached entry past its TTL and an upstream that blocks
	release := make(chan struct{})
	up := &fakeUpstream{quote: func(ctx context.Context, sym string) (provider.Quote, error) {
		select {
		case <-release:
			return priced(sym, "175.00"), nil
		case <-ctx.Done():
			return provider.Quote{}, ctx.Err()
		}
	}}
	h := newHarness(t, up, aggregate.Config{})
	h.cache.Put("AAPL", priced("AAPL", "170.10"))
	h.clock.Advance(301 * time.Second)

	// Act
	start := time.Now()
	res, err := h.svc.GetQuote(t.Context(), "AAPL")
	elapsed := time.Since(start)

	// Assert: stale comes back without waiting for the upstream
	require.NoError(t, err)
	require.Equal(t, aggregate.StatusStale, res.Status)
	require.True(t, decimal.RequireFromString("170.10").Equal(res.Quote.Price))
	require.Less(t, elapsed, 500*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		res, err := h.svc.GetQuote(t.Context(), "AAPL")
		return err == nil && res.Status == aggregate.StatusFresh &&
			decimal.RequireFromString("175").Equal(res.Quote.Price)
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, up.Calls("AAPL"))
}

func TestFailedRefreshKeepsStaleEntry(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{quote: func(context.Context, string) (provider.Quote, error) {
		return provider.Quote{}, provider.ErrNoData
	}}
	h := newHarness(t, up, aggregate.Config{})
	h.cache.Put("AAPL", priced("AAPL", "170.10"))
	h.clock.Advance(time.Hour)

	res, err := h.svc.GetQuote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, aggregate.StatusStale, res.Status)

	require.Eventually(t, func() bool { return h.sched.InFlight() == 0 && up.Calls("AAPL") == 1 }, time.Second, 5*time.Millisecond)
	res, err = h.svc.GetQuote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, aggregate.StatusStale, res.Status)
	require.True(t, decimal.RequireFromString("170.10").Equal(res.Quote.Price))
}

func TestGetQuotesIsolatesFailures(t *testing.T) {
	t.Parallel()

	// Arrange: the third of five symbols has no data upstream
	up := &fakeUpstream{quote: func(_ context.Context, sym string) (provider.Quote, error) {
		if sym == "ZZZZ" {
			return provider.Quote{}, provider.ErrNoData
		}
		return priced(sym, "10"), nil
	}}
	h := newHarness(t, up, aggregate.Config{})

	// Act
	res, err := h.svc.GetQuotes(t.Context(), []string{"AAPL", "MSFT", "ZZZZ", "NVDA", "TSLA"})

	// Assert
	require.NoError(t, err)
	require.Len(t, res, 5)
	for _, sym := range []string{"AAPL", "MSFT", "NVDA", "TSLA"} {
		assert.Equal(t, aggregate.StatusFresh, res[sym].Status, sym)
		assert.NotNil(t, res[sym].Quote, sym)
	}
	require.Equal(t, aggregate.StatusUnavailable, res["ZZZZ"].Status)
	require.Equal(t, provider.ReasonNoData, res["ZZZZ"].Reason)
	require.Nil(t, res["ZZZZ"].Quote)
}

func TestGetQuotesInvalidSymbols(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{quote: func(_ context.Context, sym string) (provider.Quote, error) {
		return priced(sym, "10"), nil
	}}
	h := newHarness(t, up, aggregate.Config{})

	res, err := h.svc.GetQuotes(t.Context(), []string{"aapl", "not a symbol", "AAPL", ""})
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, aggregate.StatusFresh, res["AAPL"].Status)
	require.Equal(t, aggregate.StatusUnavailable, res["NOT A SYMBOL"].Status)
	require.Equal(t, provider.ReasonInvalidSymbol, res["NOT A SYMBOL"].Reason)
	require.Zero(t, up.Calls("NOT A SYMBOL"))

	one, err := h.svc.GetQuote(t.Context(), "$$$")
	require.NoError(t, err)
	require.Equal(t, provider.ReasonInvalidSymbol, one.Reason)
}

func TestFixedListsUseAggregateTTL(t *testing.T) {
	t.Parallel()

	// Arrange: entries older than QuoteTTL but within AggregateTTL
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	up := &fakeUpstream{quote: func(ctx context.Context, sym string) (provider.Quote, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return provider.Quote{}, provider.ErrUpstreamUnavailable
	}}
	h := newHarness(t, up, aggregate.Config{
		QuoteTTL:     300 * time.Second,
		AggregateTTL: 900 * time.Second,
		Indices:      []string{"SPY", "QQQ"},
		Trending:     []string{"AAPL"},
	})
	for _, sym := range []string{"SPY", "QQQ", "AAPL"} {
		h.cache.Put(sym, priced(sym, "100"))
	}
	h.clock.Advance(600 * time.Second)

	// Act
	indices, err := h.svc.GetIndices(t.Context())
	require.NoError(t, err)
	trending, err := h.svc.GetTrending(t.Context())
	require.NoError(t, err)
	single, err := h.svc.GetQuote(t.Context(), "AAPL")
	require.NoError(t, err)

	// Assert
	require.Len(t, indices, 2)
	require.Equal(t, aggregate.StatusFresh, indices["SPY"].Status)
	require.Equal(t, aggregate.StatusFresh, indices["QQQ"].Status)
	require.Equal(t, aggregate.StatusFresh, trending["AAPL"].Status)
	require.Equal(t, aggregate.StatusStale, single.Status)
}

func TestWarmSchedulesOnlyStaleSymbols(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{quote: func(_ context.Context, sym string) (provider.Quote, error) {
		return priced(sym, "10"), nil
	}}
	h := newHarness(t, up, aggregate.Config{
		AggregateTTL: 900 * time.Second,
		Indices:      []string{"SPY", "QQQ"},
		Trending:     []string{"AAPL", "SPY"},
	})
	h.cache.Put("SPY", priced("SPY", "500"))

	n := h.svc.Warm()

	require.Equal(t, 2, n)
	require.Eventually(t, func() bool { return h.cache.Len() == 3 }, time.Second, 5*time.Millisecond)
	require.Zero(t, up.Calls("SPY"))
}

func TestClosedSchedulerFailsRequest(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{quote: func(_ context.Context, sym string) (provider.Quote, error) {
		return priced(sym, "10"), nil
	}}
	h := newHarness(t, up, aggregate.Config{})
	h.cache.Put("AAPL", priced("AAPL", "1"))
	h.clock.Advance(time.Hour)
	h.sched.Close()

	_, err := h.svc.GetQuotes(t.Context(), []string{"AAPL", "MSFT"})
	require.ErrorIs(t, err, scheduler.ErrClosed)

	res, err := h.svc.GetQuote(t.Context(), "AAPL")
	require.NoError(t, err, "stale entries are still served")
	require.Equal(t, aggregate.StatusStale, res.Status)
}
