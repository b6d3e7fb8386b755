package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"quotehub/internal/metrics"
	"quotehub/internal/provider"
	"quotehub/internal/provider/ratelimit"
)

// ErrClosed is the result of any work scheduled after Close.
var ErrClosed = errors.New("scheduler closed")

// Observer is told about every finished quote fetch before the task's
// waiters are released. The returned func, if not nil, runs after they are
// released and Close waits for it.
type Observer interface {
	Observe(symbol string, q provider.Quote, err error) (after func())
}

type ObserverFunc func(symbol string, q provider.Quote, err error) (after func())

func (f ObserverFunc) Observe(symbol string, q provider.Quote, err error) func() {
	return f(symbol, q, err)
}

// FetchTask is the pending or in-flight fetch of one symbol. Every caller
// that schedules the symbol while the task is running receives the same task.
type FetchTask struct {
	Symbol      string
	RequestedAt time.Time

	done  chan struct{}
	quote provider.Quote
	err   error
}

func (t *FetchTask) finish(q provider.Quote, err error) {
	t.quote, t.err = q, err
	close(t.done)
}

// Done is closed once the task has resolved.
func (t *FetchTask) Done() <-chan struct{} { return t.done }

// Result blocks until the task resolves.
func (t *FetchTask) Result() (provider.Quote, error) {
	<-t.done
	return t.quote, t.err
}

// Wait blocks until the task resolves or ctx is done. Abandoning the wait
// does not cancel the fetch.
func (t *FetchTask) Wait(ctx context.Context) (provider.Quote, error) {
	select {
	case <-t.done:
		return t.quote, t.err
	case <-ctx.Done():
		return provider.Quote{}, fmt.Errorf("%s: %w: %w", t.Symbol, provider.ErrTimeout, ctx.Err())
	}
}

// Scheduler is the single gateway to the upstream. It paces every call
// through one Pacer, runs at most one fetch per symbol at a time and applies
// the retry policy: RateLimited backs off and retries once, UpstreamUnavailable
// retries once, everything else is returned as is.
type Scheduler struct {
	fetcher        provider.Fetcher
	pacer          *ratelimit.Pacer
	observer       Observer
	metrics        *metrics.Metrics
	log            zerolog.Logger
	now            func() time.Time
	attemptTimeout time.Duration

	// fetches outlive the callers that requested them
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	group  singleflight.Group

	mu       sync.Mutex
	inflight map[string]*FetchTask
	closed   bool
}

type Option func(*Scheduler)

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = log.With().Str("component", "scheduler").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithAttemptTimeout bounds a single upstream call. Defaults to 15s.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.attemptTimeout = d
		}
	}
}

func New(fetcher provider.Fetcher, pacer *ratelimit.Pacer, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		fetcher:        fetcher,
		pacer:          pacer,
		log:            zerolog.Nop(),
		now:            time.Now,
		attemptTimeout: 15 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
		inflight:       make(map[string]*FetchTask),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.SetPacerInterval(pacer.Interval())
	return s
}

// Schedule returns the task fetching symbol, starting one if none is in
// flight. symbol must already be normalized.
func (s *Scheduler) Schedule(symbol string) *FetchTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.inflight[symbol]; ok {
		return t
	}
	t := &FetchTask{Symbol: symbol, RequestedAt: s.now(), done: make(chan struct{})}
	if s.closed {
		t.finish(provider.Quote{}, ErrClosed)
		return t
	}
	s.inflight[symbol] = t
	s.metrics.AddInFlight(1)
	s.wg.Add(1)
	go s.run(t)
	return t
}

// ScheduleBatch schedules every symbol and returns one task per symbol.
// Members share the global pacing, so they resolve one by one.
func (s *Scheduler) ScheduleBatch(symbols []string) map[string]*FetchTask {
	out := make(map[string]*FetchTask, len(symbols))
	for _, sym := range symbols {
		if _, ok := out[sym]; ok {
			continue
		}
		out[sym] = s.Schedule(sym)
	}
	return out
}

// InFlight returns the number of quote tasks not yet resolved.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Scheduler) run(t *FetchTask) {
	defer s.wg.Done()

	q, err := retry(s, "quote", t.Symbol, func(ctx context.Context) (provider.Quote, error) {
		return s.fetcher.FetchQuote(ctx, t.Symbol)
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		s.log.Debug().Err(err).Str("symbol", t.Symbol).Msg("quote fetch failed")
	}
	var after func()
	if s.observer != nil {
		after = s.observer.Observe(t.Symbol, q, err)
	}

	s.mu.Lock()
	delete(s.inflight, t.Symbol)
	s.mu.Unlock()
	s.metrics.AddInFlight(-1)
	t.finish(q, err)

	if after != nil {
		after()
	}
}

// Do runs fn under the shared pacing and retry policy. Concurrent calls with
// the same key share one execution; ctx only bounds this caller's wait.
// Close waits for running executions.
func (s *Scheduler) Do(ctx context.Context, kind, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	ch := s.group.DoChan(key, func() (any, error) {
		if !s.track() {
			return nil, ErrClosed
		}
		defer s.wg.Done()
		return retry(s, kind, key, fn)
	})
	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %w", key, provider.ErrTimeout, ctx.Err())
	}
}

// track registers work with the wait group unless the scheduler is closed.
func (s *Scheduler) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// Close stops accepting work, aborts paced waits and waits for running
// quote tasks, their observer follow-ups and Do executions to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func retry[T any](s *Scheduler, kind, key string, call func(ctx context.Context) (T, error)) (T, error) {
	v, err := attempt(s, kind, call)
	switch {
	case err == nil:
		s.succeeded()
		return v, nil
	case errors.Is(err, provider.ErrRateLimited):
		interval := s.pacer.Backoff()
		s.metrics.ObserveBackoff(interval)
		s.log.Warn().Str("key", key).Dur("interval", interval).Msg("upstream rate limited, backing off")
	case errors.Is(err, provider.ErrUpstreamUnavailable):
		s.log.Warn().Err(err).Str("key", key).Msg("upstream unavailable, retrying once")
	default:
		return v, err
	}

	v, err = attempt(s, kind, call)
	if err == nil {
		s.succeeded()
	}
	return v, err
}

func attempt[T any](s *Scheduler, kind string, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := s.pacer.Wait(s.ctx); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.attemptTimeout)
	defer cancel()

	start := time.Now()
	v, err := call(ctx)
	outcome := "ok"
	if err != nil {
		outcome = provider.Reason(err)
	}
	s.metrics.ObserveUpstream(kind, outcome, time.Since(start))
	return v, err
}

func (s *Scheduler) succeeded() {
	s.pacer.Reset()
	s.metrics.SetPacerInterval(s.pacer.Interval())
}
