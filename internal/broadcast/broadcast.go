// Package broadcast pushes quote updates to live subscribers. Each
// connection subscribes to a set of symbols; every tick the union of all
// sets is resolved once and each connection receives only the symbols it
// subscribed to whose result changed since its last update.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quotehub/internal/aggregate"
	"quotehub/internal/metrics"
	"quotehub/internal/provider"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrTooManySymbols    = errors.New("too many symbols")
)

// QuoteSource resolves quotes for the union of subscriptions.
type QuoteSource interface {
	GetQuotes(ctx context.Context, symbols []string) (map[string]aggregate.QuoteResult, error)
}

// Update is one push to a connection.
type Update map[string]aggregate.QuoteResult

// Sink delivers updates to a connection. Send must not block; it returns
// false when the update could not be queued.
type Sink interface {
	Send(u Update) bool
}

type SinkFunc func(u Update) bool

func (f SinkFunc) Send(u Update) bool { return f(u) }

// State of a connection.
type State int

const (
	Disconnected State = iota
	Connected
	Subscribed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Subscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

type conn struct {
	sink    Sink
	symbols map[string]struct{}
	// last holds the fingerprint of the last result delivered per symbol.
	last map[string]string
}

type Broadcaster struct {
	source     QuoteSource
	maxSymbols int
	metrics    *metrics.Metrics
	log        zerolog.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

type Option func(*Broadcaster)

// WithMaxSymbols caps the number of symbols one connection may hold.
func WithMaxSymbols(n int) Option {
	return func(b *Broadcaster) { b.maxSymbols = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(b *Broadcaster) { b.log = log }
}

func New(source QuoteSource, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		source:     source,
		maxSymbols: 50,
		log:        zerolog.Nop(),
		conns:      make(map[string]*conn),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Connect registers a connection with no subscriptions.
func (b *Broadcaster) Connect(id string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.conns[id]; !ok {
		b.metrics.AddLiveConnections(1)
	}
	b.conns[id] = &conn{sink: sink, symbols: make(map[string]struct{}), last: make(map[string]string)}
}

// Subscribe adds symbols to the connection's set. Valid symbols are applied
// even when some entries are invalid; the invalid ones are returned. The
// returned slice is the connection's full set after the change, sorted.
func (b *Broadcaster) Subscribe(id string, symbols []string) (current, invalid []string, err error) {
	valid, invalid := provider.NormalizeSymbols(symbols)

	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[id]
	if !ok {
		return nil, invalid, ErrUnknownConnection
	}
	added := 0
	for _, sym := range valid {
		if _, ok := c.symbols[sym]; !ok {
			added++
		}
	}
	if b.maxSymbols > 0 && len(c.symbols)+added > b.maxSymbols {
		return sortedKeys(c.symbols), invalid, fmt.Errorf("%w: limit is %d", ErrTooManySymbols, b.maxSymbols)
	}
	for _, sym := range valid {
		c.symbols[sym] = struct{}{}
	}
	return sortedKeys(c.symbols), invalid, nil
}

// Unsubscribe removes symbols from the connection's set.
func (b *Broadcaster) Unsubscribe(id string, symbols []string) ([]string, error) {
	valid, _ := provider.NormalizeSymbols(symbols)

	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[id]
	if !ok {
		return nil, ErrUnknownConnection
	}
	for _, sym := range valid {
		delete(c.symbols, sym)
		delete(c.last, sym)
	}
	return sortedKeys(c.symbols), nil
}

// Disconnect forgets the connection. Unknown ids are ignored.
func (b *Broadcaster) Disconnect(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.conns[id]; ok {
		delete(b.conns, id)
		b.metrics.AddLiveConnections(-1)
	}
}

func (b *Broadcaster) State(id string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[id]
	switch {
	case !ok:
		return Disconnected
	case len(c.symbols) == 0:
		return Connected
	default:
		return Subscribed
	}
}

// Symbols returns the union of every connection's subscriptions, sorted.
func (b *Broadcaster) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unionLocked()
}

func (b *Broadcaster) unionLocked() []string {
	set := make(map[string]struct{})
	for _, c := range b.conns {
		for sym := range c.symbols {
			set[sym] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// Tick resolves the subscribed symbols once and delivers changed results.
// It returns the number of updates delivered.
func (b *Broadcaster) Tick(ctx context.Context) (int, error) {
	symbols := b.Symbols()
	if len(symbols) == 0 {
		return 0, nil
	}
	results, err := b.source.GetQuotes(ctx, symbols)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sent := 0
	for id, c := range b.conns {
		u := make(Update)
		for sym := range c.symbols {
			r, ok := results[sym]
			if !ok || c.last[sym] == fingerprint(r) {
				continue
			}
			u[sym] = r
		}
		if len(u) == 0 {
			continue
		}
		if !c.sink.Send(u) {
			b.metrics.ObserveLiveMessage("update", false)
			b.log.Debug().Str("conn", id).Int("symbols", len(u)).Msg("live update dropped")
			continue
		}
		b.metrics.ObserveLiveMessage("update", true)
		for sym, r := range u {
			c.last[sym] = fingerprint(r)
		}
		sent++
	}
	return sent, nil
}

// Run ticks every interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.Tick(ctx); err != nil && ctx.Err() == nil {
				b.log.Warn().Err(err).Msg("live tick failed")
			}
		}
	}
}

// fingerprint identifies what a subscriber has seen of a result.
func fingerprint(r aggregate.QuoteResult) string {
	if r.Quote == nil {
		return string(r.Status) + "|" + r.Reason
	}
	return string(r.Status) + "|" + r.Quote.Price.String() + "|" + r.Quote.AsOf.UTC().Format(time.RFC3339Nano)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

