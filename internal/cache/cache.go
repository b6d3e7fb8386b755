package cache

import (
	"container/list"
	"sync"
	"time"

	"quotehub/internal/provider"
)

// Entry is the last known quote for a symbol and when it was fetched.
type Entry struct {
	Quote     provider.Quote
	FetchedAt time.Time
}

// Lookup is one result of GetMany.
type Lookup struct {
	Entry   Entry
	Present bool
	Fresh   bool
}

// Cache maps symbols to their last known quote. Staleness is a serving
// decision (IsFresh); entries are only evicted when MaxEntries is exceeded,
// least recently requested first.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front is most recently requested
}

type item struct {
	symbol string
	entry  Entry
}

type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMaxEntries bounds the number of symbols kept. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

func New(ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]*list.Element),
		order: list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL is the default freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the entry for symbol and marks it as recently requested.
func (c *Cache) Get(symbol string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[symbol]
	if !ok {
		return Entry{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*item).entry, true
}

// GetMany looks up every symbol, distinguishing present from fresh under ttl.
func (c *Cache) GetMany(symbols []string, ttl time.Duration) map[string]Lookup {
	now := c.now()
	out := make(map[string]Lookup, len(symbols))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		el, ok := c.items[s]
		if !ok {
			out[s] = Lookup{}
			continue
		}
		c.order.MoveToFront(el)
		e := el.Value.(*item).entry
		out[s] = Lookup{Entry: e, Present: true, Fresh: fresh(e, now, ttl)}
	}
	return out
}

// Put stores q as fetched now, replacing any older entry.
func (c *Cache) Put(symbol string, q provider.Quote) (Entry, bool) {
	return c.PutAt(symbol, q, c.now())
}

// PutAt stores q as fetched at fetchedAt. Timestamps in the future are
// clamped to now. An entry older than the one held is rejected so that
// fetchedAt never decreases for a symbol.
func (c *Cache) PutAt(symbol string, q provider.Quote, fetchedAt time.Time) (Entry, bool) {
	if now := c.now(); fetchedAt.After(now) {
		fetchedAt = now
	}
	e := Entry{Quote: q, FetchedAt: fetchedAt}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[symbol]; ok {
		it := el.Value.(*item)
		if fetchedAt.Before(it.entry.FetchedAt) {
			return it.entry, false
		}
		it.entry = e
		return e, true
	}
	c.items[symbol] = c.order.PushFront(&item{symbol: symbol, entry: e})
	c.evict()
	return e, true
}

// evict drops least recently requested entries above maxEntries. Caller holds mu.
func (c *Cache) evict() {
	if c.maxEntries <= 0 {
		return
	}
	for c.order.Len() > c.maxEntries {
		el := c.order.Back()
		c.order.Remove(el)
		delete(c.items, el.Value.(*item).symbol)
	}
}

// IsFresh reports whether e is within the default TTL.
func (c *Cache) IsFresh(e Entry) bool {
	return fresh(e, c.now(), c.ttl)
}

// FreshWithin reports whether e is within ttl.
func (c *Cache) FreshWithin(e Entry, ttl time.Duration) bool {
	return fresh(e, c.now(), ttl)
}

func fresh(e Entry, now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) < ttl
}

// Len returns the number of cached symbols.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
