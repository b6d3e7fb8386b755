package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"quotehub/internal/provider"
	"quotehub/internal/scheduler"
	"quotehub/internal/store"
)

// GetOverview returns the company overview for symbol. Stored overviews are
// served while fresh; an expired one is served as stale while a refresh
// runs in the background.
func (s *Service) GetOverview(ctx context.Context, symbol string) (Document[provider.Overview], error) {
	if s.details == nil {
		return Document[provider.Overview]{}, ErrDetailsUnsupported
	}
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return Document[provider.Overview]{Status: StatusUnavailable, Reason: provider.ReasonInvalidSymbol}, nil
	}
	return loadDocument(ctx, s, "overview", "overview:"+sym, func(ctx context.Context) (provider.Overview, error) {
		return s.details.FetchOverview(ctx, sym)
	})
}

// GetHistory returns the price history of symbol at the given interval,
// oldest point first.
func (s *Service) GetHistory(ctx context.Context, symbol string, interval provider.Interval) (Document[[]provider.HistoryPoint], error) {
	if s.details == nil {
		return Document[[]provider.HistoryPoint]{}, ErrDetailsUnsupported
	}
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return Document[[]provider.HistoryPoint]{Status: StatusUnavailable, Reason: provider.ReasonInvalidSymbol}, nil
	}
	key := "history:" + string(interval) + ":" + sym
	return loadDocument(ctx, s, "history", key, func(ctx context.Context) ([]provider.HistoryPoint, error) {
		return s.details.FetchHistory(ctx, sym, interval)
	})
}

func loadDocument[T any](ctx context.Context, s *Service, kind, key string, fetch func(ctx context.Context) (T, error)) (Document[T], error) {
	var cached T
	doc, found, err := s.store.GetDocument(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("read document")
		found = false
	}
	if found {
		if err := json.Unmarshal(doc.Body, &cached); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("decode document")
			found = false
		}
	}
	run := func(ctx context.Context) (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.saveDocument(key, v)
		return v, nil
	}

	if found {
		at := doc.FetchedAt
		if s.now().Before(doc.ExpiresAt) {
			return Document[T]{Status: StatusFresh, Data: &cached, FetchedAt: &at}, nil
		}
		if _, busy := s.refreshing.LoadOrStore(key, struct{}{}); !busy {
			go func() {
				defer s.refreshing.Delete(key)
				if _, err := s.sched.Do(context.Background(), kind, key, run); err != nil {
					s.log.Debug().Err(err).Str("key", key).Msg("document refresh failed")
				}
			}()
		}
		return Document[T]{Status: StatusStale, Data: &cached, FetchedAt: &at}, nil
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.FirstFetchTimeout)
	defer cancel()
	v, err := s.sched.Do(wctx, kind, key, run)
	switch {
	case errors.Is(err, scheduler.ErrClosed):
		return Document[T]{}, err
	case err != nil:
		return Document[T]{Status: StatusUnavailable, Reason: provider.Reason(err)}, nil
	}
	data := v.(T)
	at := s.now()
	return Document[T]{Status: StatusFresh, Data: &data, FetchedAt: &at}, nil
}

func (s *Service) saveDocument(key string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("encode document")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := s.now()
	err = s.store.PutDocument(ctx, store.Document{
		Key:       key,
		Body:      body,
		FetchedAt: now,
		ExpiresAt: now.Add(s.cfg.DocumentTTL),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("save document")
	}
}
