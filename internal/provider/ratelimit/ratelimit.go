package ratelimit

import (
	"context"

	"quotehub/internal/provider"
)

// Fetcher wraps a provider.Fetcher and waits on a Pacer before each call.
// It is for one-shot callers; long-running services go through the scheduler.
type Fetcher struct {
	F provider.Fetcher
	P *Pacer
}

func (f *Fetcher) Name() string { return f.F.Name() }

func (f *Fetcher) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	if f.P != nil {
		if err := f.P.Wait(ctx); err != nil {
			return provider.Quote{}, err
		}
	}
	return f.F.FetchQuote(ctx, symbol)
}
