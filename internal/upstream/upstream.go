// Package upstream builds the configured quote provider.
package upstream

import (
	"fmt"

	"quotehub/internal/config"
	"quotehub/internal/httpx"
	"quotehub/internal/provider"
	"quotehub/internal/provider/alphavantage"
	"quotehub/internal/provider/alphavantageadapter"
	"quotehub/internal/provider/fmp"
)

type Upstream struct {
	Fetcher provider.Fetcher
	// Details is nil when the provider serves quotes only.
	Details provider.DetailFetcher
	// AlphaVantage is the raw client, nil for other providers.
	AlphaVantage *alphavantage.AlphaVantageAPIClient
}

func New(cfg config.Upstream) (Upstream, error) {
	hc := httpx.New(cfg.Timeout)
	switch cfg.Provider {
	case "", "alphavantage":
		opts := []alphavantage.AlphaVantageAPIClientOption{alphavantage.WithHTTPClient(hc)}
		if cfg.BaseURL != "" {
			opts = append(opts, alphavantage.WithBaseURL(cfg.BaseURL))
		}
		client, err := alphavantage.NewAlphaVantageAPIClient(cfg.APIKey, opts...)
		if err != nil {
			return Upstream{}, fmt.Errorf("alphavantage client: %w", err)
		}
		a := alphavantageadapter.New(alphavantageadapter.Config{}, client)
		return Upstream{Fetcher: a, Details: a, AlphaVantage: client}, nil
	case "fmp":
		p := fmp.New(fmp.Config{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey}, hc)
		return Upstream{Fetcher: p}, nil
	default:
		return Upstream{}, fmt.Errorf("unknown upstream provider %q", cfg.Provider)
	}
}
