package alphavantageadapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quotehub/internal/provider"
	"quotehub/internal/provider/alphavantage"
)

type Config struct {
	Name string // display name, default: AlphaVantage
	// HistoryPoints caps the number of bars returned by FetchHistory,
	// newest kept. Defaults to 30.
	HistoryPoints int
}

// Adapter exposes the Alpha Vantage client as a provider.Fetcher and
// provider.DetailFetcher, translating upstream failures into the provider
// error taxonomy.
type Adapter struct {
	cfg    Config
	client *alphavantage.AlphaVantageAPIClient
	now    func() time.Time
}

func New(cfg Config, client *alphavantage.AlphaVantageAPIClient) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "AlphaVantage"
	}
	if cfg.HistoryPoints <= 0 {
		cfg.HistoryPoints = 30
	}
	return &Adapter{cfg: cfg, client: client, now: time.Now}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return provider.Quote{}, err
	}
	gq, err := a.client.GetGlobalQuote(ctx, sym)
	if err != nil {
		return provider.Quote{}, translate(sym, err)
	}
	asOf := gq.LatestTradingDay
	if asOf.IsZero() {
		asOf = a.now().UTC()
	}
	return provider.Quote{
		Symbol:         sym,
		Price:          gq.Price,
		ChangeAbsolute: gq.Change,
		ChangePercent:  gq.ChangePercent,
		Volume:         gq.Volume,
		AsOf:           asOf,
		Source:         a.cfg.Name,
	}, nil
}

func (a *Adapter) FetchOverview(ctx context.Context, symbol string) (provider.Overview, error) {
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return provider.Overview{}, err
	}
	o, err := a.client.GetCompanyOverview(ctx, sym)
	if err != nil {
		return provider.Overview{}, translate(sym, err)
	}
	return provider.Overview{
		Symbol:        sym,
		Name:          o.Name,
		Description:   o.Description,
		Exchange:      o.Exchange,
		Currency:      o.Currency,
		Country:       o.Country,
		Sector:        o.Sector,
		Industry:      o.Industry,
		MarketCap:     o.MarketCap,
		PERatio:       o.PERatio,
		EPS:           o.EPS,
		DividendYield: o.DividendYield,
		Beta:          o.Beta,
		High52Week:    o.High52Week,
		Low52Week:     o.Low52Week,
	}, nil
}

var seriesByInterval = map[provider.Interval]alphavantage.Series{
	provider.Daily:   alphavantage.SeriesDaily,
	provider.Weekly:  alphavantage.SeriesWeekly,
	provider.Monthly: alphavantage.SeriesMonthly,
}

func (a *Adapter) FetchHistory(ctx context.Context, symbol string, interval provider.Interval) ([]provider.HistoryPoint, error) {
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	series, ok := seriesByInterval[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}
	bars, err := a.client.GetTimeSeries(ctx, series, sym)
	if err != nil {
		return nil, translate(sym, err)
	}
	if len(bars) > a.cfg.HistoryPoints {
		bars = bars[len(bars)-a.cfg.HistoryPoints:]
	}
	points := make([]provider.HistoryPoint, len(bars))
	for i, b := range bars {
		points[i] = provider.HistoryPoint{Date: b.Date, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	return points, nil
}

// translate maps client errors onto the provider taxonomy.
func translate(symbol string, err error) error {
	switch {
	case errors.Is(err, alphavantage.ErrRateLimited):
		return fmt.Errorf("%s: %w: %w", symbol, provider.ErrRateLimited, err)
	case errors.Is(err, alphavantage.ErrNotFound), errors.Is(err, alphavantage.ErrInvalidCall):
		return fmt.Errorf("%s: %w: %w", symbol, provider.ErrNoData, err)
	default:
		return fmt.Errorf("%s: %w: %w", symbol, provider.ErrUpstreamUnavailable, err)
	}
}
