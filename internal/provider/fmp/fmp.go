package fmp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quotehub/internal/httpx"
	"quotehub/internal/provider"
)

type Config struct {
	Name    string
	BaseURL string
	APIKey  string
}

// Provider fetches quotes from the Financial Modeling Prep quote endpoint.
type Provider struct {
	cfg    Config
	client *httpx.Client
	now    func() time.Time
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "FMP"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://financialmodelingprep.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: hc, now: time.Now}
}

func (p *Provider) Name() string { return p.cfg.Name }

type quote struct {
	Symbol            string      `json:"symbol"`
	Name              string      `json:"name"`
	Price             json.Number `json:"price"`
	Change            json.Number `json:"change"`
	ChangesPercentage json.Number `json:"changesPercentage"`
	Volume            json.Number `json:"volume"`
	Timestamp         int64       `json:"timestamp"`
}

type apiError struct {
	ErrorMessage string `json:"Error Message"`
}

func (p *Provider) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return provider.Quote{}, err
	}
	u := fmt.Sprintf("%s/api/v3/quote/%s?apikey=%s", p.cfg.BaseURL, url.PathEscape(sym), url.QueryEscape(p.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("%s: %w: %w", sym, provider.ErrUpstreamUnavailable, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("%s: %w: %w", sym, provider.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return provider.Quote{}, fmt.Errorf("%s: %w: %w", sym, provider.ErrUpstreamUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return provider.Quote{}, fmt.Errorf("%s: %w", sym, provider.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		if strings.Contains(strings.ToLower(apiErr.ErrorMessage), "limit") {
			return provider.Quote{}, fmt.Errorf("%s: %w: %s", sym, provider.ErrRateLimited, apiErr.ErrorMessage)
		}
		return provider.Quote{}, fmt.Errorf("%s: %w: status %d", sym, provider.ErrUpstreamUnavailable, resp.StatusCode)
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var quotes []quote
	if err := dec.Decode(&quotes); err != nil {
		return provider.Quote{}, fmt.Errorf("%s: %w: decode: %w", sym, provider.ErrUpstreamUnavailable, err)
	}
	if len(quotes) == 0 || quotes[0].Price == "" {
		return provider.Quote{}, fmt.Errorf("%s: %w", sym, provider.ErrNoData)
	}
	return p.toQuote(sym, quotes[0])
}

func (p *Provider) toQuote(sym string, q quote) (provider.Quote, error) {
	price, err := decimal.NewFromString(q.Price.String())
	if err != nil {
		return provider.Quote{}, fmt.Errorf("%s: %w: price: %w", sym, provider.ErrNoData, err)
	}
	out := provider.Quote{
		Symbol:         sym,
		Price:          price,
		ChangeAbsolute: numberOrZero(q.Change),
		ChangePercent:  numberOrZero(q.ChangesPercentage),
		AsOf:           parseEpochMaybeMillis(q.Timestamp, p.now()),
		Source:         p.cfg.Name,
	}
	if v, err := decimal.NewFromString(q.Volume.String()); err == nil {
		n := v.IntPart()
		out.Volume = &n
	}
	return out, nil
}

func numberOrZero(n json.Number) decimal.Decimal {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseEpochMaybeMillis accepts seconds or milliseconds since epoch.
func parseEpochMaybeMillis(v int64, now time.Time) time.Time {
	switch {
	case v <= 0:
		return now.UTC()
	case v > 1e12:
		return time.UnixMilli(v).UTC()
	default:
		return time.Unix(v, 0).UTC()
	}
}
