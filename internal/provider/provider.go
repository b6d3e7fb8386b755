package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the normalized shape returned by every Fetcher.
// A Quote is never partially filled: a failed fetch yields an error instead.
type Quote struct {
	Symbol         string          `json:"symbol"`
	Price          decimal.Decimal `json:"price"`
	ChangeAbsolute decimal.Decimal `json:"changeAbsolute"`
	ChangePercent  decimal.Decimal `json:"changePercent"`
	Volume         *int64          `json:"volume,omitempty"`
	AsOf           time.Time       `json:"asOf"`
	Source         string          `json:"source,omitempty"`
}

// Fetcher issues single-symbol quote requests against one upstream.
//
//go:generate mockgen -package=scheduler_test -destination=../scheduler/mock_fetcher_test.go -source=provider.go Fetcher
type Fetcher interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
}

// DetailFetcher is implemented by upstreams that also serve company
// overviews and price history.
type DetailFetcher interface {
	FetchOverview(ctx context.Context, symbol string) (Overview, error)
	FetchHistory(ctx context.Context, symbol string, interval Interval) ([]HistoryPoint, error)
}

// Overview is the company profile for a symbol.
type Overview struct {
	Symbol        string              `json:"symbol"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	Exchange      string              `json:"exchange,omitempty"`
	Currency      string              `json:"currency,omitempty"`
	Country       string              `json:"country,omitempty"`
	Sector        string              `json:"sector,omitempty"`
	Industry      string              `json:"industry,omitempty"`
	MarketCap     decimal.NullDecimal `json:"marketCap"`
	PERatio       decimal.NullDecimal `json:"peRatio"`
	EPS           decimal.NullDecimal `json:"eps"`
	DividendYield decimal.NullDecimal `json:"dividendYield"`
	Beta          decimal.NullDecimal `json:"beta"`
	High52Week    decimal.NullDecimal `json:"high52Week"`
	Low52Week     decimal.NullDecimal `json:"low52Week"`
}

// HistoryPoint is one bar of a price time series.
type HistoryPoint struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Interval selects the bar size of a history request.
type Interval string

const (
	Daily   Interval = "daily"
	Weekly  Interval = "weekly"
	Monthly Interval = "monthly"
)

// ParseInterval accepts daily, weekly or monthly. Empty means daily.
func ParseInterval(s string) (Interval, error) {
	switch Interval(strings.ToLower(strings.TrimSpace(s))) {
	case "", Daily:
		return Daily, nil
	case Weekly:
		return Weekly, nil
	case Monthly:
		return Monthly, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}
