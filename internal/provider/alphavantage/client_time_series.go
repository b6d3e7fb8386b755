package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Series selects a TIME_SERIES_* function.
type Series string

const (
	SeriesDaily   Series = "TIME_SERIES_DAILY"
	SeriesWeekly  Series = "TIME_SERIES_WEEKLY"
	SeriesMonthly Series = "TIME_SERIES_MONTHLY"
)

var seriesKeys = map[Series]string{
	SeriesDaily:   "Time Series (Daily)",
	SeriesWeekly:  "Weekly Time Series",
	SeriesMonthly: "Monthly Time Series",
}

// Bar is one OHLCV entry of a time series.
type Bar struct {
	Date   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// GetTimeSeries retrieves the compact time series for symbol, oldest first.
func (c *AlphaVantageAPIClient) GetTimeSeries(ctx context.Context, series Series, symbol string, opts ...AlphaVantageAPIClientOption) ([]Bar, error) {
	key, ok := seriesKeys[series]
	if !ok {
		return nil, fmt.Errorf("unknown series %q", series)
	}
	var extra map[string]string
	if series == SeriesDaily {
		extra = map[string]string{"outputsize": "compact"}
	}
	body, err := c.Query(ctx, string(series), symbol, extra, opts...)
	if err != nil {
		return nil, err
	}

	raw, ok := body[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	// {"2024-03-08": {"1. open": "...", "2. high": "...", "3. low": "...", "4. close": "...", "5. volume": "..."}}
	var entries map[string]map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	bars := make([]Bar, 0, len(entries))
	for day, data := range entries {
		date, err := time.Parse(time.DateOnly, day)
		if err != nil {
			return nil, fmt.Errorf("decoding date %q: %w", day, err)
		}
		b := Bar{Date: date}
		fields := []struct {
			key string
			dst *decimal.Decimal
		}{
			{"1. open", &b.Open},
			{"2. high", &b.High},
			{"3. low", &b.Low},
			{"4. close", &b.Close},
		}
		for _, f := range fields {
			if *f.dst, _, err = parseDecimal(data, f.key); err != nil {
				return nil, err
			}
		}
		vol, err := parseInt(data, "5. volume")
		if err != nil {
			return nil, err
		}
		if vol != nil {
			b.Volume = *vol
		}
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}
