package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GlobalQuote is the latest price snapshot for a symbol.
type GlobalQuote struct {
	Symbol           string
	Open             decimal.Decimal
	High             decimal.Decimal
	Low              decimal.Decimal
	Price            decimal.Decimal
	Volume           *int64
	LatestTradingDay time.Time
	PreviousClose    decimal.Decimal
	Change           decimal.Decimal
	ChangePercent    decimal.Decimal
}

// GetGlobalQuote retrieves the GLOBAL_QUOTE for symbol. A payload without a
// price yields ErrNotFound.
func (c *AlphaVantageAPIClient) GetGlobalQuote(ctx context.Context, symbol string, opts ...AlphaVantageAPIClientOption) (GlobalQuote, error) {
	body, err := c.Query(ctx, "GLOBAL_QUOTE", symbol, nil, opts...)
	if err != nil {
		return GlobalQuote{}, err
	}

	// {
	//   "Global Quote": {
	//     "01. symbol": "IBM",
	//     "05. price": "184.2400",
	//     "06. volume": "3516434",
	//     "07. latest trading day": "2024-03-08",
	//     "09. change": "-1.5000",
	//     "10. change percent": "-0.8076%"
	//   }
	// }
	var data map[string]string
	if raw, ok := body["Global Quote"]; ok {
		if err := json.Unmarshal(raw, &data); err != nil {
			return GlobalQuote{}, fmt.Errorf("decoding Global Quote: %w", err)
		}
	}

	price, ok, err := parseDecimal(data, "05. price")
	if err != nil {
		return GlobalQuote{}, err
	}
	if !ok {
		return GlobalQuote{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	q := GlobalQuote{Symbol: data["01. symbol"], Price: price}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"02. open", &q.Open},
		{"03. high", &q.High},
		{"04. low", &q.Low},
		{"08. previous close", &q.PreviousClose},
		{"09. change", &q.Change},
		{"10. change percent", &q.ChangePercent},
	}
	for _, f := range fields {
		if *f.dst, _, err = parseDecimal(data, f.key); err != nil {
			return GlobalQuote{}, err
		}
	}
	if q.Volume, err = parseInt(data, "06. volume"); err != nil {
		return GlobalQuote{}, err
	}
	if q.LatestTradingDay, err = parseDate(data, "07. latest trading day"); err != nil {
		return GlobalQuote{}, err
	}
	return q, nil
}
