package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// CompanyOverview is the OVERVIEW payload.
type CompanyOverview struct {
	Symbol        string
	Name          string
	Description   string
	Exchange      string
	Currency      string
	Country       string
	Sector        string
	Industry      string
	MarketCap     decimal.NullDecimal
	PERatio       decimal.NullDecimal
	EPS           decimal.NullDecimal
	DividendYield decimal.NullDecimal
	Beta          decimal.NullDecimal
	High52Week    decimal.NullDecimal
	Low52Week     decimal.NullDecimal
}

// GetCompanyOverview retrieves the OVERVIEW for symbol. An empty object
// yields ErrNotFound.
func (c *AlphaVantageAPIClient) GetCompanyOverview(ctx context.Context, symbol string, opts ...AlphaVantageAPIClientOption) (CompanyOverview, error) {
	body, err := c.Query(ctx, "OVERVIEW", symbol, nil, opts...)
	if err != nil {
		return CompanyOverview{}, err
	}

	// The overview is a flat object of strings; numeric fields may be "None".
	data := make(map[string]string, len(body))
	for k, raw := range body {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			data[k] = s
		}
	}
	if data["Symbol"] == "" {
		return CompanyOverview{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	o := CompanyOverview{
		Symbol:      data["Symbol"],
		Name:        data["Name"],
		Description: data["Description"],
		Exchange:    data["Exchange"],
		Currency:    data["Currency"],
		Country:     data["Country"],
		Sector:      data["Sector"],
		Industry:    data["Industry"],
	}
	fields := []struct {
		key string
		dst *decimal.NullDecimal
	}{
		{"MarketCapitalization", &o.MarketCap},
		{"PERatio", &o.PERatio},
		{"EPS", &o.EPS},
		{"DividendYield", &o.DividendYield},
		{"Beta", &o.Beta},
		{"52WeekHigh", &o.High52Week},
		{"52WeekLow", &o.Low52Week},
	}
	for _, f := range fields {
		if *f.dst, err = parseNullDecimal(data, f.key); err != nil {
			return CompanyOverview{}, err
		}
	}
	return o, nil
}
