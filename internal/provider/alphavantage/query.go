package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrRateLimited is returned on HTTP 429 or when the payload carries an
	// "Information" or "Note" field instead of data.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound is returned when the payload has no data for the symbol.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCall is returned when the payload carries an "Error Message".
	ErrInvalidCall = errors.New("invalid api call")
	// ErrUnauthorized is returned on HTTP 401 and 403.
	ErrUnauthorized = errors.New("unauthorized")
)

const maxBodyBytes = 8 << 20

// Query performs a GET /query call for function and symbol and returns the
// top level JSON members. Provider level error payloads are converted to errors.
func (c *AlphaVantageAPIClient) Query(ctx context.Context, function, symbol string, extra map[string]string, opts ...AlphaVantageAPIClientOption) (map[string]json.RawMessage, error) {
	var override = &AlphaVantageAPIClient{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
		query:      c.query,
	}
	for _, opt := range opts {
		opt(override)
	}

	query := maps.Clone(override.query)
	query.Set("function", function)
	query.Set("symbol", symbol)
	for k, v := range extra {
		query.Set(k, v)
	}

	url := fmt.Sprintf("%s/query?%s", override.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header

	res, err := override.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		break

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized

	case http.StatusTooManyRequests:
		return nil, ErrRateLimited

	default:
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(res.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", function, err)
	}

	// {"Information": "Thank you for using Alpha Vantage! Our standard API rate limit is ..."}
	for _, key := range []string{"Information", "Note"} {
		if raw, ok := body[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, message(raw))
		}
	}
	if raw, ok := body["Error Message"]; ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCall, message(raw))
	}
	return body, nil
}

func message(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}

// parseDecimal reads a numeric string field. Percent signs are stripped.
// Missing, empty, "None" and "-" values report ok=false.
func parseDecimal(data map[string]string, key string) (d decimal.Decimal, ok bool, err error) {
	v, found := data[key]
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%"))
	if !found || v == "" || v == "None" || v == "-" {
		return decimal.Zero, false, nil
	}
	d, err = decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return d, true, nil
}

// parseNullDecimal is parseDecimal for optional fields.
func parseNullDecimal(data map[string]string, key string) (decimal.NullDecimal, error) {
	d, ok, err := parseDecimal(data, key)
	if err != nil || !ok {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// parseInt reads an integer string field.
func parseInt(data map[string]string, key string) (*int64, error) {
	v, ok := data[key]
	if !ok || v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &n, nil
}

// parseDate reads a YYYY-MM-DD field as midnight UTC.
func parseDate(data map[string]string, key string) (time.Time, error) {
	v, ok := data[key]
	if !ok || v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("decoding %s: %w", key, err)
	}
	return t, nil
}
