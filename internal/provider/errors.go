package provider

import "errors"

// Upstream failure taxonomy. Fetchers wrap one of these so callers can
// decide with errors.Is.
var (
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNoData              = errors.New("no data")
	ErrTimeout             = errors.New("timeout")
)

// Reason names used in responses.
const (
	ReasonInvalidSymbol       = "InvalidSymbol"
	ReasonRateLimited         = "RateLimited"
	ReasonUpstreamUnavailable = "UpstreamUnavailable"
	ReasonNoData              = "NoData"
	ReasonTimeout             = "Timeout"
)

// Reason maps err to its taxonomy name. Errors outside the taxonomy are
// reported as UpstreamUnavailable. Timeout only names an expired caller
// budget (ErrTimeout); an upstream call that times out is UpstreamUnavailable.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSymbol):
		return ReasonInvalidSymbol
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrNoData):
		return ReasonNoData
	case errors.Is(err, ErrUpstreamUnavailable):
		return ReasonUpstreamUnavailable
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	default:
		return ReasonUpstreamUnavailable
	}
}
