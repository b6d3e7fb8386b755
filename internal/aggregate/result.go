package aggregate

import (
	"time"

	"quotehub/internal/cache"
	"quotehub/internal/provider"
)

// Status tells a client how much to trust a result.
type Status string

const (
	StatusFresh       Status = "fresh"
	StatusStale       Status = "stale"
	StatusUnavailable Status = "unavailable"
)

// QuoteResult is the outcome for one requested symbol. Quote is set when
// Status is fresh or stale, Reason when it is unavailable.
type QuoteResult struct {
	Status    Status          `json:"status"`
	Quote     *provider.Quote `json:"quote,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	FetchedAt *time.Time      `json:"fetchedAt,omitempty"`
}

func fromEntry(status Status, e cache.Entry) QuoteResult {
	q, at := e.Quote, e.FetchedAt
	return QuoteResult{Status: status, Quote: &q, FetchedAt: &at}
}

func unavailable(reason string) QuoteResult {
	return QuoteResult{Status: StatusUnavailable, Reason: reason}
}

// Document is the outcome of an overview or history request.
type Document[T any] struct {
	Status    Status     `json:"status"`
	Data      *T         `json:"data,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	FetchedAt *time.Time `json:"fetchedAt,omitempty"`
}
