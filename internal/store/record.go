package store

import (
	"time"

	"github.com/shopspring/decimal"

	"quotehub/internal/provider"
)

// snapshotRecord is the flat encoding of a Snapshot. Decimals travel as
// strings, times as unix milliseconds.
type snapshotRecord struct {
	Symbol         string `msgpack:"s"`
	Price          string `msgpack:"p"`
	ChangeAbsolute string `msgpack:"c"`
	ChangePercent  string `msgpack:"cp"`
	Volume         *int64 `msgpack:"v,omitempty"`
	AsOf           int64  `msgpack:"a"`
	Source         string `msgpack:"src,omitempty"`
	FetchedAt      int64  `msgpack:"f"`
}

func toRecord(s Snapshot) snapshotRecord {
	q := s.Quote
	return snapshotRecord{
		Symbol:         q.Symbol,
		Price:          q.Price.String(),
		ChangeAbsolute: q.ChangeAbsolute.String(),
		ChangePercent:  q.ChangePercent.String(),
		Volume:         q.Volume,
		AsOf:           q.AsOf.UnixMilli(),
		Source:         q.Source,
		FetchedAt:      s.FetchedAt.UnixMilli(),
	}
}

func (r snapshotRecord) snapshot() (Snapshot, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return Snapshot{}, err
	}
	change, err := decimal.NewFromString(r.ChangeAbsolute)
	if err != nil {
		return Snapshot{}, err
	}
	pct, err := decimal.NewFromString(r.ChangePercent)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Quote: provider.Quote{
			Symbol:         r.Symbol,
			Price:          price,
			ChangeAbsolute: change,
			ChangePercent:  pct,
			Volume:         r.Volume,
			AsOf:           time.UnixMilli(r.AsOf).UTC(),
			Source:         r.Source,
		},
		FetchedAt: time.UnixMilli(r.FetchedAt).UTC(),
	}, nil
}

type documentRecord struct {
	Body      []byte `msgpack:"b"`
	FetchedAt int64  `msgpack:"f"`
	ExpiresAt int64  `msgpack:"e"`
}
