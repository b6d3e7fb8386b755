package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quotehub/internal/events"
	"quotehub/internal/provider"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublish(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := events.NewKafkaWithWriter(w, zerolog.Nop())
	fetchedAt := time.Date(2024, 3, 8, 15, 0, 0, 0, time.UTC)
	q := provider.Quote{Symbol: "AAPL", Price: decimal.RequireFromString("170.12"), AsOf: fetchedAt}

	require.NoError(t, p.Publish(t.Context(), q, fetchedAt))
	require.Len(t, w.msgs, 1)
	require.Equal(t, []byte("AAPL"), w.msgs[0].Key)
	require.Equal(t, fetchedAt, w.msgs[0].Time)

	var ev events.QuoteEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	require.Equal(t, "quote", ev.Type)
	require.Equal(t, "AAPL", ev.Quote.Symbol)
	require.True(t, q.Price.Equal(ev.Quote.Price))

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestKafkaPublishError(t *testing.T) {
	t.Parallel()

	p := events.NewKafkaWithWriter(&fakeWriter{err: errors.New("broker down")}, zerolog.Nop())
	err := p.Publish(t.Context(), provider.Quote{Symbol: "MSFT"}, time.Now())
	require.ErrorContains(t, err, "publish MSFT")
}

func TestNoop(t *testing.T) {
	t.Parallel()

	var p events.Publisher = events.Noop{}
	require.NoError(t, p.Publish(t.Context(), provider.Quote{}, time.Now()))
	require.NoError(t, p.Close())
}
