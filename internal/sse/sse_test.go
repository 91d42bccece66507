package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pragma-node/oracle-node/internal/aggregation"
	"github.com/pragma-node/oracle-node/internal/pair"
	"github.com/pragma-node/oracle-node/internal/store"
)

type fakeReader struct{}

func (f *fakeReader) LatestBucket(_ context.Context, q store.AggregateQuery) (store.MedianEntry, error) {
	return store.MedianEntry{Time: time.Now(), MedianPrice: decimal.New(3000, 8), NumSources: 2}, nil
}
func (f *fakeReader) RangeBuckets(_ context.Context, _ string, _ store.DataType, _ store.AggregationMode, _ time.Duration, _, _ time.Time) ([]store.MedianEntry, error) {
	return nil, store.ErrNoData
}
func (f *fakeReader) LatestRowTimestamp(_ context.Context, _ string, _ store.DataType) (time.Time, error) {
	return time.Now(), nil
}
func (f *fakeReader) LatestPerSource(_ context.Context, _ []string, _ store.DataType, _ time.Duration, _ time.Time) (map[string][]store.Component, error) {
	return nil, nil
}
func (f *fakeReader) Decimals(_ context.Context, _ string) (int, error) { return 8, nil }
func (f *fakeReader) OHLC(_ context.Context, _ string, _ store.DataType, _ time.Duration, _, _ time.Time) ([]store.OHLCEntry, error) {
	return nil, store.ErrNoData
}
func (f *fakeReader) KnownPairs(_ context.Context, _ store.DataType) (map[string]bool, error) {
	return nil, nil
}
func (f *fakeReader) FutureExpiries(_ context.Context, _ string) ([]time.Time, error) {
	return nil, nil
}

func TestSingleRejectsNonMedianAggregation(t *testing.T) {
	engine := aggregation.New(&fakeReader{}, []string{"USD"}, 60*time.Second)
	s := New(engine, time.Second, logrus.New())

	w := httptest.NewRecorder()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s.Single(ctx, w, Request{
		Pair:        pair.New("ETH", "USD"),
		Interval:    50 * time.Millisecond,
		Aggregation: store.AggregationTwap,
		DataType:    store.DataTypeSpot,
	})

	assert.Contains(t, w.Body.String(), "event: error")
}

func TestSingleRejectsPointInTimeTimestamp(t *testing.T) {
	engine := aggregation.New(&fakeReader{}, []string{"USD"}, 60*time.Second)
	s := New(engine, time.Second, logrus.New())

	w := httptest.NewRecorder()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s.Single(ctx, w, Request{
		Pair:         pair.New("ETH", "USD"),
		Interval:     50 * time.Millisecond,
		Aggregation:  store.AggregationMedian,
		DataType:     store.DataTypeSpot,
		HasTimestamp: true,
	})

	assert.Contains(t, w.Body.String(), "event: error")
}

func TestSingleEmitsHistoricalThenTicks(t *testing.T) {
	engine := aggregation.New(&fakeReader{}, []string{"USD"}, 60*time.Second)
	s := New(engine, time.Hour, logrus.New())

	w := httptest.NewRecorder()
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	s.Single(ctx, w, Request{
		Pair:             pair.New("ETH", "USD"),
		HistoricalPrices: 2,
		Interval:         30 * time.Millisecond,
		Aggregation:      store.AggregationMedian,
		DataType:         store.DataTypeSpot,
	})

	body := w.Body.String()
	require.Contains(t, body, "event: historical")
	assert.Contains(t, body, "event: message")
	assert.True(t, strings.Count(body, "event: message") >= 1)
}
