package candles

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pragma-node/oracle-node/internal/apierr"
	"github.com/pragma-node/oracle-node/internal/pair"
	"github.com/pragma-node/oracle-node/internal/store"
)

type fakeReader struct {
	ohlc map[string][]store.OHLCEntry
}

func newFakeReader() *fakeReader { return &fakeReader{ohlc: map[string][]store.OHLCEntry{}} }

func (f *fakeReader) LatestBucket(_ context.Context, _ store.AggregateQuery) (store.MedianEntry, error) {
	return store.MedianEntry{}, store.ErrNoData
}
func (f *fakeReader) RangeBuckets(_ context.Context, _ string, _ store.DataType, _ store.AggregationMode, _ time.Duration, _, _ time.Time) ([]store.MedianEntry, error) {
	return nil, store.ErrNoData
}
func (f *fakeReader) LatestRowTimestamp(_ context.Context, _ string, _ store.DataType) (time.Time, error) {
	return time.Time{}, store.ErrNoData
}
func (f *fakeReader) LatestPerSource(_ context.Context, _ []string, _ store.DataType, _ time.Duration, _ time.Time) (map[string][]store.Component, error) {
	return nil, nil
}
func (f *fakeReader) Decimals(_ context.Context, _ string) (int, error) { return 8, nil }
func (f *fakeReader) OHLC(_ context.Context, pairID string, _ store.DataType, _ time.Duration, _, _ time.Time) ([]store.OHLCEntry, error) {
	s, ok := f.ohlc[pairID]
	if !ok || len(s) == 0 {
		return nil, store.ErrNoData
	}
	return s, nil
}
func (f *fakeReader) KnownPairs(_ context.Context, _ store.DataType) (map[string]bool, error) {
	return nil, nil
}
func (f *fakeReader) FutureExpiries(_ context.Context, _ string) ([]time.Time, error) {
	return nil, nil
}

func TestRangeDirectHit(t *testing.T) {
	now := time.Now()
	r := newFakeReader()
	r.ohlc["ETH/USD"] = []store.OHLCEntry{{Time: now, Open: decimal.New(3000, 8), High: decimal.New(3100, 8), Low: decimal.New(2900, 8), Close: decimal.New(3050, 8)}}

	e := New(r, []string{"USD"})
	id, buckets, err := e.Range(context.Background(), Query{Pair: pair.New("ETH", "USD"), DataType: store.DataTypeSpot})
	require.NoError(t, err)
	assert.Equal(t, "ETH/USD", id)
	require.Len(t, buckets, 1)
}

func TestRangeRoutesThroughAbstractCurrency(t *testing.T) {
	now := time.Now()
	r := newFakeReader()
	r.ohlc["BTC/USDT"] = []store.OHLCEntry{{Time: now, Open: decimal.New(60000, 8), High: decimal.New(61000, 8), Low: decimal.New(59000, 8), Close: decimal.New(60500, 8)}}
	r.ohlc["ETH/USDT"] = []store.OHLCEntry{{Time: now, Open: decimal.New(3000, 8), High: decimal.New(3100, 8), Low: decimal.New(2900, 8), Close: decimal.New(3050, 8)}}

	e := New(r, []string{"USD", "USDT"})
	id, buckets, err := e.Range(context.Background(), Query{Pair: pair.New("BTC", "ETH"), DataType: store.DataTypeSpot, Routing: true})
	require.NoError(t, err)
	assert.Equal(t, "BTC/ETH", id)
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].Open.Equal(decimal.New(20, 0)), "60000/3000 = 20")
}

func TestRangeMissWithoutRoutingIsNotFound(t *testing.T) {
	r := newFakeReader()
	e := New(r, []string{"USD"})

	_, _, err := e.Range(context.Background(), Query{Pair: pair.New("ETH", "USD"), DataType: store.DataTypeSpot})
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.KindNotFound, apiErr.Kind)
}
