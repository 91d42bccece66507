package history

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
	ranges   map[string][]store.MedianEntry
	decimals map[string]int
}

func newFakeReader() *fakeReader {
	return &fakeReader{ranges: map[string][]store.MedianEntry{}, decimals: map[string]int{}}
}

func (f *fakeReader) LatestBucket(_ context.Context, _ store.AggregateQuery) (store.MedianEntry, error) {
	return store.MedianEntry{}, store.ErrNoData
}

func (f *fakeReader) RangeBuckets(_ context.Context, pairID string, _ store.DataType, _ store.AggregationMode, _ time.Duration, _, _ time.Time) ([]store.MedianEntry, error) {
	s, ok := f.ranges[pairID]
	if !ok || len(s) == 0 {
		return nil, store.ErrNoData
	}
	return s, nil
}

func (f *fakeReader) LatestRowTimestamp(_ context.Context, _ string, _ store.DataType) (time.Time, error) {
	return time.Time{}, store.ErrNoData
}

func (f *fakeReader) LatestPerSource(_ context.Context, _ []string, _ store.DataType, _ time.Duration, _ time.Time) (map[string][]store.Component, error) {
	return nil, nil
}

func (f *fakeReader) Decimals(_ context.Context, pairID string) (int, error) {
	d, ok := f.decimals[pairID]
	if !ok {
		return 0, store.ErrNoData
	}
	return d, nil
}

func (f *fakeReader) OHLC(_ context.Context, _ string, _ store.DataType, _ time.Duration, _, _ time.Time) ([]store.OHLCEntry, error) {
	return nil, store.ErrNoData
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
	r.ranges["ETH/USD"] = []store.MedianEntry{{Time: now, MedianPrice: decimal.New(3000, 8), NumSources: 2}}

	e := New(r, []string{"USD"}, 60*time.Second)
	id, buckets, err := e.Range(context.Background(), Query{Pair: pair.New("ETH", "USD"), DataType: store.DataTypeSpot, From: now.Add(-time.Hour), To: now})
	require.NoError(t, err)
	assert.Equal(t, "ETH/USD", id)
	require.Len(t, buckets, 1)
}

func TestRangeMissWithoutRoutingIsNotFound(t *testing.T) {
	r := newFakeReader()
	e := New(r, []string{"USD"}, 60*time.Second)

	_, _, err := e.Range(context.Background(), Query{Pair: pair.New("ETH", "USD"), DataType: store.DataTypeSpot, Routing: false})
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.KindNotFound, apiErr.Kind)
}

func TestRangeRoutesAndCombinesPairwise(t *testing.T) {
	now := time.Now()
	r := newFakeReader()
	r.decimals["BTC/USDT"] = 8
	r.decimals["ETH/USDT"] = 8
	r.ranges["BTC/USDT"] = []store.MedianEntry{
		{Time: now.Add(-time.Minute), MedianPrice: decimal.New(60000, 8), NumSources: 4},
		{Time: now, MedianPrice: decimal.New(61000, 8), NumSources: 5},
	}
	r.ranges["ETH/USDT"] = []store.MedianEntry{
		{Time: now.Add(-time.Minute), MedianPrice: decimal.New(3000, 8), NumSources: 2},
		{Time: now, MedianPrice: decimal.New(3050, 8), NumSources: 3},
	}

	e := New(r, []string{"USD", "USDT"}, 60*time.Second)
	id, combined, err := e.Range(context.Background(), Query{Pair: pair.New("BTC", "ETH"), DataType: store.DataTypeSpot, Routing: true})
	require.NoError(t, err)
	assert.Equal(t, "BTC/ETH", id)
	require.Len(t, combined, 2)
	assert.True(t, combined[0].MedianPrice.Equal(decimal.New(20, 8)), "60000/3000 = 20")
	assert.Equal(t, 5, combined[1].NumSources)
}

func TestRangeRoutingLengthMismatchIsRejected(t *testing.T) {
	now := time.Now()
	r := newFakeReader()
	r.decimals["BTC/USDT"] = 8
	r.decimals["ETH/USDT"] = 8
	r.ranges["BTC/USDT"] = []store.MedianEntry{{Time: now, MedianPrice: decimal.New(60000, 8), NumSources: 4}}
	r.ranges["ETH/USDT"] = []store.MedianEntry{
		{Time: now, MedianPrice: decimal.New(3000, 8), NumSources: 2},
		{Time: now, MedianPrice: decimal.New(3050, 8), NumSources: 3},
	}

	e := New(r, []string{"USDT"}, 60*time.Second)
	_, _, err := e.Range(context.Background(), Query{Pair: pair.New("BTC", "ETH"), DataType: store.DataTypeSpot, Routing: true})
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.KindRoutingError, apiErr.Kind)
}
