package onchain

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pragma-node/oracle-node/internal/apierr"
	"github.com/pragma-node/oracle-node/internal/pair"
)

type fakeRepo struct {
	lastPrice   map[string]LastPrice
	checkpoints map[string][]Checkpoint
	publishers  []PublisherStats
	history     map[string][]Checkpoint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		lastPrice:   map[string]LastPrice{},
		checkpoints: map[string][]Checkpoint{},
		history:     map[string][]Checkpoint{},
	}
}

func (f *fakeRepo) LastPrice(_ context.Context, pairID string, _ LastPriceMode, _ time.Duration) (LastPrice, error) {
	lp, ok := f.lastPrice[pairID]
	if !ok {
		return LastPrice{}, apierr.New(apierr.KindNotFound, "no data")
	}
	return lp, nil
}

func (f *fakeRepo) Checkpoints(_ context.Context, pairID string, limit int) ([]Checkpoint, error) {
	rows := f.checkpoints[pairID]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeRepo) Publishers(_ context.Context, _ time.Duration) ([]PublisherStats, error) {
	return f.publishers, nil
}

func (f *fakeRepo) History(_ context.Context, pairID string, _, _ time.Time) ([]Checkpoint, error) {
	rows, ok := f.history[pairID]
	if !ok || len(rows) == 0 {
		return nil, ErrNoHistory
	}
	return rows, nil
}

type fakeRPC struct {
	calls int
}

func (f *fakeRPC) GetDecimals(_ context.Context, _, _ string) (int, error) {
	f.calls++
	return 8, nil
}

func TestCheckpointsClampsToMaxLimit(t *testing.T) {
	repo := newFakeRepo()
	rows := make([]Checkpoint, 2000)
	for i := range rows {
		rows[i] = Checkpoint{PairID: "ETH/USD", Price: decimal.New(int64(i), 0)}
	}
	repo.checkpoints["ETH/USD"] = rows

	e := New(repo, &fakeRPC{}, 1000, nil)
	out, err := e.Checkpoints(context.Background(), pair.New("ETH", "USD"), 5000)
	require.NoError(t, err)
	assert.Len(t, out, 1000)
}

func TestDecimalsCachesAcrossCalls(t *testing.T) {
	rpc := &fakeRPC{}
	e := New(newFakeRepo(), rpc, 1000, nil)

	d1, err := e.Decimals(context.Background(), "mainnet", pair.New("ETH", "USD"))
	require.NoError(t, err)
	d2, err := e.Decimals(context.Background(), "mainnet", pair.New("ETH", "USD"))
	require.NoError(t, err)

	assert.Equal(t, 8, d1)
	assert.Equal(t, 8, d2)
	assert.Equal(t, 1, rpc.calls, "a cached decimals lookup must not call the RPC provider again")
}

func TestHistoryRoutesThroughAbstractCurrency(t *testing.T) {
	now := time.Now()
	repo := newFakeRepo()
	repo.history["BTC/USDT"] = []Checkpoint{{PairID: "BTC/USDT", Price: decimal.NewFromInt(60000), Timestamp: now}}
	repo.history["ETH/USDT"] = []Checkpoint{{PairID: "ETH/USDT", Price: decimal.NewFromInt(3000), Timestamp: now}}

	e := New(repo, &fakeRPC{}, 1000, []string{"USD", "USDT"})
	id, combined, err := e.History(context.Background(), pair.New("BTC", "ETH"), now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, "BTC/ETH", id)
	require.Len(t, combined, 1)
	assert.True(t, combined[0].Price.Equal(decimal.NewFromInt(20)))
}
