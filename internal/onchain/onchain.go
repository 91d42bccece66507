// Package onchain implements the on-chain view engine of spec §4.I:
// read-only queries over monitoring tables populated by an external
// indexer, plus a cached JSON-RPC fallback for per-network decimals.
package onchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pragma-node/oracle-node/internal/aggregation"
	"github.com/pragma-node/oracle-node/internal/apierr"
	"github.com/pragma-node/oracle-node/internal/pair"
)

// LastPriceMode selects the SQL-side aggregation used for the last price
// query, per spec §4.I.
type LastPriceMode string

const (
	LastPriceMedian LastPriceMode = "median"
	LastPriceMean   LastPriceMode = "mean"
)

// SourceRow is one distinct source contribution behind a last-price answer.
type SourceRow struct {
	Source    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// LastPrice is the result of the "last aggregated price" capability.
type LastPrice struct {
	PairID  string
	Price   decimal.Decimal
	Sources []SourceRow
}

// Checkpoint is one row of the checkpoint paging capability.
type Checkpoint struct {
	PairID    string
	Price     decimal.Decimal
	Timestamp time.Time
	TxHash    string
}

// PublisherStats is one row of the publisher leaderboard capability.
type PublisherStats struct {
	Publisher    string
	NbFeeds      int
	DailyUpdates int
	TotalUpdates int
	LastRows     map[string]SourceRow // keyed by "pair_id:source"
}

// Repository is the read-only monitoring-table interface this package
// queries against, populated by the external indexer (spec §4.I).
type Repository interface {
	LastPrice(ctx context.Context, pairID string, mode LastPriceMode, lookback time.Duration) (LastPrice, error)
	Checkpoints(ctx context.Context, pairID string, limit int) ([]Checkpoint, error)
	Publishers(ctx context.Context, since time.Duration) ([]PublisherStats, error)

	// History returns on-chain checkpoints for pairID within [from, to], in
	// ascending time order; ErrNoHistory when the pair has none directly.
	History(ctx context.Context, pairID string, from, to time.Time) ([]Checkpoint, error)
}

// ErrNoHistory indicates a pair has no on-chain history rows in the
// requested range, distinguishing a routable miss from a transport error.
var ErrNoHistory = fmt.Errorf("onchain: no history for pair")

// DecimalsProvider resolves a pair's decimals from the on-chain oracle
// contract via JSON-RPC, per spec §4.I's "get_decimals view function on a
// per-network oracle address".
type DecimalsProvider interface {
	GetDecimals(ctx context.Context, network, pairID string) (int, error)
}

// decimalsCacheKey is cached indefinitely by (network, pair_id), per §4.I.
type decimalsCacheKey struct {
	network string
	pairID  string
}

// Engine implements §4.I's three read-only capabilities.
type Engine struct {
	repo               Repository
	rpc                DecimalsProvider
	maxLimit           int
	abstractCurrencies []string
	decimalsCache      sync.Map // decimalsCacheKey -> int
}

// New builds an onchain Engine. maxLimit bounds checkpoint paging;
// abstractCurrencies is the same ordered candidate list used by the
// aggregation/history engines, reused here per spec §4.I's closing line
// ("routing for on-chain history mirrors §4.F with the same
// abstract-currency list").
func New(repo Repository, rpc DecimalsProvider, maxLimit int, abstractCurrencies []string) *Engine {
	return &Engine{repo: repo, rpc: rpc, maxLimit: maxLimit, abstractCurrencies: abstractCurrencies}
}

// LastPrice returns the most recent aggregated price for p over a 1-hour
// look-back window, per spec §4.I.
func (e *Engine) LastPrice(ctx context.Context, p pair.Pair, mode LastPriceMode) (LastPrice, error) {
	result, err := e.repo.LastPrice(ctx, p.ID(), mode, time.Hour)
	if err != nil {
		return LastPrice{}, apierr.Wrap(apierr.KindUpstream, "on-chain last price lookup", err)
	}
	return result, nil
}

// Checkpoints returns up to limit checkpoints for p, descending by
// timestamp, clamped to maxLimit per spec §4.I.
func (e *Engine) Checkpoints(ctx context.Context, p pair.Pair, limit int) ([]Checkpoint, error) {
	if limit <= 0 || limit > e.maxLimit {
		limit = e.maxLimit
	}
	rows, err := e.repo.Checkpoints(ctx, p.ID(), limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "checkpoint lookup", err)
	}
	return rows, nil
}

// Publishers returns the leaderboard of publishers active in the last 24h,
// per spec §4.I.
func (e *Engine) Publishers(ctx context.Context) ([]PublisherStats, error) {
	rows, err := e.repo.Publishers(ctx, 24*time.Hour)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, "publisher leaderboard lookup", err)
	}
	return rows, nil
}

// Decimals resolves a pair's decimals for network, serving from the
// indefinite cache on hit and falling through to the JSON-RPC provider on
// miss, per spec §4.I. Concurrent misses for the same key may both call the
// provider (single-flight is not guaranteed); duplicate cache writes are
// tolerated, matching spec §5's cache policy.
func (e *Engine) Decimals(ctx context.Context, network string, p pair.Pair) (int, error) {
	key := decimalsCacheKey{network: network, pairID: p.ID()}
	if cached, ok := e.decimalsCache.Load(key); ok {
		return cached.(int), nil
	}

	decimals, err := e.rpc.GetDecimals(ctx, network, p.ID())
	if err != nil {
		return 0, apierr.Wrap(apierr.KindUpstream, "rpc get_decimals", err)
	}
	e.decimalsCache.Store(key, decimals)
	return decimals, nil
}

// History returns the resolved pair id and its on-chain checkpoints within
// [from, to], routing through the abstract-currency list and
// pairwise-combining the two legs when p has no direct history, per
// spec §4.I / §4.F.
func (e *Engine) History(ctx context.Context, p pair.Pair, from, to time.Time) (string, []Checkpoint, error) {
	direct, err := e.repo.History(ctx, p.ID(), from, to)
	if err == nil && len(direct) > 0 {
		return p.ID(), direct, nil
	}
	if err != nil && err != ErrNoHistory {
		return "", nil, apierr.Wrap(apierr.KindUpstream, "on-chain history lookup", err)
	}

	var attempts []string
	for _, candidate := range e.abstractCurrencies {
		basePair := pair.New(p.Base, candidate)
		quotePair := pair.New(p.Quote, candidate)

		baseSeries, err := e.repo.History(ctx, basePair.ID(), from, to)
		if err != nil || len(baseSeries) == 0 {
			attempts = append(attempts, fmt.Sprintf("%s: base leg %s unavailable", candidate, basePair.ID()))
			continue
		}
		quoteSeries, err := e.repo.History(ctx, quotePair.ID(), from, to)
		if err != nil || len(quoteSeries) == 0 {
			attempts = append(attempts, fmt.Sprintf("%s: quote leg %s unavailable", candidate, quotePair.ID()))
			continue
		}
		if len(baseSeries) != len(quoteSeries) {
			attempts = append(attempts, fmt.Sprintf("%s: leg lengths differ (%d vs %d)", candidate, len(baseSeries), len(quoteSeries)))
			continue
		}

		combined := make([]Checkpoint, len(baseSeries))
		for i := range baseSeries {
			if quoteSeries[i].Price.IsZero() {
				return "", nil, apierr.New(apierr.KindInternal, "on-chain history: quote price is zero")
			}
			combined[i] = Checkpoint{
				PairID:    pair.RoutedID(basePair, quotePair),
				Price:     baseSeries[i].Price.Div(quoteSeries[i].Price),
				Timestamp: baseSeries[i].Timestamp,
			}
		}
		return pair.RoutedID(basePair, quotePair), combined, nil
	}

	routingErr := &aggregation.RoutingError{PairID: p.ID(), Attempts: attempts}
	return "", nil, apierr.Wrap(apierr.KindRoutingError, fmt.Sprintf("no on-chain history route found for pair %q", p.ID()), routingErr)
}
