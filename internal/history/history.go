// Package history implements the historical query engine of spec §4.F:
// ranged reads against the continuous-aggregate views, falling back to the
// same routing policy as aggregation when the requested pair has no direct
// data over the range.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/pragma-node/oracle-node/internal/aggregation"
	"github.com/pragma-node/oracle-node/internal/apierr"
	"github.com/pragma-node/oracle-node/internal/pair"
	"github.com/pragma-node/oracle-node/internal/store"
)

// Query selects one ranged read, per spec §4.F.
type Query struct {
	Pair           pair.Pair
	DataType       store.DataType
	Mode           store.AggregationMode
	Interval       time.Duration
	ChunkInterval  time.Duration
	From           time.Time
	To             time.Time
	Routing        bool
}

// Engine runs §4.F's range query, reusing the aggregation engine's routing
// policy when direct history is absent.
type Engine struct {
	reader             store.AggregateReader
	abstractCurrencies []string
	freshnessThreshold time.Duration
}

// New builds a history Engine sharing the same abstract-currency list and
// freshness threshold as the aggregation engine, per spec §4.F.
func New(reader store.AggregateReader, abstractCurrencies []string, freshnessThreshold time.Duration) *Engine {
	return &Engine{reader: reader, abstractCurrencies: abstractCurrencies, freshnessThreshold: freshnessThreshold}
}

// Range returns ascending-time buckets for q.Pair within [From, To], routing
// through an abstract currency and pairwise-combining the two legs when the
// pair has no direct data, per spec §4.F.
func (e *Engine) Range(ctx context.Context, q Query) (string, []store.MedianEntry, error) {
	direct, err := e.reader.RangeBuckets(ctx, q.Pair.ID(), q.DataType, q.Mode, q.ChunkInterval, q.From, q.To)
	if err == nil && len(direct) > 0 {
		return q.Pair.ID(), direct, nil
	}
	if err != nil && err != store.ErrNoData {
		return "", nil, apierr.Wrap(apierr.KindUpstream, "ranged aggregate lookup", err)
	}
	if !q.Routing {
		return "", nil, apierr.New(apierr.KindNotFound, fmt.Sprintf("no history for pair %q", q.Pair.ID()))
	}

	return e.routeRange(ctx, q)
}

// routeRange implements §4.F's "apply the same routing policy as §4.E over
// the entire range, pairwise-combining the two source series; the combined
// length must match element-wise."
func (e *Engine) routeRange(ctx context.Context, q Query) (string, []store.MedianEntry, error) {
	var attempts []string

	for _, candidate := range e.abstractCurrencies {
		basePair := pair.New(q.Pair.Base, candidate)
		quotePair := pair.New(q.Pair.Quote, candidate)

		baseSeries, err := e.reader.RangeBuckets(ctx, basePair.ID(), q.DataType, q.Mode, q.ChunkInterval, q.From, q.To)
		if err != nil || len(baseSeries) == 0 {
			attempts = append(attempts, fmt.Sprintf("%s: base leg %s unavailable", candidate, basePair.ID()))
			continue
		}
		quoteSeries, err := e.reader.RangeBuckets(ctx, quotePair.ID(), q.DataType, q.Mode, q.ChunkInterval, q.From, q.To)
		if err != nil || len(quoteSeries) == 0 {
			attempts = append(attempts, fmt.Sprintf("%s: quote leg %s unavailable", candidate, quotePair.ID()))
			continue
		}
		if len(baseSeries) != len(quoteSeries) {
			attempts = append(attempts, fmt.Sprintf("%s: leg lengths differ (%d vs %d)", candidate, len(baseSeries), len(quoteSeries)))
			continue
		}

		baseDecimals, err := e.reader.Decimals(ctx, basePair.ID())
		if err != nil {
			baseDecimals = aggregation.DefaultDecimals
		}
		quoteDecimals, err := e.reader.Decimals(ctx, quotePair.ID())
		if err != nil {
			quoteDecimals = aggregation.DefaultDecimals
		}

		combined, err := combineSeries(baseSeries, baseDecimals, quoteSeries, quoteDecimals)
		if err != nil {
			return "", nil, err
		}

		routedID := pair.RoutedID(basePair, quotePair)
		return routedID, combined, nil
	}

	routingErr := &aggregation.RoutingError{PairID: q.Pair.ID(), Attempts: attempts}
	return "", nil, apierr.Wrap(apierr.KindRoutingError, fmt.Sprintf("no history route found for pair %q", q.Pair.ID()), routingErr)
}

// combineSeries pairwise-rebases two equal-length, same-index-aligned
// bucket series, per spec §4.F.
func combineSeries(base []store.MedianEntry, baseDecimals int, quote []store.MedianEntry, quoteDecimals int) ([]store.MedianEntry, error) {
	combined := make([]store.MedianEntry, len(base))
	for i := range base {
		rebased, _, err := aggregation.Rebase(base[i], baseDecimals, quote[i], quoteDecimals)
		if err != nil {
			return nil, err
		}
		numSources := base[i].NumSources
		if quote[i].NumSources > numSources {
			numSources = quote[i].NumSources
		}
		t := base[i].Time
		if quote[i].Time.After(t) {
			t = quote[i].Time
		}
		combined[i] = store.MedianEntry{Time: t, MedianPrice: rebased, NumSources: numSources}
	}
	return combined, nil
}
