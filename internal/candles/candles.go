// Package candles implements the OHLC endpoint supplemented from
// original_source/ (SPEC_FULL §12): read-only bucketed open/high/low/close
// series over a time range, with the same abstract-currency routing policy
// used elsewhere for pairs that have no direct data.
package candles

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pragma-node/oracle-node/internal/aggregation"
	"github.com/pragma-node/oracle-node/internal/apierr"
	"github.com/pragma-node/oracle-node/internal/pair"
	"github.com/pragma-node/oracle-node/internal/store"
)

// Query selects one OHLC read.
type Query struct {
	Pair     pair.Pair
	DataType store.DataType
	Interval time.Duration
	From     time.Time
	To       time.Time
	Routing  bool
}

// Engine reads OHLC buckets, routing through the first abstract currency
// for which both legs have data when the requested pair has none directly.
type Engine struct {
	reader             store.AggregateReader
	abstractCurrencies []string
}

// New builds a candles Engine.
func New(reader store.AggregateReader, abstractCurrencies []string) *Engine {
	return &Engine{reader: reader, abstractCurrencies: abstractCurrencies}
}

// Range returns the resolved pair id and its OHLC buckets within [From, To].
func (e *Engine) Range(ctx context.Context, q Query) (string, []store.OHLCEntry, error) {
	direct, err := e.reader.OHLC(ctx, q.Pair.ID(), q.DataType, q.Interval, q.From, q.To)
	if err == nil && len(direct) > 0 {
		return q.Pair.ID(), direct, nil
	}
	if err != nil && err != store.ErrNoData {
		return "", nil, apierr.Wrap(apierr.KindUpstream, "OHLC lookup", err)
	}
	if !q.Routing {
		return "", nil, apierr.New(apierr.KindNotFound, fmt.Sprintf("no candles for pair %q", q.Pair.ID()))
	}

	var attempts []string
	for _, candidate := range e.abstractCurrencies {
		basePair := pair.New(q.Pair.Base, candidate)
		quotePair := pair.New(q.Pair.Quote, candidate)

		baseSeries, err := e.reader.OHLC(ctx, basePair.ID(), q.DataType, q.Interval, q.From, q.To)
		if err != nil || len(baseSeries) == 0 {
			attempts = append(attempts, fmt.Sprintf("%s: base leg %s unavailable", candidate, basePair.ID()))
			continue
		}
		quoteSeries, err := e.reader.OHLC(ctx, quotePair.ID(), q.DataType, q.Interval, q.From, q.To)
		if err != nil || len(quoteSeries) == 0 {
			attempts = append(attempts, fmt.Sprintf("%s: quote leg %s unavailable", candidate, quotePair.ID()))
			continue
		}
		if len(baseSeries) != len(quoteSeries) {
			attempts = append(attempts, fmt.Sprintf("%s: leg lengths differ (%d vs %d)", candidate, len(baseSeries), len(quoteSeries)))
			continue
		}

		combined := combineOHLC(baseSeries, quoteSeries)
		return pair.RoutedID(basePair, quotePair), combined, nil
	}

	routingErr := &aggregation.RoutingError{PairID: q.Pair.ID(), Attempts: attempts}
	return "", nil, apierr.Wrap(apierr.KindRoutingError, fmt.Sprintf("no candle route found for pair %q", q.Pair.ID()), routingErr)
}

// combineOHLC divides each OHLC field of base by the corresponding quote
// bucket, element-wise, preserving the open/high/low/close shape. A zero
// divisor yields a zero field rather than panicking; such buckets are
// returned like any other.
func combineOHLC(base, quote []store.OHLCEntry) []store.OHLCEntry {
	out := make([]store.OHLCEntry, len(base))
	for i := range base {
		out[i] = store.OHLCEntry{
			Time:  base[i].Time,
			Open:  safeDiv(base[i].Open, quote[i].Open),
			High:  safeDiv(base[i].High, quote[i].High),
			Low:   safeDiv(base[i].Low, quote[i].Low),
			Close: safeDiv(base[i].Close, quote[i].Close),
		}
	}
	return out
}

func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}
