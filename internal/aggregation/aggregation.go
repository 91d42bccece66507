// Package aggregation implements the routing/aggregation engine of spec
// §4.E: a direct lookup against the continuous-aggregate views, falling
// back to rebasing through an ordered list of abstract quote currencies
// when the requested pair has no fresh direct data.
package aggregation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pragma-node/oracle-node/internal/apierr"
	"github.com/pragma-node/oracle-node/internal/pair"
	"github.com/pragma-node/oracle-node/internal/store"
)

// DefaultDecimals is used when a pair's currencies aren't registered in the
// decimals table, per spec §4.E step 3.
const DefaultDecimals = 8

// RoutingError records one message per abstract-currency candidate tried
// during routing, per the Rust original's get_entry.rs/history.rs handlers
// (SPEC_FULL §12): callers render Attempts into the 404 body instead of a
// single opaque "not found".
type RoutingError struct {
	PairID   string
	Attempts []string
}

func (e *RoutingError) Error() string {
	return strings.Join(e.Attempts, "; ")
}

// Params selects one aggregation query, mirroring spec §4.E.
type Params struct {
	Interval        time.Duration
	AtTime          time.Time
	Mode            store.AggregationMode
	DataType        store.DataType
	Expiry          *time.Time
	Routing         bool
	WithComponents  bool
}

// Engine runs the §4.E routing algorithm against an AggregateReader.
type Engine struct {
	reader             store.AggregateReader
	abstractCurrencies []string
	freshnessThreshold time.Duration
}

// New builds an Engine. abstractCurrencies is the fixed-order candidate list
// (e.g. ["USD", "USDT", "BTC"]) tried in §4.E step 2.
func New(reader store.AggregateReader, abstractCurrencies []string, freshnessThreshold time.Duration) *Engine {
	return &Engine{reader: reader, abstractCurrencies: abstractCurrencies, freshnessThreshold: freshnessThreshold}
}

// Route resolves p under params, per spec §4.E's routing operation.
// at_time being historical relative to wall-clock disables routing
// regardless of params.Routing: the original pragma-node is ambiguous here
// (§9 open question); this implementation pins "never route when at_time is
// historical" as the one behavior used everywhere.
func (e *Engine) Route(ctx context.Context, p pair.Pair, params Params) (store.MedianEntry, int, error) {
	isHistorical := params.AtTime.Before(time.Now().Add(-e.freshnessThreshold))
	effectiveRouting := params.Routing && !isHistorical

	entry, decimals, err := e.direct(ctx, p, params, effectiveRouting)
	if err == nil {
		return entry, decimals, nil
	}
	if err != store.ErrNoData {
		return store.MedianEntry{}, 0, apierr.Wrap(apierr.KindUpstream, "direct aggregation lookup", err)
	}
	if !effectiveRouting {
		return store.MedianEntry{}, 0, apierr.New(apierr.KindNotFound, fmt.Sprintf("no data for pair %q", p.ID()))
	}

	return e.routeThroughAbstractCurrencies(ctx, p, params)
}

// direct implements §4.E step 1: serve from the continuous aggregate view
// when routing is disabled or the most recent row is fresh enough.
// requireFreshness is false when routing is disabled or not_effective for
// this call, matching "routing is disabled OR fresh enough" from the spec.
func (e *Engine) direct(ctx context.Context, p pair.Pair, params Params, requireFreshness bool) (store.MedianEntry, int, error) {
	latest, err := e.reader.LatestRowTimestamp(ctx, p.ID(), params.DataType)
	if err != nil {
		return store.MedianEntry{}, 0, err
	}
	if requireFreshness && params.AtTime.Sub(latest) > e.freshnessThreshold {
		return store.MedianEntry{}, 0, store.ErrNoData
	}

	q := store.AggregateQuery{
		Pair:     p.ID(),
		Interval: params.Interval,
		AtTime:   params.AtTime,
		Mode:     params.Mode,
		DataType: params.DataType,
		Expiry:   params.Expiry,
	}
	entry, err := e.reader.LatestBucket(ctx, q)
	if err != nil {
		return store.MedianEntry{}, 0, err
	}

	decimals, err := e.reader.Decimals(ctx, p.ID())
	if err != nil {
		decimals = DefaultDecimals
	}
	return entry, decimals, nil
}

// routeThroughAbstractCurrencies implements §4.E step 2: rebase through the
// first abstract currency for which both legs have direct data.
func (e *Engine) routeThroughAbstractCurrencies(ctx context.Context, p pair.Pair, params Params) (store.MedianEntry, int, error) {
	var attempts []string

	for _, candidate := range e.abstractCurrencies {
		basePair := pair.New(p.Base, candidate)
		quotePair := pair.New(p.Quote, candidate)

		baseEntry, baseDecimals, err := e.direct(ctx, basePair, params, true)
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: base leg %s unavailable (%v)", candidate, basePair.ID(), err))
			continue
		}
		quoteEntry, quoteDecimals, err := e.direct(ctx, quotePair, params, true)
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: quote leg %s unavailable (%v)", candidate, quotePair.ID(), err))
			continue
		}

		rebased, decimals, err := Rebase(baseEntry, baseDecimals, quoteEntry, quoteDecimals)
		if err != nil {
			return store.MedianEntry{}, 0, err
		}

		numSources := baseEntry.NumSources
		if quoteEntry.NumSources > numSources {
			numSources = quoteEntry.NumSources
		}
		t := baseEntry.Time
		if quoteEntry.Time.After(t) {
			t = quoteEntry.Time
		}

		result := store.MedianEntry{Time: t, MedianPrice: rebased, NumSources: numSources}
		if params.WithComponents {
			result.Components = append(append([]store.Component{}, baseEntry.Components...), quoteEntry.Components...)
		}
		return result, decimals, nil
	}

	routingErr := &RoutingError{PairID: p.ID(), Attempts: attempts}
	return store.MedianEntry{}, 0, apierr.Wrap(apierr.KindRoutingError, fmt.Sprintf("no route found for pair %q", p.ID()), routingErr)
}

// Rebase folds two legs sharing an abstract quote currency into one price
// for the originally requested pair, per spec §4.E step 2: normalize both
// prices to d = max(d_base, d_quote) decimals, then
// rebased = base_price * 10^d / quote_price. Exported so the history engine
// can reuse it when pairwise-combining two ranged series (spec §4.F).
func Rebase(baseEntry store.MedianEntry, baseDecimals int, quoteEntry store.MedianEntry, quoteDecimals int) (decimal.Decimal, int, error) {
	d := baseDecimals
	if quoteDecimals > d {
		d = quoteDecimals
	}

	baseNorm := baseEntry.MedianPrice.Shift(int32(d - baseDecimals))
	quoteNorm := quoteEntry.MedianPrice.Shift(int32(d - quoteDecimals))

	if quoteNorm.IsZero() {
		return decimal.Decimal{}, 0, apierr.New(apierr.KindInternal, "routing: quote price is zero")
	}

	scale := decimal.New(1, int32(d))
	rebased := baseNorm.Mul(scale).Div(quoteNorm)
	return rebased, d, nil
}

// ComponentsResult is the return shape of GetPriceWithComponents, keyed by
// pair id.
type ComponentsResult map[string]store.MedianEntry

// componentsParams bounds the growing look-back search of §4.E's
// get_price_with_components.
const (
	componentsInitialLookback = 500 * time.Millisecond
	componentsLookbackStep    = 100 * time.Millisecond
	componentsLookbackCap     = 5 * time.Second
)

// GetPriceWithComponents implements §4.E's multi-pair streaming variant:
// starting from a small look-back window and growing it until either every
// requested pair has data from at least MinPublishers distinct publishers,
// or the cap is reached, in which case it returns an empty map and lets the
// caller (the websocket/SSE layer) decide policy.
func (e *Engine) GetPriceWithComponents(ctx context.Context, pairIDs []string, dataType store.DataType, minPublishers int, now time.Time) (ComponentsResult, error) {
	for lookback := componentsInitialLookback; lookback <= componentsLookbackCap; lookback += componentsLookbackStep {
		perPair, err := e.reader.LatestPerSource(ctx, pairIDs, dataType, lookback, now)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindUpstream, "looking up latest per-source rows", err)
		}

		result, satisfied := buildComponentsResult(pairIDs, perPair, minPublishers)
		if satisfied {
			return result, nil
		}
	}
	return ComponentsResult{}, nil
}

// buildComponentsResult computes the per-pair median over the latest price
// per (publisher, source) and reports whether every requested pair met the
// distinct-publisher threshold.
func buildComponentsResult(pairIDs []string, perPair map[string][]store.Component, minPublishers int) (ComponentsResult, bool) {
	result := make(ComponentsResult, len(pairIDs))

	for _, id := range pairIDs {
		components := perPair[id]
		if len(components) == 0 {
			return nil, false
		}

		distinctPublishers := make(map[string]struct{}, len(components))
		var latestTime time.Time
		prices := make([]decimal.Decimal, 0, len(components))
		for _, c := range components {
			distinctPublishers[c.Publisher] = struct{}{}
			prices = append(prices, c.Price)
			if c.Timestamp.After(latestTime) {
				latestTime = c.Timestamp
			}
		}
		if len(distinctPublishers) < minPublishers {
			return nil, false
		}

		result[id] = store.MedianEntry{
			Time:        latestTime,
			MedianPrice: median(prices),
			NumSources:  len(distinctPublishers),
			Components:  components,
		}
	}

	return result, true
}

// median returns the middle value of a decimal slice (average of the two
// middle values for an even-length slice), per spec §3's Median mode.
func median(values []decimal.Decimal) decimal.Decimal {
	sorted := append([]decimal.Decimal{}, values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].GreaterThan(sorted[j]); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}
