// Package store defines the interfaces the aggregation, history, buffered
// writer and on-chain view components use to talk to the persistence
// engine. The engine itself (a relational time-series store with
// materialized continuous aggregates) is an external collaborator per spec
// §1; this package only fixes the shape of the conversation.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DataType distinguishes the three instrument classes of spec §4.E.
type DataType string

const (
	DataTypeSpot   DataType = "spot"
	DataTypeFuture DataType = "future"
	DataTypePerp   DataType = "perp"
)

// AggregationMode is the computation applied over per-source entries.
type AggregationMode string

const (
	AggregationMedian AggregationMode = "median"
	AggregationTwap   AggregationMode = "twap"
)

// Row is a single persisted observation, the unit the buffered writer
// upserts (spec §4.D) and entries queries return.
type Row struct {
	PairID     string
	Publisher  string
	Source     string
	Timestamp  time.Time
	Price      decimal.Decimal
	Volume     decimal.Decimal
	Signature  string
	Expiration *time.Time // nil for spot rows and perpetual futures
}

// Key is the per-type uniqueness key from spec §3: (pair_id, source,
// timestamp) for spot, plus expiration_timestamp for futures.
type Key struct {
	PairID     string
	Source     string
	Timestamp  time.Time
	Expiration *time.Time
}

func (r Row) Key() Key {
	return Key{PairID: r.PairID, Source: r.Source, Timestamp: r.Timestamp, Expiration: r.Expiration}
}

// Component is one per-source contribution to a MedianEntry, carried
// through to the re-signing path (spec §3, §4.E).
type Component struct {
	PairID             string
	Price              decimal.Decimal
	Timestamp          time.Time
	Publisher          string
	PublisherAddress   string
	PublisherSignature string
}

// MedianEntry is the aggregation result described in spec §3.
type MedianEntry struct {
	Time        time.Time
	MedianPrice decimal.Decimal
	NumSources  int
	Components  []Component // optional, populated only when requested
}

// OHLCEntry is a read-only bucket produced upstream (spec §3).
type OHLCEntry struct {
	Time  time.Time
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// Writer is implemented by the buffered writer's flush target (spec §4.D):
// one upsert call per flush tick, per instrument type.
type Writer interface {
	UpsertRows(ctx context.Context, dataType DataType, rows []Row) error
}

// AggregateQuery parameters select one continuous-aggregate view, per
// spec §4.E.
type AggregateQuery struct {
	Pair     string
	Interval time.Duration
	AtTime   time.Time
	Mode     AggregationMode
	DataType DataType
	Expiry   *time.Time // nil selects perpetual for future/perp types
}

// AggregateReader is implemented against the continuous-aggregate views
// (spec §4.E, §4.F): "most recent bucket at or before AtTime".
type AggregateReader interface {
	// LatestBucket returns the most recent aggregated price at or before
	// q.AtTime, or ErrNoData if the pair has no data in the relevant view.
	LatestBucket(ctx context.Context, q AggregateQuery) (MedianEntry, error)

	// RangeBuckets returns ascending-time buckets within [from, to] for the
	// given interval/mode/type (spec §4.F).
	RangeBuckets(ctx context.Context, pairID string, dataType DataType, mode AggregationMode, interval time.Duration, from, to time.Time) ([]MedianEntry, error)

	// LatestRowTimestamp returns the most recent raw-row timestamp for a
	// pair in the given instrument table, used by §4.E's freshness check.
	// Returns ErrNoData if the pair has no rows at all.
	LatestRowTimestamp(ctx context.Context, pairID string, dataType DataType) (time.Time, error)

	// LatestPerSource returns, for each requested pair, the most recent row
	// per (publisher, source) within the look-back window ending at now,
	// used by §4.E's get_price_with_components.
	LatestPerSource(ctx context.Context, pairIDs []string, dataType DataType, lookback time.Duration, now time.Time) (map[string][]Component, error)

	// Decimals returns min(base.decimals, quote.decimals) for a pair, or
	// ErrNoData if the pair's currencies aren't registered (callers then
	// default to 8 per spec §4.E.3).
	Decimals(ctx context.Context, pairID string) (int, error)

	// OHLC returns OHLC buckets within [from, to] at the given interval.
	OHLC(ctx context.Context, pairID string, dataType DataType, interval time.Duration, from, to time.Time) ([]OHLCEntry, error)

	// KnownPairs lists the pair ids that have any data for dataType, used
	// by the websocket core to filter subscribe requests (spec §4.H).
	KnownPairs(ctx context.Context, dataType DataType) (map[string]bool, error)

	// FutureExpiries lists the distinct non-null expiration timestamps
	// stored for pairID (SPEC_FULL §12).
	FutureExpiries(ctx context.Context, pairID string) ([]time.Time, error)
}

// ErrNoData indicates the requested pair/interval/type has no rows; callers
// distinguish this from a transport-level error to decide whether to
// attempt routing (spec §4.E) or return 404 (spec §7).
var ErrNoData = dataErr("store: no data")

type dataErr string

func (e dataErr) Error() string { return string(e) }
