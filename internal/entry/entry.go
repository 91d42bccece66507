// Package entry defines the wire and storage shapes for spot and future
// price observations (spec §3) and the timestamp-unit heuristic the
// original pragma-node applies at ingress (spec §9, SPEC_FULL §12).
package entry

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Base carries the fields common to both entry kinds before persistence.
type Base struct {
	Publisher string
	Source    string
	Timestamp time.Time
}

// Spot is one accepted spot-market observation. Uniqueness key in the
// store is (PairID, Source, Timestamp); conflicting inserts upsert.
type Spot struct {
	PairID    string
	Publisher string
	Source    string
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Signature string
}

// Future is a Spot plus an optional expiration. A nil Expiration means
// perpetual, per spec §3.
type Future struct {
	Spot
	Expiration *time.Time
}

// IsPerp reports whether this row represents a perpetual future.
func (f Future) IsPerp() bool { return f.Expiration == nil }

// maxSecondsDigits is the decimal-digit threshold the original pragma-node
// uses to distinguish a unix-seconds timestamp from a unix-milliseconds
// one: any value with 13 or more digits is milliseconds (SPEC_FULL §12).
const maxSecondsDigits = 13

// digitCount returns the number of base-10 digits in the absolute value of n.
func digitCount(n int64) int {
	if n < 0 {
		n = -n
	}
	if n == 0 {
		return 1
	}
	return int(math.Log10(float64(n))) + 1
}

// NormalizeTimestamp converts a raw integer timestamp field to a UTC time,
// heuristically treating 13+-digit values as milliseconds and everything
// else as seconds, per spec §4.C step 6 and SPEC_FULL §12.
func NormalizeTimestamp(raw int64) (time.Time, error) {
	if raw < 0 {
		return time.Time{}, fmt.Errorf("entry: timestamp %d is negative", raw)
	}
	if digitCount(raw) >= maxSecondsDigits {
		return time.UnixMilli(raw).UTC(), nil
	}
	return time.Unix(raw, 0).UTC(), nil
}

// NormalizeExpiration converts a future's expiration_timestamp, always read
// as milliseconds (no digit-count heuristic), and treats the spec §3
// sentinel value 0 as "absent" (perpetual) rather than as an epoch timestamp.
func NormalizeExpiration(rawMs int64) (*time.Time, error) {
	if rawMs == 0 {
		return nil, nil
	}
	if rawMs < 0 {
		return nil, fmt.Errorf("entry: expiration_timestamp %d is negative", rawMs)
	}
	t := time.UnixMilli(rawMs).UTC()
	return &t, nil
}

// ValidateNotFuture rejects an entry timestamp that is ahead of wall clock,
// per spec §3 invariant "timestamp must be ≤ wall-clock now".
func ValidateNotFuture(ts, now time.Time) error {
	if ts.After(now) {
		return fmt.Errorf("entry: timestamp %s is after server time %s", ts, now)
	}
	return nil
}
