// Package postgres implements store.Writer and store.AggregateReader
// against a relational time-series store with materialized continuous
// aggregates, using database/sql and the lib/pq driver (the stack named by
// poaiw-blockchain-paw's go.mod and the 0x0Glitch-Oracle manifest in the
// retrieval pack). The persistence engine itself is an external
// collaborator per spec §1; this file only plumbs the SQL that §4.D/§4.E/
// §4.F/§4.I describe against it.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pragma-node/oracle-node/internal/store"
)

// Store wraps a *sql.DB configured with the lib/pq driver.
type Store struct {
	db *sql.DB
}

// Open connects to dsn (a postgres:// URL) and verifies it's reachable.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func rawTable(dt store.DataType) string {
	switch dt {
	case store.DataTypeFuture, store.DataTypePerp:
		return "future_entry"
	default:
		return "spot_entry"
	}
}

func aggView(mode store.AggregationMode, dt store.DataType, interval time.Duration) string {
	prefix := "price"
	if mode == store.AggregationTwap {
		prefix = "twap"
	}
	suffix := ""
	if dt == store.DataTypeFuture || dt == store.DataTypePerp {
		suffix = "_future"
	}
	return fmt.Sprintf("%s_%s_agg%s", prefix, bucketLabel(interval), suffix)
}

func bucketLabel(interval time.Duration) string {
	switch {
	case interval%time.Hour == 0:
		return fmt.Sprintf("%dh", int(interval/time.Hour))
	case interval%time.Minute == 0:
		return fmt.Sprintf("%dm", int(interval/time.Minute))
	default:
		return fmt.Sprintf("%ds", int(interval/time.Second))
	}
}

// UpsertRows implements store.Writer: one statement per flush tick, keyed
// by the per-type uniqueness key from spec §3, updating all mutable
// columns on conflict.
func (s *Store) UpsertRows(ctx context.Context, dataType store.DataType, rows []store.Row) error {
	if len(rows) == 0 {
		return nil
	}
	table := rawTable(dataType)
	isFuture := dataType == store.DataTypeFuture || dataType == store.DataTypePerp

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	var stmt *sql.Stmt
	if isFuture {
		stmt, err = tx.PrepareContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (pair_id, publisher, source, timestamp, price, volume, signature, expiration_timestamp)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (pair_id, source, timestamp, expiration_timestamp)
			DO UPDATE SET publisher = EXCLUDED.publisher, price = EXCLUDED.price,
			              volume = EXCLUDED.volume, signature = EXCLUDED.signature
		`, table))
	} else {
		stmt, err = tx.PrepareContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (pair_id, publisher, source, timestamp, price, volume, signature)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (pair_id, source, timestamp)
			DO UPDATE SET publisher = EXCLUDED.publisher, price = EXCLUDED.price,
			              volume = EXCLUDED.volume, signature = EXCLUDED.signature
		`, table))
	}
	if err != nil {
		return fmt.Errorf("postgres: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		var execErr error
		if isFuture {
			_, execErr = stmt.ExecContext(ctx, r.PairID, r.Publisher, r.Source, r.Timestamp, r.Price, r.Volume, r.Signature, r.Expiration)
		} else {
			_, execErr = stmt.ExecContext(ctx, r.PairID, r.Publisher, r.Source, r.Timestamp, r.Price, r.Volume, r.Signature)
		}
		if execErr != nil {
			return fmt.Errorf("postgres: upsert row for %s/%s: %w", r.PairID, r.Source, execErr)
		}
	}
	return tx.Commit()
}

// LatestBucket implements store.AggregateReader.
func (s *Store) LatestBucket(ctx context.Context, q store.AggregateQuery) (store.MedianEntry, error) {
	view := aggView(q.Mode, q.DataType, q.Interval)
	query := fmt.Sprintf(`
		SELECT bucket, median_price, num_sources FROM %s
		WHERE pair_id = $1 AND bucket <= $2
	`, view)
	args := []any{q.Pair, q.AtTime}
	if q.DataType == store.DataTypeFuture || q.DataType == store.DataTypePerp {
		if q.Expiry == nil {
			query += " AND expiration_timestamp IS NULL"
		} else {
			query += " AND expiration_timestamp = $3"
			args = append(args, *q.Expiry)
		}
	}
	query += " ORDER BY bucket DESC LIMIT 1"

	row := s.db.QueryRowContext(ctx, query, args...)
	var entry store.MedianEntry
	var priceStr string
	if err := row.Scan(&entry.Time, &priceStr, &entry.NumSources); err != nil {
		if err == sql.ErrNoRows {
			return store.MedianEntry{}, store.ErrNoData
		}
		return store.MedianEntry{}, fmt.Errorf("postgres: latest bucket: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return store.MedianEntry{}, fmt.Errorf("postgres: parsing price: %w", err)
	}
	entry.MedianPrice = price
	return entry, nil
}

// RangeBuckets implements store.AggregateReader.
func (s *Store) RangeBuckets(ctx context.Context, pairID string, dataType store.DataType, mode store.AggregationMode, interval time.Duration, from, to time.Time) ([]store.MedianEntry, error) {
	view := aggView(mode, dataType, interval)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT bucket, median_price, num_sources FROM %s
		WHERE pair_id = $1 AND bucket BETWEEN $2 AND $3
		ORDER BY bucket ASC
	`, view), pairID, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: range buckets: %w", err)
	}
	defer rows.Close()

	var out []store.MedianEntry
	for rows.Next() {
		var e store.MedianEntry
		var priceStr string
		if err := rows.Scan(&e.Time, &priceStr, &e.NumSources); err != nil {
			return nil, fmt.Errorf("postgres: scanning bucket: %w", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("postgres: parsing price: %w", err)
		}
		e.MedianPrice = price
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestRowTimestamp implements store.AggregateReader.
func (s *Store) LatestRowTimestamp(ctx context.Context, pairID string, dataType store.DataType) (time.Time, error) {
	table := rawTable(dataType)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(timestamp) FROM %s WHERE pair_id = $1`, table), pairID)
	var ts sql.NullTime
	if err := row.Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("postgres: latest row timestamp: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, store.ErrNoData
	}
	return ts.Time, nil
}

// LatestPerSource implements store.AggregateReader.
func (s *Store) LatestPerSource(ctx context.Context, pairIDs []string, dataType store.DataType, lookback time.Duration, now time.Time) (map[string][]store.Component, error) {
	if len(pairIDs) == 0 {
		return map[string][]store.Component{}, nil
	}
	table := rawTable(dataType)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT ON (pair_id, publisher, source)
		       pair_id, publisher, source, price, timestamp, signature
		FROM %s
		WHERE pair_id = ANY($1) AND timestamp BETWEEN $2 AND $3
		ORDER BY pair_id, publisher, source, timestamp DESC
	`, table), stringArray(pairIDs), now.Add(-lookback), now)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest per source: %w", err)
	}
	defer rows.Close()

	out := map[string][]store.Component{}
	for rows.Next() {
		var c store.Component
		var source, priceStr string
		if err := rows.Scan(&c.PairID, &c.Publisher, &source, &priceStr, &c.Timestamp, &c.PublisherSignature); err != nil {
			return nil, fmt.Errorf("postgres: scanning component: %w", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("postgres: parsing price: %w", err)
		}
		c.Price = price
		out[c.PairID] = append(out[c.PairID], c)
	}
	return out, rows.Err()
}

// Decimals implements store.AggregateReader.
func (s *Store) Decimals(ctx context.Context, pairID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT LEAST(b.decimals, q.decimals)
		FROM currencies b, currencies q, pairs p
		WHERE p.id = $1 AND p.base = b.symbol AND p.quote = q.symbol
	`, pairID)
	var decimals int
	if err := row.Scan(&decimals); err != nil {
		if err == sql.ErrNoRows {
			return 0, store.ErrNoData
		}
		return 0, fmt.Errorf("postgres: decimals: %w", err)
	}
	return decimals, nil
}

// OHLC implements store.AggregateReader.
func (s *Store) OHLC(ctx context.Context, pairID string, dataType store.DataType, interval time.Duration, from, to time.Time) ([]store.OHLCEntry, error) {
	table := fmt.Sprintf("ohlc_%s_agg", bucketLabel(interval))
	if dataType == store.DataTypeFuture || dataType == store.DataTypePerp {
		table += "_future"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT bucket, open, high, low, close FROM %s
		WHERE pair_id = $1 AND bucket BETWEEN $2 AND $3
		ORDER BY bucket ASC
	`, table), pairID, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: ohlc: %w", err)
	}
	defer rows.Close()

	var out []store.OHLCEntry
	for rows.Next() {
		var e store.OHLCEntry
		var o, h, l, c string
		if err := rows.Scan(&e.Time, &o, &h, &l, &c); err != nil {
			return nil, fmt.Errorf("postgres: scanning ohlc: %w", err)
		}
		e.Open, _ = decimal.NewFromString(o)
		e.High, _ = decimal.NewFromString(h)
		e.Low, _ = decimal.NewFromString(l)
		e.Close, _ = decimal.NewFromString(c)
		out = append(out, e)
	}
	return out, rows.Err()
}

// KnownPairs implements store.AggregateReader.
func (s *Store) KnownPairs(ctx context.Context, dataType store.DataType) (map[string]bool, error) {
	table := rawTable(dataType)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT pair_id FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("postgres: known pairs: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scanning pair id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// FutureExpiries implements store.AggregateReader.
func (s *Store) FutureExpiries(ctx context.Context, pairID string) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT expiration_timestamp FROM future_entry
		WHERE pair_id = $1 AND expiration_timestamp IS NOT NULL
		ORDER BY expiration_timestamp ASC
	`, pairID)
	if err != nil {
		return nil, fmt.Errorf("postgres: future expiries: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("postgres: scanning expiry: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// stringArray renders a Go string slice as a Postgres text array literal
// recognized by lib/pq's ANY($1) binding.
func stringArray(ss []string) string {
	out := "{"
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += `"` + s + `"`
	}
	return out + "}"
}
