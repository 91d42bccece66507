package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pragma-node/oracle-node/internal/onchain"
)

// LastPrice implements onchain.Repository: the aggregated price over the
// source rows within lookback of now, plus the rows themselves, per §4.I.
func (s *Store) LastPrice(ctx context.Context, pairID string, mode onchain.LastPriceMode, lookback time.Duration) (onchain.LastPrice, error) {
	agg := "PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY price)"
	if mode == onchain.LastPriceMean {
		agg = "AVG(price)"
	}

	since := time.Now().Add(-lookback)
	var aggregated sql.NullFloat64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM onchain_source_price
		WHERE pair_id = $1 AND timestamp >= $2
	`, agg), pairID, since).Scan(&aggregated)
	if err != nil {
		return onchain.LastPrice{}, fmt.Errorf("postgres: onchain last price for %s: %w", pairID, err)
	}
	if !aggregated.Valid {
		return onchain.LastPrice{}, fmt.Errorf("postgres: no onchain source rows for %s", pairID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, price, timestamp FROM onchain_source_price
		WHERE pair_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
	`, pairID, since)
	if err != nil {
		return onchain.LastPrice{}, fmt.Errorf("postgres: onchain source rows for %s: %w", pairID, err)
	}
	defer rows.Close()

	result := onchain.LastPrice{PairID: pairID, Price: decimal.NewFromFloat(aggregated.Float64)}

	for rows.Next() {
		var sr onchain.SourceRow
		if err := rows.Scan(&sr.Source, &sr.Price, &sr.Timestamp); err != nil {
			return onchain.LastPrice{}, fmt.Errorf("postgres: scanning onchain source row: %w", err)
		}
		result.Sources = append(result.Sources, sr)
	}
	return result, rows.Err()
}

// Checkpoints implements onchain.Repository: checkpoints for pairID
// descending by timestamp, capped at limit.
func (s *Store) Checkpoints(ctx context.Context, pairID string, limit int) ([]onchain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair_id, price, timestamp, tx_hash FROM onchain_checkpoint
		WHERE pair_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, pairID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: onchain checkpoints for %s: %w", pairID, err)
	}
	defer rows.Close()

	var out []onchain.Checkpoint
	for rows.Next() {
		var c onchain.Checkpoint
		if err := rows.Scan(&c.PairID, &c.Price, &c.Timestamp, &c.TxHash); err != nil {
			return nil, fmt.Errorf("postgres: scanning onchain checkpoint: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// History implements onchain.Repository: ascending checkpoints within
// [from, to], or onchain.ErrNoHistory when pairID has none.
func (s *Store) History(ctx context.Context, pairID string, from, to time.Time) ([]onchain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair_id, price, timestamp, tx_hash FROM onchain_checkpoint
		WHERE pair_id = $1 AND timestamp BETWEEN $2 AND $3
		ORDER BY timestamp ASC
	`, pairID, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: onchain history for %s: %w", pairID, err)
	}
	defer rows.Close()

	var out []onchain.Checkpoint
	for rows.Next() {
		var c onchain.Checkpoint
		if err := rows.Scan(&c.PairID, &c.Price, &c.Timestamp, &c.TxHash); err != nil {
			return nil, fmt.Errorf("postgres: scanning onchain history row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, onchain.ErrNoHistory
	}
	return out, nil
}

// Publishers implements onchain.Repository: one row per publisher active
// within since, with its per-(pair,source) last contribution.
func (s *Store) Publishers(ctx context.Context, since time.Duration) ([]onchain.PublisherStats, error) {
	cutoff := time.Now().Add(-since)
	rows, err := s.db.QueryContext(ctx, `
		SELECT publisher, nb_feeds, daily_updates, total_updates
		FROM publisher_feed_stats
		WHERE last_timestamp >= $1
		ORDER BY publisher
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: publisher leaderboard: %w", err)
	}
	defer rows.Close()

	var stats []onchain.PublisherStats
	for rows.Next() {
		var p onchain.PublisherStats
		if err := rows.Scan(&p.Publisher, &p.NbFeeds, &p.DailyUpdates, &p.TotalUpdates); err != nil {
			return nil, fmt.Errorf("postgres: scanning publisher stats: %w", err)
		}
		p.LastRows = map[string]onchain.SourceRow{}
		stats = append(stats, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range stats {
		lastRows, err := s.db.QueryContext(ctx, `
			SELECT pair_id, source, price, timestamp FROM publisher_last_feed
			WHERE publisher = $1
		`, stats[i].Publisher)
		if err != nil {
			return nil, fmt.Errorf("postgres: last feed rows for %s: %w", stats[i].Publisher, err)
		}
		for lastRows.Next() {
			var pairID string
			var sr onchain.SourceRow
			if err := lastRows.Scan(&pairID, &sr.Source, &sr.Price, &sr.Timestamp); err != nil {
				lastRows.Close()
				return nil, fmt.Errorf("postgres: scanning last feed row: %w", err)
			}
			stats[i].LastRows[pairID+":"+sr.Source] = sr
		}
		if err := lastRows.Err(); err != nil {
			lastRows.Close()
			return nil, err
		}
		lastRows.Close()
	}

	return stats, nil
}

// GetDecimals implements onchain.DecimalsProvider over the oracle
// contract's get_decimals view function for network, via the same
// database/sql connection (the JSON-RPC node is fronted by a materialized
// view refreshed out of band; direct chain RPC is out of scope for this
// package, matching store's role as the query-side collaborator).
func (s *Store) GetDecimals(ctx context.Context, network, pairID string) (int, error) {
	var decimals int
	err := s.db.QueryRowContext(ctx, `
		SELECT decimals FROM oracle_contract_decimals
		WHERE network = $1 AND pair_id = $2
	`, network, pairID).Scan(&decimals)
	if err != nil {
		return 0, fmt.Errorf("postgres: get_decimals(%s, %s): %w", network, pairID, err)
	}
	return decimals, nil
}
