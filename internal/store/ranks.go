package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/captrack/internal/marketdata"
)

// RankStore persists daily ranking snapshots in the ranks table and serves
// the point/range reads the query engine needs. Writes replace whole date
// ranges atomically so re-running an ingestion is idempotent.
type RankStore struct {
	pool *pgxpool.Pool
}

// NewRankStore creates a new rank store.
func NewRankStore(pool *pgxpool.Pool) *RankStore {
	return &RankStore{pool: pool}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ranks (
	as_of_date  date NOT NULL,
	symbol      text NOT NULL,
	market_cap  double precision,
	price       double precision,
	rank        integer,
	captured_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (as_of_date, symbol)
);
CREATE INDEX IF NOT EXISTS idx_ranks_date_rank ON ranks (as_of_date, rank);
CREATE INDEX IF NOT EXISTS idx_ranks_symbol ON ranks (symbol);
CREATE TABLE IF NOT EXISTS ranks_meta (
	id         smallint PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	updated_at timestamptz NOT NULL DEFAULT now()
);
INSERT INTO ranks_meta (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
`

// EnsureSchema creates the ranks table, its indexes and the meta row.
func (s *RankStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure ranks schema: %w", err)
	}
	return nil
}

// Replace atomically swaps the stored rows for the date span covered by
// rows: within one transaction it deletes every row whose as_of_date falls
// in [min(rows), max(rows)], inserts rows, and bumps the last-modified
// marker. Dates outside the span are untouched. Returns the inserted count.
func (s *RankStore) Replace(ctx context.Context, rows []marketdata.RankRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	minDate, maxDate := rows[0].AsOfDate, rows[0].AsOfDate
	for _, r := range rows[1:] {
		if r.AsOfDate.Before(minDate) {
			minDate = r.AsOfDate
		}
		if r.AsOfDate.After(maxDate) {
			maxDate = r.AsOfDate
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin replace tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM ranks WHERE as_of_date BETWEEN $1 AND $2`,
		minDate, maxDate,
	); err != nil {
		return 0, fmt.Errorf("delete date range: %w", err)
	}

	inserted, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"ranks"},
		[]string{"as_of_date", "symbol", "market_cap", "price", "rank"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.AsOfDate, r.Symbol, r.MarketCap, r.Price, r.Rank}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("insert rank rows: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ranks_meta SET updated_at = now() WHERE id = 1`,
	); err != nil {
		return 0, fmt.Errorf("bump last-modified marker: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit replace tx: %w", err)
	}
	return inserted, nil
}

// LastModified returns the store's freshness marker. The marker changes on
// every successful Replace, so cache keys derived from it expire together
// with the data. A store that has never been written reports the zero time.
func (s *RankStore) LastModified(ctx context.Context) (time.Time, error) {
	var updatedAt *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(updated_at) FROM ranks_meta`).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("read last-modified marker: %w", err)
	}
	if updatedAt == nil {
		return time.Time{}, nil
	}
	return *updatedAt, nil
}

// LatestDate returns the most recent as_of_date. ok is false on an empty
// store.
func (s *RankStore) LatestDate(ctx context.Context) (time.Time, bool, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(as_of_date) FROM ranks`).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query latest date: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return marketdata.NormalizeDate(*latest), true, nil
}

// SnapshotAt returns the rows for one date with rank <= limit, ordered by
// rank ascending.
func (s *RankStore) SnapshotAt(ctx context.Context, date time.Time, limit int) ([]marketdata.RankRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT as_of_date, symbol, market_cap, price, rank
		FROM ranks
		WHERE as_of_date = $1 AND rank <= $2
		ORDER BY rank ASC
	`, date, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	return scanRankRows(rows)
}

// HistoryOf returns up to maxDays most recent rows for symbol, oldest first.
func (s *RankStore) HistoryOf(ctx context.Context, symbol string, maxDays int) ([]marketdata.RankRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT as_of_date, symbol, market_cap, price, rank
		FROM ranks
		WHERE symbol = $1
		ORDER BY as_of_date DESC
		LIMIT $2
	`, symbol, maxDays)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out, err := scanRankRows(rows)
	if err != nil {
		return nil, err
	}

	// Reverse chronological to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RecentDates returns the most recent `days` distinct as_of_date values in
// ascending order.
func (s *RankStore) RecentDates(ctx context.Context, days int) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT as_of_date
		FROM ranks
		ORDER BY as_of_date DESC
		LIMIT $1
	`, days)
	if err != nil {
		return nil, fmt.Errorf("query recent dates: %w", err)
	}
	defer rows.Close()

	return scanDatesAscending(rows)
}

// EventDates returns the distinct dates used for event diffing in ascending
// order. A nil days means all dates; otherwise the most recent days plus one
// prior date so the first comparison has context.
func (s *RankStore) EventDates(ctx context.Context, days *int) ([]time.Time, error) {
	if days == nil {
		rows, err := s.pool.Query(ctx, `
			SELECT DISTINCT as_of_date FROM ranks ORDER BY as_of_date ASC
		`)
		if err != nil {
			return nil, fmt.Errorf("query event dates: %w", err)
		}
		defer rows.Close()
		return scanDates(rows)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT as_of_date
		FROM ranks
		ORDER BY as_of_date DESC
		LIMIT $1
	`, *days+1)
	if err != nil {
		return nil, fmt.Errorf("query event dates: %w", err)
	}
	defer rows.Close()

	return scanDatesAscending(rows)
}

// TimelineRows returns rows with rank <= limit for every date in
// [from, to], ordered by date then rank.
func (s *RankStore) TimelineRows(ctx context.Context, from, to time.Time, limit int) ([]marketdata.RankRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT as_of_date, symbol, market_cap, price, rank
		FROM ranks
		WHERE as_of_date >= $1 AND as_of_date <= $2 AND rank <= $3
		ORDER BY as_of_date ASC, rank ASC
	`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query timeline rows: %w", err)
	}
	defer rows.Close()

	return scanRankRows(rows)
}

// RankMaps returns, for each distinct date in [from, to], the symbol->rank
// mapping restricted to rank <= maxRank. The two-level map is built per
// query and discarded with the response.
func (s *RankStore) RankMaps(ctx context.Context, from, to time.Time, maxRank int) (map[time.Time]map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT as_of_date, symbol, rank
		FROM ranks
		WHERE as_of_date >= $1 AND as_of_date <= $2 AND rank <= $3
		ORDER BY as_of_date ASC, rank ASC
	`, from, to, maxRank)
	if err != nil {
		return nil, fmt.Errorf("query rank maps: %w", err)
	}
	defer rows.Close()

	out := make(map[time.Time]map[string]int)
	for rows.Next() {
		var date time.Time
		var symbol string
		var rank int
		if err := rows.Scan(&date, &symbol, &rank); err != nil {
			return nil, fmt.Errorf("scan rank map row: %w", err)
		}
		date = marketdata.NormalizeDate(date)
		m, ok := out[date]
		if !ok {
			m = make(map[string]int)
			out[date] = m
		}
		m[symbol] = rank
	}
	return out, rows.Err()
}

func scanRankRows(rows pgx.Rows) ([]marketdata.RankRow, error) {
	var out []marketdata.RankRow
	for rows.Next() {
		var r marketdata.RankRow
		if err := rows.Scan(&r.AsOfDate, &r.Symbol, &r.MarketCap, &r.Price, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan rank row: %w", err)
		}
		r.AsOfDate = marketdata.NormalizeDate(r.AsOfDate)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanDates(rows pgx.Rows) ([]time.Time, error) {
	var out []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		out = append(out, marketdata.NormalizeDate(d))
	}
	return out, rows.Err()
}

func scanDatesAscending(rows pgx.Rows) ([]time.Time, error) {
	out, err := scanDates(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
