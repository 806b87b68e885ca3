package query

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/captrack/internal/cache"
	"github.com/wonny/captrack/internal/marketdata"
	"github.com/wonny/captrack/pkg/logger"
)

// fakeStore is an in-memory RankReader over a flat row slice.
type fakeStore struct {
	rows     []marketdata.RankRow
	modified time.Time
	calls    int
}

func (f *fakeStore) LastModified(context.Context) (time.Time, error) {
	return f.modified, nil
}

func (f *fakeStore) LatestDate(context.Context) (time.Time, bool, error) {
	f.calls++
	var latest time.Time
	for _, r := range f.rows {
		if r.AsOfDate.After(latest) {
			latest = r.AsOfDate
		}
	}
	if latest.IsZero() {
		return time.Time{}, false, nil
	}
	return latest, true, nil
}

func (f *fakeStore) SnapshotAt(_ context.Context, date time.Time, limit int) ([]marketdata.RankRow, error) {
	f.calls++
	var out []marketdata.RankRow
	for _, r := range f.rows {
		if r.AsOfDate.Equal(date) && r.Rank <= limit {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (f *fakeStore) HistoryOf(_ context.Context, symbol string, maxDays int) ([]marketdata.RankRow, error) {
	f.calls++
	var out []marketdata.RankRow
	for _, r := range f.rows {
		if r.Symbol == symbol {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AsOfDate.Before(out[j].AsOfDate) })
	if len(out) > maxDays {
		out = out[len(out)-maxDays:]
	}
	return out, nil
}

func (f *fakeStore) distinctDates() []time.Time {
	seen := map[time.Time]bool{}
	var out []time.Time
	for _, r := range f.rows {
		if !seen[r.AsOfDate] {
			seen[r.AsOfDate] = true
			out = append(out, r.AsOfDate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (f *fakeStore) RecentDates(_ context.Context, days int) ([]time.Time, error) {
	f.calls++
	dates := f.distinctDates()
	if len(dates) > days {
		dates = dates[len(dates)-days:]
	}
	return dates, nil
}

func (f *fakeStore) EventDates(_ context.Context, days *int) ([]time.Time, error) {
	f.calls++
	dates := f.distinctDates()
	if days != nil && len(dates) > *days+1 {
		dates = dates[len(dates)-(*days+1):]
	}
	return dates, nil
}

func (f *fakeStore) TimelineRows(_ context.Context, from, to time.Time, limit int) ([]marketdata.RankRow, error) {
	f.calls++
	var out []marketdata.RankRow
	for _, r := range f.rows {
		if !r.AsOfDate.Before(from) && !r.AsOfDate.After(to) && r.Rank <= limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) RankMaps(_ context.Context, from, to time.Time, maxRank int) (map[time.Time]map[string]int, error) {
	f.calls++
	out := map[time.Time]map[string]int{}
	for _, r := range f.rows {
		if r.AsOfDate.Before(from) || r.AsOfDate.After(to) || r.Rank > maxRank {
			continue
		}
		m, ok := out[r.AsOfDate]
		if !ok {
			m = map[string]int{}
			out[r.AsOfDate] = m
		}
		m[r.Symbol] = r.Rank
	}
	return out, nil
}

// fakeNames echoes the symbol with a prefix so name wiring is observable.
type fakeNames struct{}

func (fakeNames) DisplayName(symbol, fallback string) string { return "name:" + symbol }

func day(n int) time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func row(d time.Time, symbol string, capVal float64, rank int) marketdata.RankRow {
	return marketdata.RankRow{AsOfDate: d, Symbol: symbol, MarketCap: capVal, Price: 100, Rank: rank}
}

func newEngine(rows []marketdata.RankRow) (*Engine, *fakeStore) {
	store := &fakeStore{rows: rows, modified: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	c := cache.New(time.Minute, 64, time.Now)
	return NewEngine(store, fakeNames{}, c, logger.NewNop()), store
}

func TestLatestSnapshot(t *testing.T) {
	eng, _ := newEngine([]marketdata.RankRow{
		row(day(0), "OLD", 500, 1),
		row(day(1), "AAA", 300, 1),
		row(day(1), "BBB", 200, 2),
		row(day(1), "CCC", 100, 3),
	})

	snap, err := eng.LatestSnapshot(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, day(1).Format("2006-01-02"), snap.AsOfDate)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, "AAA", snap.Rows[0].Symbol)
	assert.Equal(t, "name:AAA", snap.Rows[0].Name)
	assert.Equal(t, 1, snap.Rows[0].Rank)
	assert.Equal(t, "BBB", snap.Rows[1].Symbol)
}

func TestLatestSnapshotEmptyStore(t *testing.T) {
	eng, _ := newEngine(nil)

	_, err := eng.LatestSnapshot(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLatestSnapshotCached(t *testing.T) {
	eng, store := newEngine([]marketdata.RankRow{row(day(1), "AAA", 300, 1)})

	_, err := eng.LatestSnapshot(context.Background(), 10)
	require.NoError(t, err)
	firstCalls := store.calls

	_, err = eng.LatestSnapshot(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, firstCalls, store.calls, "second call should be served from cache")

	// A store write moves the freshness marker and invalidates the key.
	store.modified = store.modified.Add(time.Minute)
	_, err = eng.LatestSnapshot(context.Background(), 10)
	require.NoError(t, err)
	assert.Greater(t, store.calls, firstCalls)
}

func TestValidationRejectedBeforeStoreAccess(t *testing.T) {
	eng, store := newEngine([]marketdata.RankRow{row(day(1), "AAA", 300, 1)})
	ctx := context.Background()
	all := (*int)(nil)

	cases := []struct {
		name string
		call func() error
	}{
		{"limit too low", func() error { _, err := eng.LatestSnapshot(ctx, 0); return err }},
		{"limit too high", func() error { _, err := eng.LatestSnapshot(ctx, 261); return err }},
		{"history days too low", func() error { _, err := eng.RankHistory(ctx, "AAA", 0); return err }},
		{"history days too high", func() error { _, err := eng.RankHistory(ctx, "AAA", 5476); return err }},
		{"empty symbol", func() error { _, err := eng.RankHistory(ctx, "   ", 10); return err }},
		{"timeline days too low", func() error { _, err := eng.Timeline(ctx, 10, 1); return err }},
		{"timeline days too high", func() error { _, err := eng.Timeline(ctx, 10, 5476); return err }},
		{"events days too low", func() error { d := 1; _, err := eng.NewEntrants(ctx, 10, &d, 100); return err }},
		{"max events too low", func() error { _, err := eng.NewEntrants(ctx, 10, all, 0); return err }},
		{"max events too high", func() error { _, err := eng.NewEntrants(ctx, 10, all, 501); return err }},
		{"threshold too low", func() error { _, err := eng.BigMovers(ctx, 10, all, 100, 0); return err }},
		{"threshold too high", func() error { _, err := eng.BigMovers(ctx, 10, all, 100, 101); return err }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := store.calls
			err := tc.call()
			assert.True(t, IsValidation(err), "expected validation error, got %v", err)
			assert.Equal(t, before, store.calls, "store must not be touched")
		})
	}
}

func TestRankHistory(t *testing.T) {
	eng, _ := newEngine([]marketdata.RankRow{
		row(day(0), "AAPL", 300, 2),
		row(day(1), "AAPL", 310, 1),
		row(day(1), "MSFT", 290, 2),
	})

	hist, err := eng.RankHistory(context.Background(), "  aapl ", 365)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", hist.Symbol)
	assert.Equal(t, "name:AAPL", hist.Name)
	require.Len(t, hist.Rows, 2)
	assert.Equal(t, day(0).Format("2006-01-02"), hist.Rows[0].Date)
	assert.Equal(t, 2, hist.Rows[0].Rank)
	assert.Equal(t, 1, hist.Rows[1].Rank)
}

func TestRankHistoryUnknownSymbol(t *testing.T) {
	eng, _ := newEngine([]marketdata.RankRow{row(day(1), "AAPL", 300, 1)})

	_, err := eng.RankHistory(context.Background(), "ZZZZ", 365)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTimeline(t *testing.T) {
	eng, _ := newEngine([]marketdata.RankRow{
		row(day(0), "AAA", 300, 1),
		row(day(0), "BBB", 200, 2),
		row(day(1), "BBB", 310, 1),
		row(day(1), "CCC", 200, 2),
	})

	tl, err := eng.Timeline(context.Background(), 2, 10)
	require.NoError(t, err)

	require.Len(t, tl.Dates, 2)
	require.Len(t, tl.Series, 3)

	for _, s := range tl.Series {
		assert.Len(t, s.Ranks, 2, "series arrays match the date count")
		assert.Len(t, s.Caps, 2)
	}

	// BBB holds rank 1 on the latest date, CCC rank 2; AAA was absent on
	// the latest date and sorts last despite its earlier rank 1.
	assert.Equal(t, "BBB", tl.Series[0].Symbol)
	assert.Equal(t, "CCC", tl.Series[1].Symbol)
	assert.Equal(t, "AAA", tl.Series[2].Symbol)

	aaa := tl.Series[2]
	require.NotNil(t, aaa.Ranks[0])
	assert.Equal(t, 1, *aaa.Ranks[0])
	assert.Nil(t, aaa.Ranks[1])
	assert.Nil(t, aaa.Caps[1])
}

func TestTimelineEmptyStore(t *testing.T) {
	eng, _ := newEngine(nil)

	tl, err := eng.Timeline(context.Background(), 10, 30)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Nil(t, tl)
}

func TestNewEntrants(t *testing.T) {
	// date1 top-3 = [A,B,C]; date2 top-3 = [A,C,D]. D enters from wide
	// rank 500, so its prior rank is visible despite the limit of 3.
	eng, _ := newEngine([]marketdata.RankRow{
		row(day(0), "A", 400, 1),
		row(day(0), "B", 300, 2),
		row(day(0), "C", 200, 3),
		row(day(0), "D", 1, 500),
		row(day(1), "A", 400, 1),
		row(day(1), "C", 300, 2),
		row(day(1), "D", 200, 3),
	})

	res, err := eng.NewEntrants(context.Background(), 3, nil, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TotalEvents)
	require.Len(t, res.Events, 1)

	ev := res.Events[0]
	assert.Equal(t, "D", ev.Symbol)
	assert.Equal(t, day(1).Format("2006-01-02"), ev.Date)
	assert.Equal(t, 3, ev.ToRank)
	require.NotNil(t, ev.FromRank)
	assert.Equal(t, 500, *ev.FromRank)
}

func TestNewEntrantsNullFromRank(t *testing.T) {
	eng, _ := newEngine([]marketdata.RankRow{
		row(day(0), "A", 400, 1),
		row(day(1), "A", 400, 1),
		row(day(1), "N", 300, 2),
	})

	res, err := eng.NewEntrants(context.Background(), 3, nil, 100)
	require.NoError(t, err)

	require.Len(t, res.Events, 1)
	assert.Equal(t, "N", res.Events[0].Symbol)
	assert.Nil(t, res.Events[0].FromRank)
}

func TestNewEntrantsSingleDate(t *testing.T) {
	eng, _ := newEngine([]marketdata.RankRow{row(day(0), "A", 400, 1)})

	res, err := eng.NewEntrants(context.Background(), 3, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalEvents)
	assert.Empty(t, res.Events)
}

func TestBigMovers(t *testing.T) {
	// X improves 20 -> 10 (>= threshold 5); Y improves 20 -> 17 (below).
	eng, _ := newEngine([]marketdata.RankRow{
		row(day(0), "X", 100, 20),
		row(day(0), "Y", 90, 21),
		row(day(1), "X", 200, 10),
		row(day(1), "Y", 95, 17),
	})

	res, err := eng.BigMovers(context.Background(), 260, nil, 100, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TotalEvents)
	require.Len(t, res.Events, 1)

	ev := res.Events[0]
	assert.Equal(t, "X", ev.Symbol)
	require.NotNil(t, ev.FromRank)
	assert.Equal(t, 20, *ev.FromRank)
	assert.Equal(t, 10, ev.ToRank)
	assert.Equal(t, 10, ev.Change)
}

func TestBigMoversIgnoresDeclines(t *testing.T) {
	eng, _ := newEngine([]marketdata.RankRow{
		row(day(0), "X", 200, 10),
		row(day(1), "X", 100, 30),
	})

	res, err := eng.BigMovers(context.Background(), 260, nil, 100, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Events)
}

func TestEventsTailTruncation(t *testing.T) {
	// Three consecutive entrant events, keep only the last two.
	eng, _ := newEngine([]marketdata.RankRow{
		row(day(0), "A", 400, 1),
		row(day(1), "A", 400, 1),
		row(day(1), "B", 300, 2),
		row(day(2), "A", 400, 1),
		row(day(2), "C", 300, 2),
		row(day(3), "A", 400, 1),
		row(day(3), "D", 300, 2),
	})

	res, err := eng.NewEntrants(context.Background(), 2, nil, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalEvents)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "C", res.Events[0].Symbol)
	assert.Equal(t, "D", res.Events[1].Symbol)
}

func TestEventsBoundedWindow(t *testing.T) {
	// days=2 compares the last two date pairs only.
	eng, _ := newEngine([]marketdata.RankRow{
		row(day(0), "A", 400, 1),
		row(day(1), "A", 400, 1),
		row(day(1), "B", 300, 2),
		row(day(2), "A", 400, 1),
		row(day(2), "B", 300, 2),
		row(day(3), "A", 400, 1),
		row(day(3), "C", 300, 2),
	})

	days := 2
	res, err := eng.NewEntrants(context.Background(), 2, &days, 100)
	require.NoError(t, err)

	// B's entry on day 1 falls outside the window; only C on day 3 remains.
	assert.Equal(t, 1, res.TotalEvents)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "C", res.Events[0].Symbol)
}
