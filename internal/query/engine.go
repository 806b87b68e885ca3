package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wonny/captrack/internal/cache"
	"github.com/wonny/captrack/internal/marketdata"
	"github.com/wonny/captrack/pkg/logger"
)

// Parameter bounds and defaults for the query boundary.
const (
	MinLimit = 1
	MaxLimit = 260

	MinHistoryDays = 1
	MaxHistoryDays = 5475

	MinWindowDays = 2
	MaxWindowDays = 5475

	MinEvents = 1
	MaxEvents = 500

	MinThreshold = 1
	MaxThreshold = 100

	DefaultLimit       = 260
	DefaultHistoryDays = 365
	DefaultWindowDays  = 120
	DefaultMaxEvents   = 100
	DefaultThreshold   = 5

	// Event diffing looks prior ranks up in a wider universe than the
	// top-limit view, so re-entrants from deep ranks still report a
	// non-null prior rank.
	wideMapMaxRank = 1000

	// Sort sentinel for series with no rank on a date.
	missingRank = 99999

	dateLayout = "2006-01-02"
)

// RankReader is the read surface of the snapshot store the engine needs.
type RankReader interface {
	LastModified(ctx context.Context) (time.Time, error)
	LatestDate(ctx context.Context) (time.Time, bool, error)
	SnapshotAt(ctx context.Context, date time.Time, limit int) ([]marketdata.RankRow, error)
	HistoryOf(ctx context.Context, symbol string, maxDays int) ([]marketdata.RankRow, error)
	RecentDates(ctx context.Context, days int) ([]time.Time, error)
	EventDates(ctx context.Context, days *int) ([]time.Time, error)
	TimelineRows(ctx context.Context, from, to time.Time, limit int) ([]marketdata.RankRow, error)
	RankMaps(ctx context.Context, from, to time.Time, maxRank int) (map[time.Time]map[string]int, error)
}

// NameResolver maps a symbol to its localized display name.
type NameResolver interface {
	DisplayName(symbol, fallback string) string
}

// Engine answers analytics queries over stored rank snapshots. It is
// read-only: its only internal mutation is populating the response cache.
type Engine struct {
	store  RankReader
	names  NameResolver
	cache  *cache.ResponseCache
	logger *logger.Logger
}

// NewEngine creates a query engine.
func NewEngine(store RankReader, names NameResolver, c *cache.ResponseCache, log *logger.Logger) *Engine {
	return &Engine{
		store:  store,
		names:  names,
		cache:  c,
		logger: log,
	}
}

// SnapshotRow is one ranked symbol on a date.
type SnapshotRow struct {
	Rank      int     `json:"rank"`
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	MarketCap float64 `json:"market_cap"`
	Price     float64 `json:"price"`
}

// Snapshot is the full ranking for one date.
type Snapshot struct {
	AsOfDate string        `json:"as_of_date"`
	Rows     []SnapshotRow `json:"rows"`
}

// HistoryPoint is one symbol's standing on one date.
type HistoryPoint struct {
	Date      string  `json:"date"`
	Rank      int     `json:"rank"`
	MarketCap float64 `json:"market_cap"`
	Price     float64 `json:"price"`
}

// History is a symbol's chronological rank trajectory.
type History struct {
	Symbol string         `json:"symbol"`
	Name   string         `json:"name"`
	Rows   []HistoryPoint `json:"rows"`
}

// TimelineSeries holds one symbol's per-date rank and cap arrays. Both are
// parallel to Timeline.Dates; positions where the symbol was absent or
// outside the limit are null.
type TimelineSeries struct {
	Symbol string     `json:"symbol"`
	Name   string     `json:"name"`
	Ranks  []*int     `json:"ranks"`
	Caps   []*float64 `json:"market_caps"`
}

// Timeline is the cross-symbol rank evolution over recent dates.
type Timeline struct {
	Dates  []string         `json:"dates"`
	Series []TimelineSeries `json:"series"`
	Limit  int              `json:"limit"`
}

// Event is a detected ranking event between two consecutive stored dates.
// FromRank is null for entrants with no prior rank anywhere in the wide map.
type Event struct {
	Date     string `json:"date"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	FromRank *int   `json:"from_rank"`
	ToRank   int    `json:"to_rank"`
	Change   int    `json:"change,omitempty"`
}

// Events is a truncated event list. TotalEvents counts before truncation.
type Events struct {
	Events      []Event `json:"events"`
	TotalEvents int     `json:"total_events"`
}

// LatestSnapshot returns the most recent date's ranking truncated to limit.
func (e *Engine) LatestSnapshot(ctx context.Context, limit int) (*Snapshot, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}

	key, err := e.cacheKey(ctx, "latest_snapshot", limit)
	if err != nil {
		return nil, err
	}
	if v, ok := e.cache.Get(key); ok {
		return v.(*Snapshot), nil
	}

	date, ok, err := e.store.LatestDate(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoData
	}

	rows, err := e.store.SnapshotAt(ctx, date, limit)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		AsOfDate: date.Format(dateLayout),
		Rows:     make([]SnapshotRow, 0, len(rows)),
	}
	for _, r := range rows {
		snap.Rows = append(snap.Rows, SnapshotRow{
			Rank:      r.Rank,
			Symbol:    r.Symbol,
			Name:      e.names.DisplayName(r.Symbol, ""),
			MarketCap: r.MarketCap,
			Price:     r.Price,
		})
	}

	e.cache.Set(key, snap)
	return snap, nil
}

// RankHistory returns a symbol's stored history, oldest first, spanning up
// to maxDays stored rows.
func (e *Engine) RankHistory(ctx context.Context, symbol string, maxDays int) (*History, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, validationErrorf("symbol", "must not be empty")
	}
	if maxDays < MinHistoryDays || maxDays > MaxHistoryDays {
		return nil, validationErrorf("days", "must be between %d and %d", MinHistoryDays, MaxHistoryDays)
	}

	key, err := e.cacheKey(ctx, "rank_history", symbol, maxDays)
	if err != nil {
		return nil, err
	}
	if v, ok := e.cache.Get(key); ok {
		return v.(*History), nil
	}

	rows, err := e.store.HistoryOf(ctx, symbol, maxDays)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("symbol %s: %w", symbol, ErrNotFound)
	}

	hist := &History{
		Symbol: symbol,
		Name:   e.names.DisplayName(symbol, ""),
		Rows:   make([]HistoryPoint, 0, len(rows)),
	}
	for _, r := range rows {
		hist.Rows = append(hist.Rows, HistoryPoint{
			Date:      r.AsOfDate.Format(dateLayout),
			Rank:      r.Rank,
			MarketCap: r.MarketCap,
			Price:     r.Price,
		})
	}

	e.cache.Set(key, hist)
	return hist, nil
}

// Timeline builds per-symbol rank and cap arrays over the most recent days
// stored dates. An empty store yields an empty timeline, not an error.
func (e *Engine) Timeline(ctx context.Context, limit, days int) (*Timeline, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	if days < MinWindowDays || days > MaxWindowDays {
		return nil, validationErrorf("days", "must be between %d and %d", MinWindowDays, MaxWindowDays)
	}

	key, err := e.cacheKey(ctx, "timeline", limit, days)
	if err != nil {
		return nil, err
	}
	if v, ok := e.cache.Get(key); ok {
		return v.(*Timeline), nil
	}

	dates, err := e.store.RecentDates(ctx, days)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, ErrNoData
	}

	tl := &Timeline{
		Dates:  make([]string, 0, len(dates)),
		Series: []TimelineSeries{},
		Limit:  limit,
	}

	rows, err := e.store.TimelineRows(ctx, dates[0], dates[len(dates)-1], limit)
	if err != nil {
		return nil, err
	}

	dateIndex := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		tl.Dates = append(tl.Dates, d.Format(dateLayout))
		dateIndex[d] = i
	}

	bySymbol := make(map[string]*TimelineSeries)
	for _, r := range rows {
		idx, ok := dateIndex[r.AsOfDate]
		if !ok {
			continue
		}
		s, ok := bySymbol[r.Symbol]
		if !ok {
			s = &TimelineSeries{
				Symbol: r.Symbol,
				Name:   e.names.DisplayName(r.Symbol, ""),
				Ranks:  make([]*int, len(dates)),
				Caps:   make([]*float64, len(dates)),
			}
			bySymbol[r.Symbol] = s
		}
		rank, capVal := r.Rank, r.MarketCap
		s.Ranks[idx] = &rank
		s.Caps[idx] = &capVal
	}

	series := make([]TimelineSeries, 0, len(bySymbol))
	for _, s := range bySymbol {
		series = append(series, *s)
	}
	sortTimelineSeries(series)
	tl.Series = series

	e.cache.Set(key, tl)
	return tl, nil
}

// sortTimelineSeries orders series by the rank on the latest date, then the
// best rank ever held in the span, then symbol. Missing ranks sort last.
func sortTimelineSeries(series []TimelineSeries) {
	latestRank := func(s TimelineSeries) int {
		if n := len(s.Ranks); n > 0 && s.Ranks[n-1] != nil {
			return *s.Ranks[n-1]
		}
		return missingRank
	}
	bestRank := func(s TimelineSeries) int {
		best := missingRank
		for _, r := range s.Ranks {
			if r != nil && *r < best {
				best = *r
			}
		}
		return best
	}

	sort.Slice(series, func(i, j int) bool {
		li, lj := latestRank(series[i]), latestRank(series[j])
		if li != lj {
			return li < lj
		}
		bi, bj := bestRank(series[i]), bestRank(series[j])
		if bi != bj {
			return bi < bj
		}
		return series[i].Symbol < series[j].Symbol
	})
}

// NewEntrants detects symbols entering the top-limit view between
// consecutive stored dates. A nil days scans the full stored range.
func (e *Engine) NewEntrants(ctx context.Context, limit int, days *int, maxEvents int) (*Events, error) {
	if err := validateEventParams(limit, days, maxEvents); err != nil {
		return nil, err
	}

	key, err := e.cacheKey(ctx, "new_entrants", limit, daysKey(days), maxEvents)
	if err != nil {
		return nil, err
	}
	if v, ok := e.cache.Get(key); ok {
		return v.(*Events), nil
	}

	dates, maps, err := e.eventWindow(ctx, days)
	if err != nil {
		return nil, err
	}

	var events []Event
	for i := 1; i < len(dates); i++ {
		prev, curr := maps[dates[i-1]], maps[dates[i]]
		dateStr := dates[i].Format(dateLayout)

		for _, symbol := range sortedSymbols(curr) {
			currRank := curr[symbol]
			if currRank > limit {
				continue
			}
			if prevRank, ok := prev[symbol]; ok && prevRank <= limit {
				continue // already in the top-limit view
			}

			ev := Event{
				Date:   dateStr,
				Symbol: symbol,
				Name:   e.names.DisplayName(symbol, ""),
				ToRank: currRank,
			}
			// Prior rank comes from the wide map, so deep re-entrants
			// still show where they came from.
			if prevRank, ok := prev[symbol]; ok {
				r := prevRank
				ev.FromRank = &r
			}
			events = append(events, ev)
		}
	}

	result := truncateEvents(events, maxEvents)
	e.cache.Set(key, result)
	return result, nil
}

// BigMovers detects rank improvements of at least threshold positions
// between consecutive stored dates. Declines are not reported.
func (e *Engine) BigMovers(ctx context.Context, limit int, days *int, maxEvents, threshold int) (*Events, error) {
	if err := validateEventParams(limit, days, maxEvents); err != nil {
		return nil, err
	}
	if threshold < MinThreshold || threshold > MaxThreshold {
		return nil, validationErrorf("threshold", "must be between %d and %d", MinThreshold, MaxThreshold)
	}

	key, err := e.cacheKey(ctx, "big_movers", limit, daysKey(days), maxEvents, threshold)
	if err != nil {
		return nil, err
	}
	if v, ok := e.cache.Get(key); ok {
		return v.(*Events), nil
	}

	dates, maps, err := e.eventWindow(ctx, days)
	if err != nil {
		return nil, err
	}

	var events []Event
	for i := 1; i < len(dates); i++ {
		prev, curr := maps[dates[i-1]], maps[dates[i]]
		dateStr := dates[i].Format(dateLayout)

		for _, symbol := range sortedSymbols(curr) {
			currRank := curr[symbol]
			if currRank > limit {
				continue
			}
			prevRank, ok := prev[symbol]
			if !ok || prevRank-currRank < threshold {
				continue
			}

			r := prevRank
			events = append(events, Event{
				Date:     dateStr,
				Symbol:   symbol,
				Name:     e.names.DisplayName(symbol, ""),
				FromRank: &r,
				ToRank:   currRank,
				Change:   prevRank - currRank,
			})
		}
	}

	result := truncateEvents(events, maxEvents)
	e.cache.Set(key, result)
	return result, nil
}

// eventWindow loads the consecutive-date comparison window and its wide
// rank maps.
func (e *Engine) eventWindow(ctx context.Context, days *int) ([]time.Time, map[time.Time]map[string]int, error) {
	dates, err := e.store.EventDates(ctx, days)
	if err != nil {
		return nil, nil, err
	}
	if len(dates) < 2 {
		return nil, nil, nil
	}

	maps, err := e.store.RankMaps(ctx, dates[0], dates[len(dates)-1], wideMapMaxRank)
	if err != nil {
		return nil, nil, err
	}
	return dates, maps, nil
}

// truncateEvents keeps the most recent maxEvents events (tail truncation)
// and reports the untruncated count.
func truncateEvents(events []Event, maxEvents int) *Events {
	total := len(events)
	if total > maxEvents {
		events = events[total-maxEvents:]
	}
	if events == nil {
		events = []Event{}
	}
	return &Events{Events: events, TotalEvents: total}
}

// cacheKey derives a cache key bound to the store's freshness marker, so
// every write invalidates all cached responses at once.
func (e *Engine) cacheKey(ctx context.Context, op string, params ...interface{}) (string, error) {
	fp, err := e.store.LastModified(ctx)
	if err != nil {
		return "", fmt.Errorf("read cache fingerprint: %w", err)
	}
	return cache.Key(fp, op, params...), nil
}

func validateLimit(limit int) error {
	if limit < MinLimit || limit > MaxLimit {
		return validationErrorf("limit", "must be between %d and %d", MinLimit, MaxLimit)
	}
	return nil
}

func validateEventParams(limit int, days *int, maxEvents int) error {
	if err := validateLimit(limit); err != nil {
		return err
	}
	if days != nil && (*days < MinWindowDays || *days > MaxWindowDays) {
		return validationErrorf("days", "must be between %d and %d", MinWindowDays, MaxWindowDays)
	}
	if maxEvents < MinEvents || maxEvents > MaxEvents {
		return validationErrorf("max_events", "must be between %d and %d", MinEvents, MaxEvents)
	}
	return nil
}

func daysKey(days *int) interface{} {
	if days == nil {
		return "all"
	}
	return *days
}

func sortedSymbols(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
