package marketdata

import "time"

// SharePoint is a raw shares-outstanding observation.
type SharePoint struct {
	Date   time.Time
	Shares float64
}

// SplitEvent is a stock split observation. Ratio is the post/pre share
// multiple (2.0 for a 2-for-1 split).
type SplitEvent struct {
	Date  time.Time
	Ratio float64
}

// CapPoint is one day of a symbol's market-cap series.
type CapPoint struct {
	Date  time.Time
	Cap   float64
	Price float64
}

// RankRow is one persisted row of a daily ranking snapshot.
type RankRow struct {
	AsOfDate  time.Time
	Symbol    string
	MarketCap float64
	Price     float64
	Rank      int
}

// History is a symbol's raw daily observation set as fetched upstream.
// Dates and Closes are parallel, sorted ascending, deduplicated.
type History struct {
	Symbol string
	Dates  []time.Time
	Closes []float64

	Splits []SplitEvent
	Shares []SharePoint

	// FallbackShares is a single shares-outstanding figure from secondary
	// metadata, used when no shares series is available. Zero means absent.
	FallbackShares float64
}

// NormalizeDate truncates a timestamp to its UTC calendar date.
func NormalizeDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
