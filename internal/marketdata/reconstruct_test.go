package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func tradingDays(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = day(i)
	}
	return out
}

func constantCloses(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// splitHistory builds a 10-day series with a 2:1 split on day 5 whose share
// jump shows up in the raw feed `lag` trading days late.
func splitHistory(lag int) History {
	dates := tradingDays(10)
	shares := make([]SharePoint, 10)
	for i := range shares {
		v := 100.0
		if i >= 5+lag {
			v = 200.0
		}
		shares[i] = SharePoint{Date: dates[i], Shares: v}
	}
	return History{
		Symbol: "TEST",
		Dates:  dates,
		Closes: constantCloses(10, 50),
		Splits: []SplitEvent{{Date: day(5), Ratio: 2.0}},
		Shares: shares,
	}
}

func TestReconstructShares_SplitLag(t *testing.T) {
	// Whatever the reporting lag, the reconstructed series must be on the
	// post-split basis for every date: scaled by the ratio before the split
	// date and unchanged from the raw feed once the jump has landed.
	for _, lag := range []int{0, 1, 2, 3} {
		h := splitHistory(lag)
		adjusted, ok := ReconstructShares(h)
		require.True(t, ok, "lag %d: reconstruction should succeed", lag)
		require.Len(t, adjusted, len(h.Dates))

		for i, v := range adjusted {
			assert.InDelta(t, 200.0, v, 1e-9,
				"lag %d: adjusted shares at index %d should sit on the post-split basis", lag, i)
		}
	}
}

func TestReconstructShares_NoLagMatchKeepsUnlaggedFactor(t *testing.T) {
	// The shares feed never reflects the split at all. No candidate lag
	// matches, so the unlagged future split factor stands: pre-split dates
	// are scaled, dates from the split on are not.
	dates := tradingDays(10)
	shares := make([]SharePoint, 10)
	for i := range shares {
		shares[i] = SharePoint{Date: dates[i], Shares: 100}
	}
	h := History{
		Symbol: "TEST",
		Dates:  dates,
		Closes: constantCloses(10, 50),
		Splits: []SplitEvent{{Date: day(5), Ratio: 2.0}},
		Shares: shares,
	}

	adjusted, ok := ReconstructShares(h)
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		assert.InDelta(t, 200.0, adjusted[i], 1e-9)
	}
	for i := 5; i < 10; i++ {
		assert.InDelta(t, 100.0, adjusted[i], 1e-9)
	}
}

func TestReconstructShares_UnstablePlateauRejectsLag(t *testing.T) {
	// The jump two days out matches the ratio, but the day in between moved
	// more than 5% off the base, so the lag candidate must be rejected.
	dates := tradingDays(10)
	values := []float64{100, 100, 100, 100, 100, 100, 110, 200, 200, 200}
	shares := make([]SharePoint, 10)
	for i := range shares {
		shares[i] = SharePoint{Date: dates[i], Shares: values[i]}
	}
	h := History{
		Symbol: "TEST",
		Dates:  dates,
		Closes: constantCloses(10, 50),
		Splits: []SplitEvent{{Date: day(5), Ratio: 2.0}},
		Shares: shares,
	}

	adjusted, ok := ReconstructShares(h)
	require.True(t, ok)

	// No correction: split date itself keeps the unlagged factor of 1.
	assert.InDelta(t, 100.0, adjusted[5], 1e-9)
	assert.InDelta(t, 200.0, adjusted[4], 1e-9)
}

func TestReconstructShares_RatioOutsideToleranceRejectsLag(t *testing.T) {
	dates := tradingDays(8)
	// Jump of 3x against a declared 2:1 split: outside the 20% band.
	values := []float64{100, 100, 100, 100, 100, 100, 300, 300}
	shares := make([]SharePoint, len(dates))
	for i := range shares {
		shares[i] = SharePoint{Date: dates[i], Shares: values[i]}
	}
	h := History{
		Symbol: "TEST",
		Dates:  dates,
		Closes: constantCloses(len(dates), 50),
		Splits: []SplitEvent{{Date: day(5), Ratio: 2.0}},
		Shares: shares,
	}

	adjusted, ok := ReconstructShares(h)
	require.True(t, ok)
	assert.InDelta(t, 100.0, adjusted[5], 1e-9, "split-day factor must stay unlagged")
}

func TestReconstructShares_FallbackConstant(t *testing.T) {
	dates := tradingDays(5)
	h := History{
		Symbol:         "TEST",
		Dates:          dates,
		Closes:         constantCloses(5, 10),
		FallbackShares: 1_000_000,
	}

	adjusted, ok := ReconstructShares(h)
	require.True(t, ok)
	for _, v := range adjusted {
		assert.Equal(t, 1_000_000.0, v)
	}
}

func TestReconstructShares_NoSharesData(t *testing.T) {
	h := History{
		Symbol: "TEST",
		Dates:  tradingDays(5),
		Closes: constantCloses(5, 10),
	}

	_, ok := ReconstructShares(h)
	assert.False(t, ok, "symbol without any shares data contributes nothing")
}

func TestReindexShares_CarryForwardAndBackfill(t *testing.T) {
	dates := tradingDays(6)
	raw := []SharePoint{
		{Date: day(2), Shares: 100},
		{Date: day(4), Shares: 150},
	}

	out := reindexShares(dates, raw)
	require.NotNil(t, out)

	expected := []float64{100, 100, 100, 100, 150, 150}
	for i, want := range expected {
		assert.InDelta(t, want, out[i], 1e-9, "index %d", i)
	}
}

func TestReindexShares_DuplicateDatesLastWins(t *testing.T) {
	dates := tradingDays(2)
	raw := []SharePoint{
		{Date: day(0), Shares: 100},
		{Date: day(0), Shares: 120},
	}

	out := reindexShares(dates, raw)
	require.NotNil(t, out)
	assert.InDelta(t, 120.0, out[0], 1e-9)
}

func TestFutureSplitFactor(t *testing.T) {
	dates := tradingDays(6)
	splits := []SplitEvent{
		{Date: day(2), Ratio: 2.0},
		{Date: day(4), Ratio: 3.0},
	}

	factor := futureSplitFactor(dates, splits)

	// factor(d) multiplies ratios strictly after d.
	expected := []float64{6, 6, 3, 3, 1, 1}
	for i, want := range expected {
		assert.InDelta(t, want, factor[i], 1e-9, "index %d", i)
	}
}

func TestFutureSplitFactor_NoSplits(t *testing.T) {
	factor := futureSplitFactor(tradingDays(3), nil)
	for _, f := range factor {
		assert.Equal(t, 1.0, f)
	}
}
