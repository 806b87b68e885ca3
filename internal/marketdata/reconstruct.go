package marketdata

import (
	"math"
	"sort"
	"time"
)

// Tolerances for the delayed-split share correction. The shares feed can
// apply split effects 1-3 trading days after the split-adjusted close does.
const (
	splitRatioTolerance  = 0.20
	splitStableTolerance = 0.05
	maxSplitLagDays      = 3
)

// ReconstructShares produces one adjusted shares-outstanding value per price
// date, converting the raw shares feed to the same split-adjusted basis as
// the close series. When no shares series is usable it falls back to the
// single fallback figure; when that is also absent it returns false and the
// symbol contributes nothing for the period.
func ReconstructShares(h History) ([]float64, bool) {
	if len(h.Dates) == 0 {
		return nil, false
	}

	shares := reindexShares(h.Dates, h.Shares)
	if shares == nil {
		if h.FallbackShares <= 0 {
			return nil, false
		}
		shares = make([]float64, len(h.Dates))
		for i := range shares {
			shares[i] = h.FallbackShares
		}
	}

	factor := futureSplitFactor(h.Dates, h.Splits)
	factor = correctSplitLag(h.Dates, shares, h.Splits, factor)

	out := make([]float64, len(h.Dates))
	for i := range out {
		out[i] = shares[i] * factor[i]
	}
	return out, true
}

// reindexShares maps raw share observations onto the price dates with
// prior-value carry-forward, then back-fills any leading gap with the first
// known value. Returns nil when nothing aligns.
func reindexShares(dates []time.Time, raw []SharePoint) []float64 {
	points := make([]SharePoint, 0, len(raw))
	for _, p := range raw {
		if math.IsNaN(p.Shares) || p.Shares <= 0 {
			continue
		}
		points = append(points, SharePoint{Date: NormalizeDate(p.Date), Shares: p.Shares})
	}
	if len(points) == 0 {
		return nil
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})

	// Duplicate timestamps: last write wins.
	deduped := points[:0]
	for _, p := range points {
		if len(deduped) > 0 && deduped[len(deduped)-1].Date.Equal(p.Date) {
			deduped[len(deduped)-1] = p
			continue
		}
		deduped = append(deduped, p)
	}

	out := make([]float64, len(dates))
	idx := 0
	last := math.NaN()
	for i, d := range dates {
		for idx < len(deduped) && !deduped[idx].Date.After(d) {
			last = deduped[idx].Shares
			idx++
		}
		out[i] = last
	}

	// Back-fill the leading gap.
	first := deduped[0].Shares
	for i := range out {
		if math.IsNaN(out[i]) {
			out[i] = first
		} else {
			break
		}
	}

	return out
}

// futureSplitFactor computes, for each price date, the product of split
// ratios occurring strictly after that date. factor(d) expresses how many
// current-basis shares one unit of date-d raw shares represents.
func futureSplitFactor(dates []time.Time, splits []SplitEvent) []float64 {
	out := make([]float64, len(dates))
	for i := range out {
		out[i] = 1.0
	}
	if len(splits) == 0 {
		return out
	}

	ratioByDate := splitRatiosByDate(splits)

	cumulative := 1.0
	for i := len(dates) - 1; i >= 0; i-- {
		out[i] = cumulative
		if ratio, ok := ratioByDate[dates[i]]; ok && ratio > 0 {
			cumulative *= ratio
		}
	}
	return out
}

// correctSplitLag shifts the split adjustment from the delayed jump in the
// shares feed back to the announced split date. For each split it tests
// candidate lags of 1-3 trading days, accepting the first lag where the
// observed share jump matches the split ratio within tolerance and the
// series stayed flat in between. On acceptance the factor for the half-open
// window [splitDate, splitDate+lag) is multiplied by the ratio. When no lag
// matches, the unlagged factor stands.
func correctSplitLag(dates []time.Time, shares []float64, splits []SplitEvent, factor []float64) []float64 {
	if len(splits) == 0 || len(shares) == 0 || len(factor) == 0 {
		return factor
	}

	out := make([]float64, len(factor))
	copy(out, factor)

	posByDate := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		posByDate[d] = i
	}

	ratioByDate := splitRatiosByDate(splits)

	// Deterministic order over split dates.
	splitDates := make([]time.Time, 0, len(ratioByDate))
	for d := range ratioByDate {
		splitDates = append(splitDates, d)
	}
	sort.Slice(splitDates, func(i, j int) bool { return splitDates[i].Before(splitDates[j]) })

	for _, splitDate := range splitDates {
		ratio := ratioByDate[splitDate]
		if ratio <= 0 || ratio == 1.0 {
			continue
		}
		pos, ok := posByDate[splitDate]
		if !ok {
			continue
		}

		base := shares[pos]
		if math.IsNaN(base) || base <= 0 {
			continue
		}

		matched := 0
		for lag := 1; lag <= maxSplitLagDays; lag++ {
			futurePos := pos + lag
			if futurePos >= len(dates) {
				break
			}

			future := shares[futurePos]
			if math.IsNaN(future) || future <= 0 {
				continue
			}

			observed := future / base
			lower := ratio * (1.0 - splitRatioTolerance)
			upper := ratio * (1.0 + splitRatioTolerance)
			if observed < lower || observed > upper {
				continue
			}

			// The series must hold a flat plateau until the delayed jump.
			stable := true
			for i := pos; i < futurePos; i++ {
				rel := math.Abs(shares[i]-base) / base
				if math.IsNaN(rel) || rel > splitStableTolerance {
					stable = false
					break
				}
			}
			if !stable {
				continue
			}

			matched = lag
			break
		}

		if matched > 0 {
			for i := pos; i < pos+matched; i++ {
				out[i] *= ratio
			}
		}
	}

	return out
}

// splitRatiosByDate normalizes split dates and keeps the last ratio per date.
func splitRatiosByDate(splits []SplitEvent) map[time.Time]float64 {
	sorted := make([]SplitEvent, len(splits))
	copy(sorted, splits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	out := make(map[time.Time]float64, len(sorted))
	for _, s := range sorted {
		if math.IsNaN(s.Ratio) {
			continue
		}
		out[NormalizeDate(s.Date)] = s.Ratio
	}
	return out
}
