package marketdata

import (
	"sort"
	"time"
)

// RankOptions controls which dates BuildRankRows emits.
type RankOptions struct {
	// TargetDate restricts output to a single as-of date.
	TargetDate *time.Time
	// AllDates emits every date present in the input. When false and no
	// TargetDate is set, only the most recent date is emitted.
	AllDates bool
}

// BuildRankRows turns per-symbol cap series into ranked daily snapshot rows.
// For each emitted date symbols are sorted by descending market cap with
// ties broken by ascending symbol, then truncated to storeLimit and assigned
// 1-based ranks. Pure function: identical input yields identical output.
func BuildRankRows(capsBySymbol map[string][]CapPoint, storeLimit int, opts RankOptions) []RankRow {
	type entry struct {
		symbol string
		cap    float64
		price  float64
	}

	perDate := make(map[time.Time][]entry)
	for symbol, series := range capsBySymbol {
		for _, p := range series {
			if opts.TargetDate != nil && !p.Date.Equal(*opts.TargetDate) {
				continue
			}
			perDate[p.Date] = append(perDate[p.Date], entry{symbol: symbol, cap: p.Cap, price: p.Price})
		}
	}
	if len(perDate) == 0 {
		return nil
	}

	dates := make([]time.Time, 0, len(perDate))
	for d := range perDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	if !opts.AllDates && opts.TargetDate == nil {
		dates = dates[len(dates)-1:]
	}

	var rows []RankRow
	for _, d := range dates {
		entries := perDate[d]
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].cap != entries[j].cap {
				return entries[i].cap > entries[j].cap
			}
			return entries[i].symbol < entries[j].symbol
		})

		n := len(entries)
		if storeLimit > 0 && n > storeLimit {
			n = storeLimit
		}
		for rank := 1; rank <= n; rank++ {
			e := entries[rank-1]
			rows = append(rows, RankRow{
				AsOfDate:  d,
				Symbol:    e.symbol,
				MarketCap: e.cap,
				Price:     e.price,
				Rank:      rank,
			})
		}
	}
	return rows
}
