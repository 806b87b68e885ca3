package marketdata

import (
	"math"
	"time"
)

// BuildCapSeries combines a symbol's close prices with its reconstructed
// shares into a daily market-cap series. Duplicate dates collapse to the
// last observed close. Dates with a non-positive or undefined cap are
// dropped. Returns nil when the symbol has no usable shares data.
func BuildCapSeries(h History) []CapPoint {
	h = collapseDuplicateDates(h)

	shares, ok := ReconstructShares(h)
	if !ok {
		return nil
	}

	out := make([]CapPoint, 0, len(h.Dates))
	for i, d := range h.Dates {
		close := h.Closes[i]
		cap := close * shares[i]
		if math.IsNaN(cap) || math.IsInf(cap, 0) || cap <= 0 {
			continue
		}
		out = append(out, CapPoint{Date: d, Cap: cap, Price: close})
	}
	return out
}

// collapseDuplicateDates keeps the last close observed per date. Intraday
// provider bars can land on the same calendar day after normalization.
func collapseDuplicateDates(h History) History {
	dates := make([]time.Time, 0, len(h.Dates))
	closes := make([]float64, 0, len(h.Closes))
	for i, d := range h.Dates {
		if n := len(dates); n > 0 && d.Equal(dates[n-1]) {
			closes[n-1] = h.Closes[i]
			continue
		}
		dates = append(dates, d)
		closes = append(closes, h.Closes[i])
	}
	h.Dates = dates
	h.Closes = closes
	return h
}
