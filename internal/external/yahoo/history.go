package yahoo

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/wonny/captrack/internal/marketdata"
)

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp []int64 `json:"timestamp"`
			Events    struct {
				Splits map[string]struct {
					Date        int64   `json:"date"`
					Numerator   float64 `json:"numerator"`
					Denominator float64 `json:"denominator"`
				} `json:"splits"`
			} `json:"events"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"chart"`
}

type timeseriesResponse struct {
	Timeseries struct {
		Result []struct {
			Timestamp []int64 `json:"timestamp"`
			SharesOut []struct {
				ReportedValue struct {
					Raw float64 `json:"raw"`
				} `json:"reportedValue"`
			} `json:"shares_out"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"timeseries"`
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			DefaultKeyStatistics struct {
				SharesOutstanding struct {
					Raw float64 `json:"raw"`
				} `json:"sharesOutstanding"`
			} `json:"defaultKeyStatistics"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"quoteSummary"`
}

// History fetches a symbol's daily closes, split events and shares series
// over [start, end]. When no shares series exists upstream, a single
// shares-outstanding figure is fetched as a constant fallback.
func (c *Client) History(ctx context.Context, symbol string, start, end time.Time) (marketdata.History, error) {
	h := marketdata.History{Symbol: symbol}

	if err := c.fetchChart(ctx, symbol, start, end, &h); err != nil {
		return h, err
	}
	if len(h.Dates) == 0 {
		return h, fmt.Errorf("no price history for %s", symbol)
	}

	// Shares data is best-effort; a symbol without it still ranks via the
	// fallback figure.
	shares, err := c.fetchSharesSeries(ctx, symbol, start, end)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		}).Debug("Shares series unavailable")
	}
	h.Shares = shares

	if len(h.Shares) == 0 {
		fallback, err := c.fetchSharesOutstanding(ctx, symbol)
		if err != nil {
			c.logger.WithFields(map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			}).Debug("Shares outstanding unavailable")
		}
		h.FallbackShares = fallback
	}

	return h, nil
}

func (c *Client) fetchChart(ctx context.Context, symbol string, start, end time.Time, h *marketdata.History) error {
	params := url.Values{}
	params.Set("period1", strconv.FormatInt(start.Unix(), 10))
	params.Set("period2", strconv.FormatInt(end.Unix(), 10))
	params.Set("interval", "1d")
	params.Set("events", "splits")

	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	var parsed chartResponse
	if err := c.getJSON(ctx, u, &parsed); err != nil {
		return fmt.Errorf("fetch chart for %s: %w", symbol, err)
	}
	if parsed.Chart.Error != nil {
		return fmt.Errorf("chart for %s: %w", symbol, parsed.Chart.Error)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil
	}

	result := parsed.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	closes := result.Indicators.Quote[0].Close

	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		h.Dates = append(h.Dates, unixDay(ts))
		h.Closes = append(h.Closes, *closes[i])
	}

	for _, s := range result.Events.Splits {
		if s.Denominator == 0 {
			continue
		}
		h.Splits = append(h.Splits, marketdata.SplitEvent{
			Date:  unixDay(s.Date),
			Ratio: s.Numerator / s.Denominator,
		})
	}
	sort.Slice(h.Splits, func(i, j int) bool { return h.Splits[i].Date.Before(h.Splits[j].Date) })

	return nil
}

func (c *Client) fetchSharesSeries(ctx context.Context, symbol string, start, end time.Time) ([]marketdata.SharePoint, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("period1", strconv.FormatInt(start.Unix(), 10))
	params.Set("period2", strconv.FormatInt(end.Unix(), 10))
	params.Set("type", "shares_out")

	u := fmt.Sprintf("%s/ws/fundamentals-timeseries/v1/finance/timeseries/%s?%s",
		c.baseURL, url.PathEscape(symbol), params.Encode())

	var parsed timeseriesResponse
	if err := c.getJSON(ctx, u, &parsed); err != nil {
		return nil, fmt.Errorf("fetch shares series for %s: %w", symbol, err)
	}
	if parsed.Timeseries.Error != nil {
		return nil, fmt.Errorf("shares series for %s: %w", symbol, parsed.Timeseries.Error)
	}
	if len(parsed.Timeseries.Result) == 0 {
		return nil, nil
	}

	result := parsed.Timeseries.Result[0]
	var out []marketdata.SharePoint
	for i, ts := range result.Timestamp {
		if i >= len(result.SharesOut) {
			break
		}
		raw := result.SharesOut[i].ReportedValue.Raw
		if raw <= 0 {
			continue
		}
		out = append(out, marketdata.SharePoint{Date: unixDay(ts), Shares: raw})
	}
	return out, nil
}

func (c *Client) fetchSharesOutstanding(ctx context.Context, symbol string) (float64, error) {
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=defaultKeyStatistics",
		c.baseURL, url.PathEscape(symbol))

	var parsed quoteSummaryResponse
	if err := c.getJSON(ctx, u, &parsed); err != nil {
		return 0, fmt.Errorf("fetch shares outstanding for %s: %w", symbol, err)
	}
	if parsed.QuoteSummary.Error != nil {
		return 0, fmt.Errorf("shares outstanding for %s: %w", symbol, parsed.QuoteSummary.Error)
	}
	if len(parsed.QuoteSummary.Result) == 0 {
		return 0, nil
	}
	return parsed.QuoteSummary.Result[0].DefaultKeyStatistics.SharesOutstanding.Raw, nil
}
