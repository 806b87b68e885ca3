package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/captrack/pkg/httputil"
	"github.com/wonny/captrack/pkg/logger"
)

// Client talks to the Yahoo Finance public endpoints: the equity screener
// for universe discovery and the chart/timeseries APIs for per-symbol
// history. Requests are throttled with a local token bucket; the underlying
// HTTP client may additionally carry a shared cross-process limiter.
type Client struct {
	http    *httputil.Client
	baseURL string
	limiter *rate.Limiter
	logger  *logger.Logger
}

// New creates a Yahoo client capped at requestsPerSec outbound requests.
func New(httpClient *httputil.Client, baseURL string, requestsPerSec float64, log *logger.Logger) *Client {
	if requestsPerSec <= 0 {
		requestsPerSec = 5
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		logger:  log,
	}
}

// getJSON performs a throttled GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("yahoo returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode yahoo response: %w", err)
	}
	return nil
}

func unixDay(ts int64) time.Time {
	t := time.Unix(ts, 0).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
