package yahoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const screenerPageSize = 250

// screenerQuery is the equity screen: US region, positive intraday cap,
// listed on NASDAQ, NYSE or NYSE American, sorted by cap descending.
func screenerQuery(size, offset int) map[string]interface{} {
	return map[string]interface{}{
		"size":      size,
		"offset":    offset,
		"sortField": "intradaymarketcap",
		"sortType":  "DESC",
		"quoteType": "EQUITY",
		"query": map[string]interface{}{
			"operator": "AND",
			"operands": []interface{}{
				map[string]interface{}{"operator": "EQ", "operands": []interface{}{"region", "us"}},
				map[string]interface{}{"operator": "GT", "operands": []interface{}{"intradaymarketcap", 0}},
				map[string]interface{}{"operator": "or", "operands": []interface{}{
					map[string]interface{}{"operator": "EQ", "operands": []interface{}{"exchange", "NMS"}},
					map[string]interface{}{"operator": "EQ", "operands": []interface{}{"exchange", "NYQ"}},
					map[string]interface{}{"operator": "EQ", "operands": []interface{}{"exchange", "ASE"}},
				}},
			},
		},
	}
}

type screenerResponse struct {
	Finance struct {
		Result []struct {
			Quotes []struct {
				Symbol string `json:"symbol"`
			} `json:"quotes"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"finance"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Universe discovers up to size symbols ordered by descending market cap.
// The result is deduplicated and preserves the screener's ordering; paging
// stops early when the screener runs out of quotes.
func (c *Client) Universe(ctx context.Context, size int) ([]string, error) {
	symbols := make([]string, 0, size)
	seen := make(map[string]bool, size)

	for page := 0; len(symbols) < size; page++ {
		remaining := size - len(symbols)
		pageSize := screenerPageSize
		if remaining < pageSize {
			pageSize = remaining
		}

		quotes, err := c.screenPage(ctx, pageSize, page*screenerPageSize)
		if err != nil {
			return nil, fmt.Errorf("screen page %d: %w", page, err)
		}
		if len(quotes) == 0 {
			break
		}

		for _, symbol := range quotes {
			symbol = strings.ToUpper(strings.TrimSpace(symbol))
			if symbol == "" || seen[symbol] {
				continue
			}
			seen[symbol] = true
			symbols = append(symbols, symbol)
			if len(symbols) >= size {
				break
			}
		}
	}

	c.logger.WithField("count", len(symbols)).Info("Discovered ranking universe")
	return symbols, nil
}

func (c *Client) screenPage(ctx context.Context, size, offset int) ([]string, error) {
	body, err := json.Marshal(screenerQuery(size, offset))
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("throttle wait: %w", err)
	}

	url := c.baseURL + "/v1/finance/screener?crumb=&lang=en-US&region=US"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("screener returned status %d: %s", resp.StatusCode, string(snippet))
	}

	var parsed screenerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode screener response: %w", err)
	}
	if parsed.Finance.Error != nil {
		return nil, parsed.Finance.Error
	}
	if len(parsed.Finance.Result) == 0 {
		return nil, nil
	}

	out := make([]string, 0, len(parsed.Finance.Result[0].Quotes))
	for _, q := range parsed.Finance.Result[0].Quotes {
		out = append(out, q.Symbol)
	}
	return out, nil
}
