package names

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wonny/captrack/pkg/httputil"
	"github.com/wonny/captrack/pkg/logger"
)

const (
	fetchPageSize = 100
	fetchMaxPages = 60
)

// Fetcher downloads localized US company names from the Naver global stock
// listing and writes them to the resolver's JSON file.
type Fetcher struct {
	client  *httputil.Client
	baseURL string
	logger  *logger.Logger
}

// Entry is one fetched company record.
type Entry struct {
	NameKo string `json:"name_ko"`
	NameEn string `json:"name_en,omitempty"`
}

// NewFetcher creates a fetcher against the given listing endpoint.
func NewFetcher(client *httputil.Client, baseURL string, log *logger.Logger) *Fetcher {
	return &Fetcher{
		client:  client,
		baseURL: baseURL,
		logger:  log,
	}
}

// stockRecord mirrors the vendor payload fields we consume.
type stockRecord struct {
	SymbolCode     string `json:"symbolCode"`
	ReutersCode    string `json:"reutersCode"`
	KoreanCodeName string `json:"koreanCodeName"`
	EnglishName    string `json:"englishCodeName"`
}

// FetchAll pages through the listing ordered by market value and returns
// entries keyed by normalized symbol. Paging stops at the first empty page.
func (f *Fetcher) FetchAll(ctx context.Context, limit int) (map[string]Entry, error) {
	out := make(map[string]Entry)

	for page := 0; page < fetchMaxPages; page++ {
		startIdx := page * fetchPageSize

		records, err := f.fetchPage(ctx, startIdx)
		if err != nil {
			return nil, fmt.Errorf("fetch page at offset %d: %w", startIdx, err)
		}
		if len(records) == 0 {
			break
		}

		for _, rec := range records {
			symbol := normalizedSymbol(rec)
			if symbol == "" {
				continue
			}

			nameKo := strings.TrimSpace(rec.KoreanCodeName)
			if nameKo == "" {
				continue
			}

			out[symbol] = Entry{
				NameKo: nameKo,
				NameEn: strings.TrimSpace(rec.EnglishName),
			}
		}

		if limit > 0 && len(out) >= limit {
			break
		}
	}

	f.logger.WithField("count", len(out)).Info("Fetched localized company names")
	return out, nil
}

// fetchPage requests one page of the listing.
func (f *Fetcher) fetchPage(ctx context.Context, startIdx int) ([]stockRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.pageURL(startIdx), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Referer", "https://stock.naver.com/")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return decodeListing(body)
}

func (f *Fetcher) pageURL(startIdx int) string {
	params := url.Values{}
	params.Set("nation", "usa")
	params.Set("tradeType", "ALL")
	params.Set("orderType", "marketValue")
	params.Set("startIdx", strconv.Itoa(startIdx))
	params.Set("pageSize", strconv.Itoa(fetchPageSize))
	return f.baseURL + "?" + params.Encode()
}

// decodeListing accepts either a bare array or an object wrapping the
// records under "datas".
func decodeListing(body []byte) ([]stockRecord, error) {
	var records []stockRecord
	if err := json.Unmarshal(body, &records); err == nil {
		return records, nil
	}

	var wrapped struct {
		Datas []stockRecord `json:"datas"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode listing payload: %w", err)
	}
	return wrapped.Datas, nil
}

// normalizedSymbol prefers symbolCode and falls back to the Reuters code.
func normalizedSymbol(rec stockRecord) string {
	if s := NormalizeSymbol(rec.SymbolCode); s != "" {
		return s
	}
	return NormalizeSymbol(rec.ReutersCode)
}

// WriteFile merges fetched entries into the JSON file at path, or replaces
// the file entirely. Existing entries win nothing: fetched names overwrite,
// but merge keeps symbols that no longer appear upstream.
func WriteFile(path string, fetched map[string]Entry, merge bool) error {
	entries := map[string]Entry{}
	if merge {
		if existing, err := loadEntries(path); err == nil {
			entries = existing
		}
	}
	for symbol, entry := range fetched {
		entries[symbol] = entry
	}

	// encoding/json emits map keys sorted, which keeps the file diffable.
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode company names: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create names directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write company names: %w", err)
	}
	return os.Rename(tmp, path)
}

// loadEntries reads an existing names file, tolerating the plain-string
// value shape produced by older versions.
func loadEntries(path string) (map[string]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err == nil {
		return entries, nil
	}

	var plain map[string]string
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, err
	}

	entries = make(map[string]Entry, len(plain))
	for k, v := range plain {
		entries[k] = Entry{NameKo: v}
	}
	return entries, nil
}
