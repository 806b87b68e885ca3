package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/captrack/internal/marketdata"
	"github.com/wonny/captrack/pkg/logger"
)

// HistoryFetcher discovers the symbol universe and fetches per-symbol raw
// history from the upstream provider.
type HistoryFetcher interface {
	Universe(ctx context.Context, size int) ([]string, error)
	History(ctx context.Context, symbol string, start, end time.Time) (marketdata.History, error)
}

// SnapshotWriter is the write surface of the snapshot store.
type SnapshotWriter interface {
	EnsureSchema(ctx context.Context) error
	Replace(ctx context.Context, rows []marketdata.RankRow) (int64, error)
}

// Pipeline runs one ranking ingestion batch: discover the universe, fetch
// raw histories concurrently, reconstruct cap series, build rank rows and
// replace the stored snapshot range atomically.
type Pipeline struct {
	fetcher HistoryFetcher
	store   SnapshotWriter
	logger  *logger.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(fetcher HistoryFetcher, store SnapshotWriter, log *logger.Logger) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		store:   store,
		logger:  log.WithField("module", "ingest"),
	}
}

// Config holds one batch's parameters.
type Config struct {
	UniverseSize int
	StoreLimit   int
	LookbackDays int
	Workers      int
	FetchTimeout time.Duration

	// Symbols overrides universe discovery when non-empty.
	Symbols []string

	// SymbolsLimit caps the number of symbols processed after discovery.
	SymbolsLimit int

	// Snapshot scope: default is the latest shared date only.
	TargetDate *time.Time
	AllDates   bool

	// DryRun builds rank rows but skips the store write.
	DryRun bool
}

// FetchResult is one symbol's fetch outcome.
type FetchResult struct {
	Symbol       string
	Days         int
	UsedFallback bool
	Error        error
}

// Summary reports one completed batch.
type Summary struct {
	RunID      string
	Symbols    int
	Succeeded  int
	Failed     int
	RowsBuilt  int
	RowsStored int64
	DryRun     bool
	Results    []FetchResult
	Preview    []marketdata.RankRow
}

const previewSize = 15

// Run executes one ingestion batch. Per-symbol failures are isolated and
// aggregated; the batch fails only when no symbol succeeds or the store
// write fails.
func (p *Pipeline) Run(ctx context.Context, cfg Config) (*Summary, error) {
	runID := uuid.NewString()
	log := p.logger.WithField("run_id", runID)

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	symbols := cfg.Symbols
	if len(symbols) == 0 {
		var err error
		symbols, err = p.fetcher.Universe(ctx, cfg.UniverseSize)
		if err != nil {
			return nil, fmt.Errorf("discover universe: %w", err)
		}
	} else {
		for i, s := range symbols {
			symbols[i] = strings.ToUpper(strings.TrimSpace(s))
		}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("empty symbol universe")
	}
	if cfg.SymbolsLimit > 0 && len(symbols) > cfg.SymbolsLimit {
		symbols = symbols[:cfg.SymbolsLimit]
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -cfg.LookbackDays)

	log.WithFields(map[string]interface{}{
		"symbols": len(symbols),
		"from":    start.Format("2006-01-02"),
		"to":      end.Format("2006-01-02"),
		"workers": cfg.Workers,
	}).Info("Starting ranking ingestion")

	capsBySymbol, results := p.fetchAll(ctx, symbols, start, end, cfg)

	summary := &Summary{
		RunID:   runID,
		Symbols: len(symbols),
		DryRun:  cfg.DryRun,
		Results: results,
	}
	for _, r := range results {
		if r.Error != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}

	if summary.Succeeded == 0 {
		return summary, fmt.Errorf("all %d symbols failed; check provider connectivity", len(symbols))
	}

	rows := marketdata.BuildRankRows(capsBySymbol, cfg.StoreLimit, marketdata.RankOptions{
		TargetDate: cfg.TargetDate,
		AllDates:   cfg.AllDates,
	})
	summary.RowsBuilt = len(rows)
	summary.Preview = previewRows(rows)

	if cfg.DryRun {
		log.WithFields(map[string]interface{}{
			"rows":    len(rows),
			"success": summary.Succeeded,
			"failed":  summary.Failed,
		}).Info("Dry run completed; store untouched")
		return summary, nil
	}

	if err := p.store.EnsureSchema(ctx); err != nil {
		return summary, err
	}
	stored, err := p.store.Replace(ctx, rows)
	if err != nil {
		return summary, fmt.Errorf("replace snapshot rows: %w", err)
	}
	summary.RowsStored = stored

	log.WithFields(map[string]interface{}{
		"rows_stored": stored,
		"success":     summary.Succeeded,
		"failed":      summary.Failed,
	}).Info("Ranking ingestion completed")

	return summary, nil
}

// symbolOutcome carries one worker result back to the collector loop.
type symbolOutcome struct {
	result FetchResult
	caps   []marketdata.CapPoint
}

// fetchAll fans symbols out to a worker pool and folds the cap series back
// into one map. Only the collector loop touches the map.
func (p *Pipeline) fetchAll(ctx context.Context, symbols []string, start, end time.Time, cfg Config) (map[string][]marketdata.CapPoint, []FetchResult) {
	symbolCh := make(chan string, len(symbols))
	outcomeCh := make(chan symbolOutcome, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.fetchWorker(ctx, workerID, symbolCh, outcomeCh, start, end, cfg.FetchTimeout)
		}(i)
	}

	for _, symbol := range symbols {
		symbolCh <- symbol
	}
	close(symbolCh)

	go func() {
		wg.Wait()
		close(outcomeCh)
	}()

	capsBySymbol := make(map[string][]marketdata.CapPoint, len(symbols))
	results := make([]FetchResult, 0, len(symbols))
	for outcome := range outcomeCh {
		results = append(results, outcome.result)
		if outcome.result.Error == nil && len(outcome.caps) > 0 {
			capsBySymbol[outcome.result.Symbol] = outcome.caps
		}
	}
	return capsBySymbol, results
}

func (p *Pipeline) fetchWorker(ctx context.Context, workerID int, symbolCh <-chan string, outcomeCh chan<- symbolOutcome, start, end time.Time, timeout time.Duration) {
	for symbol := range symbolCh {
		select {
		case <-ctx.Done():
			outcomeCh <- symbolOutcome{result: FetchResult{Symbol: symbol, Error: ctx.Err()}}
			return
		default:
		}

		outcome := p.fetchOne(ctx, symbol, start, end, timeout)
		if outcome.result.Error != nil {
			p.logger.WithError(outcome.result.Error).WithFields(map[string]interface{}{
				"worker": workerID,
				"symbol": symbol,
			}).Error("Failed to fetch history")
		} else {
			p.logger.WithFields(map[string]interface{}{
				"worker": workerID,
				"symbol": symbol,
				"days":   outcome.result.Days,
			}).Debug("Fetched history")
		}
		outcomeCh <- outcome
	}
}

// fetchOne fetches one symbol's history under a bounded timeout and builds
// its cap series. A timeout is a per-symbol failure, never retried here.
func (p *Pipeline) fetchOne(ctx context.Context, symbol string, start, end time.Time, timeout time.Duration) symbolOutcome {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	history, err := p.fetcher.History(ctx, symbol, start, end)
	if err != nil {
		return symbolOutcome{result: FetchResult{Symbol: symbol, Error: err}}
	}

	caps := marketdata.BuildCapSeries(history)
	if len(caps) == 0 {
		return symbolOutcome{result: FetchResult{
			Symbol: symbol,
			Error:  fmt.Errorf("no usable shares data for %s", symbol),
		}}
	}

	return symbolOutcome{
		result: FetchResult{
			Symbol:       symbol,
			Days:         len(caps),
			UsedFallback: len(history.Shares) == 0,
		},
		caps: caps,
	}
}

// previewRows keeps the top rows of the most recent date for dry-run and
// log output.
func previewRows(rows []marketdata.RankRow) []marketdata.RankRow {
	if len(rows) == 0 {
		return nil
	}

	latest := rows[0].AsOfDate
	for _, r := range rows[1:] {
		if r.AsOfDate.After(latest) {
			latest = r.AsOfDate
		}
	}

	out := make([]marketdata.RankRow, 0, previewSize)
	for _, r := range rows {
		if r.AsOfDate.Equal(latest) && r.Rank <= previewSize {
			out = append(out, r)
		}
	}
	return out
}
