package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/captrack/internal/external/yahoo"
	"github.com/wonny/captrack/internal/ingest"
	"github.com/wonny/captrack/internal/marketdata"
	"github.com/wonny/captrack/internal/store"
	"github.com/wonny/captrack/pkg/config"
	"github.com/wonny/captrack/pkg/database"
	"github.com/wonny/captrack/pkg/httputil"
	"github.com/wonny/captrack/pkg/logger"
	"github.com/wonny/captrack/pkg/redis"
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch raw history and store today's ranking snapshot",
	Long: `Runs one ranking ingestion batch.

Discovers the symbol universe from the screener, fetches each symbol's
daily closes, splits and shares, reconstructs split-consistent shares,
ranks by market cap and replaces the snapshot for the latest date.

Example:
  go run ./cmd/captrack fetch
  go run ./cmd/captrack fetch --symbols AAPL,MSFT --dry-run
  go run ./cmd/captrack fetch --date 2025-06-02`,
	RunE: runFetch,
}

var (
	fetchSymbols      string
	fetchDate         string
	fetchDryRun       bool
	fetchAllDates     bool
	fetchDays         int
	fetchUniverseSize int
	fetchSymbolsLimit int
	fetchStoreLimit   int
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchSymbols, "symbols", "", "comma-separated symbol list (skips universe discovery)")
	fetchCmd.Flags().StringVar(&fetchDate, "date", "", "snapshot date YYYY-MM-DD (default: latest)")
	fetchCmd.Flags().BoolVar(&fetchAllDates, "all-dates", false, "store a snapshot for every date in the window")
	fetchCmd.Flags().IntVar(&fetchDays, "days", 0, "lookback days (default LOOKBACK_DAYS)")
	fetchCmd.Flags().IntVar(&fetchUniverseSize, "universe-size", 0, "screener universe size (default UNIVERSE_SIZE)")
	fetchCmd.Flags().IntVar(&fetchSymbolsLimit, "symbols-limit", 0, "cap the number of symbols processed")
	fetchCmd.Flags().IntVar(&fetchStoreLimit, "store-limit", 0, "ranks stored per date (default STORE_LIMIT)")
	fetchCmd.Flags().BoolVar(&fetchDryRun, "dry-run", false, "build rank rows without writing to the store")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)

	ingestCfg := ingest.Config{
		UniverseSize: cfg.Ingest.UniverseSize,
		StoreLimit:   cfg.Ingest.StoreLimit,
		LookbackDays: cfg.Ingest.LookbackDays,
		Workers:      cfg.Ingest.Workers,
		FetchTimeout: cfg.Ingest.FetchTimeout,
		AllDates:     fetchAllDates,
		DryRun:       fetchDryRun,
	}
	if fetchDays > 0 {
		ingestCfg.LookbackDays = fetchDays
	}
	if fetchUniverseSize > 0 {
		ingestCfg.UniverseSize = fetchUniverseSize
	}
	if fetchSymbolsLimit > 0 {
		ingestCfg.SymbolsLimit = fetchSymbolsLimit
	}
	if fetchStoreLimit > 0 {
		ingestCfg.StoreLimit = fetchStoreLimit
	}
	if fetchSymbols != "" {
		ingestCfg.Symbols = strings.Split(fetchSymbols, ",")
	}
	if fetchDate != "" {
		target, err := time.Parse("2006-01-02", fetchDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", fetchDate, err)
		}
		target = marketdata.NormalizeDate(target)
		ingestCfg.TargetDate = &target
	}

	pipeline, cleanup, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := pipeline.Run(cmd.Context(), ingestCfg)
	if err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

// buildPipeline wires the provider client, store and pipeline shared by the
// ingestion commands. The returned cleanup closes the acquired resources.
func buildPipeline(cfg *config.Config, log *logger.Logger) (*ingest.Pipeline, func(), error) {
	db, err := database.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	redisClient, err := redis.New(cfg)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	httpClient := httputil.New(log, cfg.Yahoo.RequestTimeout)
	if redisClient.Enabled() {
		httpClient = httpClient.WithRateLimiter(redis.NewRateLimiter(redisClient, "captrack"), redis.YahooRateLimit)
	}

	yahooClient := yahoo.New(httpClient, cfg.Yahoo.BaseURL, cfg.Yahoo.RequestsPerSec, log)
	rankStore := store.NewRankStore(db.Pool)
	pipeline := ingest.NewPipeline(yahooClient, rankStore, log)

	cleanup := func() {
		_ = redisClient.Close()
		db.Close()
	}
	return pipeline, cleanup, nil
}

func printSummary(summary *ingest.Summary) {
	fmt.Printf("\nRun %s\n", summary.RunID)
	fmt.Printf("  symbols:   %d (ok %d, failed %d)\n", summary.Symbols, summary.Succeeded, summary.Failed)
	fmt.Printf("  rows built:  %d\n", summary.RowsBuilt)
	if summary.DryRun {
		fmt.Println("  dry run: store untouched")
	} else {
		fmt.Printf("  rows stored: %d\n", summary.RowsStored)
	}

	if len(summary.Preview) > 0 {
		fmt.Printf("\nTop %d on %s:\n", len(summary.Preview), summary.Preview[0].AsOfDate.Format("2006-01-02"))
		for _, r := range summary.Preview {
			fmt.Printf("  %3d  %-8s  cap %.0f\n", r.Rank, r.Symbol, r.MarketCap)
		}
	}

	for _, result := range summary.Results {
		if result.Error != nil {
			fmt.Printf("  failed %s: %v\n", result.Symbol, result.Error)
		}
	}
}
