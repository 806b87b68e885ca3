package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/captrack/internal/ingest"
	"github.com/wonny/captrack/pkg/config"
	"github.com/wonny/captrack/pkg/logger"
)

// backfillCmd represents the backfill command
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rebuild ranking snapshots for the whole lookback window",
	Long: `Fetches the full lookback history and stores a ranking snapshot for
every trading date in it, replacing whatever was stored for those dates.

Useful after changing the universe or recovering from missed runs.

Example:
  go run ./cmd/captrack backfill
  go run ./cmd/captrack backfill --days 730
  go run ./cmd/captrack backfill --symbols AAPL,MSFT --dry-run`,
	RunE: runBackfill,
}

// defaultBackfillDays covers roughly fifteen years of trading history.
const defaultBackfillDays = 5475

var (
	backfillDays    int
	backfillSymbols string
	backfillDryRun  bool
)

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().IntVar(&backfillDays, "days", defaultBackfillDays, "lookback days to rebuild")
	backfillCmd.Flags().StringVar(&backfillSymbols, "symbols", "", "comma-separated symbol list (skips universe discovery)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "build rank rows without writing to the store")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)

	if backfillDays <= 0 {
		backfillDays = defaultBackfillDays
	}

	ingestCfg := ingest.Config{
		UniverseSize: cfg.Ingest.UniverseSize,
		StoreLimit:   cfg.Ingest.StoreLimit,
		LookbackDays: backfillDays,
		Workers:      cfg.Ingest.Workers,
		FetchTimeout: cfg.Ingest.FetchTimeout,
		AllDates:     true,
		DryRun:       backfillDryRun,
	}
	if backfillSymbols != "" {
		ingestCfg.Symbols = strings.Split(backfillSymbols, ",")
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
