package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/captrack/internal/names"
	"github.com/wonny/captrack/pkg/config"
	"github.com/wonny/captrack/pkg/httputil"
	"github.com/wonny/captrack/pkg/logger"
)

// namesCmd represents the names command
var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "Fetch localized company names",
	Long: `Downloads Korean display names for US-listed companies and writes
them to the company names file served by the API.

Example:
  go run ./cmd/captrack names
  go run ./cmd/captrack names --merge --limit 2000`,
	RunE: runNames,
}

var (
	namesMerge bool
	namesLimit int
)

func init() {
	rootCmd.AddCommand(namesCmd)

	namesCmd.Flags().BoolVar(&namesMerge, "merge", true, "merge into the existing file instead of replacing it")
	namesCmd.Flags().IntVar(&namesLimit, "limit", 0, "stop after roughly this many names (0 = all)")
}

func runNames(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)

	httpClient := httputil.New(log, cfg.Yahoo.RequestTimeout)
	fetcher := names.NewFetcher(httpClient, cfg.Names.NaverURL, log)

	entries, err := fetcher.FetchAll(cmd.Context(), namesLimit)
	if err != nil {
		return fmt.Errorf("fetch company names: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no company names fetched")
	}

	if err := names.WriteFile(cfg.Names.FilePath, entries, namesMerge); err != nil {
		return fmt.Errorf("write company names: %w", err)
	}

	fmt.Printf("Wrote %d names to %s (merge=%v)\n", len(entries), cfg.Names.FilePath, namesMerge)
	return nil
}
