package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "captrack",
	Short: "Daily US market-cap ranking tracker",
	Long: `captrack builds and serves daily market-capitalization rankings.

It fetches raw price, split and shares data from upstream providers,
reconstructs split-consistent shares, ranks the universe by market cap
and serves the snapshots plus derived analytics over HTTP.

Usage:
  go run ./cmd/captrack [command]

Examples:
  go run ./cmd/captrack api
  go run ./cmd/captrack fetch
  go run ./cmd/captrack backfill --days 365
  go run ./cmd/captrack names --merge
  go run ./cmd/captrack scheduler`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
