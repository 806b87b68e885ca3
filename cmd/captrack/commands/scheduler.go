package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/captrack/internal/scheduler"
	"github.com/wonny/captrack/internal/scheduler/jobs"
	"github.com/wonny/captrack/pkg/config"
	"github.com/wonny/captrack/pkg/logger"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the scheduled ingestion daemon",
	Long: `Starts the scheduler and runs the daily ranking ingestion on its
cron schedule (INGEST_CRON, default weekdays after US market close).

Example:
  go run ./cmd/captrack scheduler
  go run ./cmd/captrack scheduler --run-now`,
	RunE: runScheduler,
}

var schedulerRunNow bool

func init() {
	rootCmd.AddCommand(schedulerCmd)

	schedulerCmd.Flags().BoolVar(&schedulerRunNow, "run-now", false, "trigger the ingestion job immediately on startup")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)

	pipeline, cleanup, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	sched := scheduler.New(log)
	ingestJob := jobs.NewIngestJob(pipeline, cfg, log)
	if err := sched.AddJob(ingestJob); err != nil {
		return fmt.Errorf("register ingest job: %w", err)
	}

	sched.Start()
	defer sched.Stop()

	if schedulerRunNow {
		if err := sched.RunJob(ingestJob.Name()); err != nil {
			return err
		}
	}

	fmt.Printf("Scheduler running (%s). Press Ctrl+C to stop.\n", cfg.Ingest.CronSpec)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	return nil
}
