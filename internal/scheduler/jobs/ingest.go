package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/captrack/internal/ingest"
	"github.com/wonny/captrack/pkg/config"
	"github.com/wonny/captrack/pkg/logger"
)

// IngestJob runs the daily ranking ingestion batch on a cron schedule.
type IngestJob struct {
	pipeline *ingest.Pipeline
	cfg      *config.Config
	logger   *logger.Logger
}

// NewIngestJob creates the scheduled ingestion job.
func NewIngestJob(pipeline *ingest.Pipeline, cfg *config.Config, log *logger.Logger) *IngestJob {
	return &IngestJob{
		pipeline: pipeline,
		cfg:      cfg,
		logger:   log,
	}
}

func (j *IngestJob) Name() string { return "daily-ranking-ingest" }

func (j *IngestJob) Schedule() string { return j.cfg.Ingest.CronSpec }

func (j *IngestJob) Run(ctx context.Context) error {
	summary, err := j.pipeline.Run(ctx, ingest.Config{
		UniverseSize: j.cfg.Ingest.UniverseSize,
		StoreLimit:   j.cfg.Ingest.StoreLimit,
		LookbackDays: j.cfg.Ingest.LookbackDays,
		Workers:      j.cfg.Ingest.Workers,
		FetchTimeout: j.cfg.Ingest.FetchTimeout,
	})
	if err != nil {
		return fmt.Errorf("scheduled ingestion: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"run_id":      summary.RunID,
		"rows_stored": summary.RowsStored,
		"success":     summary.Succeeded,
		"failed":      summary.Failed,
	}).Info("Scheduled ingestion finished")

	return nil
}
