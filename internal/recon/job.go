package recon

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sikaledger/sikaledger/internal/jobs"
	"github.com/sikaledger/sikaledger/jobs"
)

// SnapshotJob processes reconciliation snapshot tasks.
type SnapshotJob struct {
	engine  *Engine
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewSnapshotJob constructs a job handler.
func NewSnapshotJob(engine *Engine, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotJob {
	return &SnapshotJob{engine: engine, logger: logger, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *SnapshotJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.ReconSnapshotPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("recon_snapshot")
	report, err := j.engine.Snapshot(ctx)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("reconciliation snapshot", slog.String("trigger", payload.Trigger), slog.Any("error", err))
		}
		return tracker.End(err)
	}
	if j.logger != nil {
		j.logger.Info("reconciliation snapshot stored",
			slog.Int64("snapshot_id", report.SnapshotID),
			slog.Int("rows", len(report.Rows)),
			slog.String("trigger", payload.Trigger))
	}
	return tracker.End(nil)
}
