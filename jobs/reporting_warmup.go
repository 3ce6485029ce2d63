package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-billing/meridian-billing/internal/jobs"
	"github.com/meridian-billing/meridian-billing/internal/reporting"
)

// ReportingWarmupJob rebuilds the dashboard cache so the first request after
// an invalidation does not pay the aggregation cost.
type ReportingWarmupJob struct {
	Reporting *reporting.Service
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewReportingWarmupJob wires dependencies for the warmup handler.
func NewReportingWarmupJob(reportingSvc *reporting.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportingWarmupJob {
	return &ReportingWarmupJob{Reporting: reportingSvc, Logger: logger, Metrics: metrics}
}

// Handle processes TaskReportingWarmup tasks.
func (j *ReportingWarmupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Reporting == nil {
		return errors.New("reporting warmup: handler not configured")
	}

	tracker := j.metrics().Track(TaskReportingWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if err := j.Reporting.Warmup(ctx); err != nil {
		resultErr = err
		j.logger().Error("dashboard warmup", slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("dashboard warmup complete")
	return resultErr
}

func (j *ReportingWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReportingWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
