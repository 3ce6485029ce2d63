package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInvoicesMarkOverdue sweeps issued invoices whose due date has passed.
	TaskInvoicesMarkOverdue = "invoices:mark_overdue"
	// TaskReportingWarmup pre-populates the dashboard cache.
	TaskReportingWarmup = "reporting:warmup"
)

// OverdueScanPayload carries the reference time for an overdue sweep.
type OverdueScanPayload struct {
	AsOf time.Time `json:"as_of"`
}

// NewOverdueScanTask constructs an Asynq task for the overdue invoice sweep.
func NewOverdueScanTask(asOf time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(OverdueScanPayload{AsOf: asOf.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoicesMarkOverdue, body, asynq.Queue(QueueDefault)), nil
}

// ReportingWarmupPayload is currently empty; the warmup always rebuilds the
// current dashboard snapshot.
type ReportingWarmupPayload struct{}

// NewReportingWarmupTask constructs an Asynq task for the dashboard warmup.
func NewReportingWarmupTask() (*asynq.Task, error) {
	body, err := json.Marshal(ReportingWarmupPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportingWarmup, body, asynq.Queue(QueueDefault)), nil
}
