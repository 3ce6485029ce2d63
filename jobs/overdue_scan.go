package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-billing/meridian-billing/internal/invoices"
	jobmetrics "github.com/meridian-billing/meridian-billing/internal/jobs"
	"github.com/meridian-billing/meridian-billing/internal/observability"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// OverdueScanJob lists invoices past their due date and publishes the count.
type OverdueScanJob struct {
	Invoices *invoices.Service
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Gauges   *observability.Metrics
	clock    func() time.Time
}

// NewOverdueScanJob wires dependencies for the overdue sweep handler.
func NewOverdueScanJob(invoiceSvc *invoices.Service, logger *slog.Logger, metrics *jobmetrics.Metrics, gauges *observability.Metrics) *OverdueScanJob {
	return &OverdueScanJob{
		Invoices: invoiceSvc,
		Logger:   logger,
		Metrics:  metrics,
		Gauges:   gauges,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskInvoicesMarkOverdue tasks.
func (j *OverdueScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Invoices == nil {
		return errors.New("overdue scan: handler not configured")
	}
	var payload OverdueScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.now()
	}

	tracker := j.metrics().Track(TaskInvoicesMarkOverdue)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Time("as_of", asOf))
	overdue, err := j.Invoices.ListOverdue(ctx, asOf)
	if err != nil {
		resultErr = err
		logger.Error("list overdue invoices", slog.Any("error", err))
		return resultErr
	}
	j.Gauges.SetOverdueInvoices(len(overdue))
	for _, inv := range overdue {
		attrs := []any{
			slog.Int64("invoice_id", inv.ID),
			slog.String("number", inv.InvoiceNumber),
			slog.Int64("client_id", inv.ClientID),
		}
		if inv.DueDate != nil {
			attrs = append(attrs, slog.Time("due_date", *inv.DueDate))
		}
		logger.Warn("invoice overdue", attrs...)
	}
	logger.Info("overdue sweep complete", slog.Int("count", len(overdue)))
	return resultErr
}

func (j *OverdueScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *OverdueScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *OverdueScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
