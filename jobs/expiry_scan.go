package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/meridian-erp/meridian-erp/internal/batch"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// printer renders quantities with digit grouping for operator-facing logs.
var printer = message.NewPrinter(language.English)

// ExpiryScanJob retires expired batches and flags lots approaching their
// expiry date.
type ExpiryScanJob struct {
	Batches *batch.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpiryScanJob wires dependencies for the expiry sweep handler.
func NewExpiryScanJob(batches *batch.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryScanJob {
	return &ExpiryScanJob{
		Batches: batches,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the expiry sweep.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Batches == nil {
		return errors.New("expiry scan: handler not configured")
	}
	var payload ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.NearDays <= 0 {
		payload.NearDays = 30
	}

	tracker := j.metrics().Track(TaskBatchExpiryScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger := j.logger().With(slog.Int("near_days", payload.NearDays))
	logger.Info("starting batch expiry scan")

	expired, err := j.Batches.Expired(ctx, 0)
	if err != nil {
		resultErr = err
		logger.Error("list expired batches", slog.Any("error", err))
		return resultErr
	}
	retired := 0
	for _, row := range expired {
		if _, err := j.Batches.MarkExpired(ctx, row.ID, 0); err != nil {
			// Keep sweeping; a single contested batch should not stall
			// the whole run.
			logger.Error("mark batch expired",
				slog.String("batch_no", row.BatchNo),
				slog.Any("error", err))
			resultErr = err
			continue
		}
		j.metrics().AddAnomalies("expired", row.WarehouseID, 1)
		retired++
	}

	near, err := j.Batches.NearExpiry(ctx, payload.NearDays, 0)
	if err != nil {
		resultErr = err
		logger.Error("list near-expiry batches", slog.Any("error", err))
		return resultErr
	}
	for _, row := range near {
		logger.Warn("batch approaching expiry",
			slog.String("batch_no", row.BatchNo),
			slog.String("item_code", row.ItemCode),
			slog.Int64("warehouse_id", row.WarehouseID),
			slog.Int64("days_left", row.Days),
			slog.String("qty", printer.Sprintf("%.3f", row.CurrentQty)),
		)
		j.metrics().AddAnomalies("near_expiry", row.WarehouseID, 1)
	}

	logger.Info("completed batch expiry scan",
		slog.Int("expired", retired),
		slog.Int("near_expiry", len(near)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *ExpiryScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBatchExpiryScan))
	}
	return slog.Default().With(slog.String("job", TaskBatchExpiryScan))
}

func (j *ExpiryScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ExpiryScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
