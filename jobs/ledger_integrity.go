package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// DriftLister recomputes balances from ledger rows and returns the pairs
// whose stored balance disagrees beyond the tolerance.
type DriftLister interface {
	BalanceDrift(ctx context.Context, tolerance float64) ([]ledger.Balance, error)
}

// IntegrityJob cross-checks stock balances against the ledger sum.
type IntegrityJob struct {
	Repo    DriftLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewIntegrityJob wires dependencies for the integrity handler.
func NewIntegrityJob(repo DriftLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{
		Repo:    repo,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the integrity check.
func (j *IntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Repo == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload IntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Tolerance <= 0 {
		payload.Tolerance = 0.001
	}

	tracker := j.metrics().Track(TaskLedgerIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger := j.logger().With(slog.Float64("tolerance", payload.Tolerance))
	logger.Info("starting ledger integrity check")

	drifts, err := j.Repo.BalanceDrift(ctx, payload.Tolerance)
	if err != nil {
		resultErr = err
		logger.Error("balance drift query", slog.Any("error", err))
		return resultErr
	}

	for _, d := range drifts {
		logger.Warn("balance drift detected",
			slog.String("item_code", d.ItemCode),
			slog.Int64("warehouse_id", d.WarehouseID),
			slog.Float64("stored_qty", d.CurrentQty),
		)
		j.metrics().AddAnomalies("balance_drift", d.WarehouseID, 1)
	}

	logger.Info("completed ledger integrity check",
		slog.Int("drifts", len(drifts)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *IntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *IntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
