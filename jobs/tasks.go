package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBatchExpiryScan sweeps batch_tracking for expired and
	// near-expiry lots.
	TaskBatchExpiryScan = "batch:expiry_scan"
	// TaskLedgerIntegrity recomputes balances from the ledger and
	// reports drift.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskReportWarmup pre-populates the cached ledger reports.
	TaskReportWarmup = "ledger:report_warmup"
	// TaskIdempotencyCleanup prunes stale idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ExpiryScanPayload tunes the near-expiry window.
type ExpiryScanPayload struct {
	NearDays int `json:"near_days"`
}

// NewExpiryScanTask constructs an Asynq task for the batch expiry sweep.
func NewExpiryScanTask(nearDays int) (*asynq.Task, error) {
	body, err := json.Marshal(ExpiryScanPayload{NearDays: nearDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBatchExpiryScan, body, asynq.Queue(QueueDefault)), nil
}

// IntegrityPayload carries the drift tolerance in stock units.
type IntegrityPayload struct {
	Tolerance float64 `json:"tolerance"`
}

// NewIntegrityTask constructs an Asynq task for the ledger integrity check.
func NewIntegrityTask(tolerance float64) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityPayload{Tolerance: tolerance})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// ReportWarmupPayload scopes the cached report warmup.
type ReportWarmupPayload struct {
	ReorderLevel float64 `json:"reorder_level"`
}

// NewReportWarmupTask constructs an Asynq task for report cache warmup.
func NewReportWarmupTask(reorderLevel float64) (*asynq.Task, error) {
	body, err := json.Marshal(ReportWarmupPayload{ReorderLevel: reorderLevel})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportWarmup, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload bounds how far back keys are kept.
type IdempotencyCleanupPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	hours := int(olderThan / time.Hour)
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThanHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
