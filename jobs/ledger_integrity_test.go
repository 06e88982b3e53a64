package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

type fakeDriftLister struct {
	tolerance float64
	rows      []ledger.Balance
	err       error
}

func (f *fakeDriftLister) BalanceDrift(_ context.Context, tolerance float64) ([]ledger.Balance, error) {
	f.tolerance = tolerance
	return f.rows, f.err
}

func TestIntegrityJobReportsDrift(t *testing.T) {
	lister := &fakeDriftLister{rows: []ledger.Balance{
		{ItemCode: "RM-STEEL", WarehouseID: 1, CurrentQty: 42},
	}}
	job := NewIntegrityJob(lister, nil, nil)

	task, err := NewIntegrityTask(0.5)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.InDelta(t, 0.5, lister.tolerance, 1e-9)
}

func TestIntegrityJobDefaultsTolerance(t *testing.T) {
	lister := &fakeDriftLister{}
	job := NewIntegrityJob(lister, nil, nil)

	task, err := NewIntegrityTask(0)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.InDelta(t, 0.001, lister.tolerance, 1e-9)
}

func TestIntegrityJobPropagatesQueryError(t *testing.T) {
	lister := &fakeDriftLister{err: errors.New("boom")}
	job := NewIntegrityJob(lister, nil, nil)

	task, err := NewIntegrityTask(0.1)
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))
}

func TestIntegrityJobSkipsMalformedPayload(t *testing.T) {
	lister := &fakeDriftLister{}
	job := NewIntegrityJob(lister, nil, nil)

	task := asynq.NewTask(TaskLedgerIntegrity, []byte("{not json"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}
