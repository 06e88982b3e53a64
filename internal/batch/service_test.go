package batch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	batches map[int64]Batch
	byNo    map[string]int64
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: map[int64]Batch{}, byNo: map[string]int64{}}
}

type memoryTx struct {
	repo *memoryRepo
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapBatches := make(map[int64]Batch, len(m.batches))
	for k, v := range m.batches {
		snapBatches[k] = v
	}
	snapByNo := make(map[string]int64, len(m.byNo))
	for k, v := range m.byNo {
		snapByNo[k] = v
	}
	snapID := m.nextID
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.batches = snapBatches
		m.byNo = snapByNo
		m.nextID = snapID
		return err
	}
	return nil
}

func (t *memoryTx) GetForUpdate(_ context.Context, batchNo string) (Batch, error) {
	id, ok := t.repo.byNo[batchNo]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return t.repo.batches[id], nil
}

func (t *memoryTx) Insert(_ context.Context, b Batch) (int64, error) {
	if _, exists := t.repo.byNo[b.BatchNo]; exists {
		return 0, ErrDuplicateBatch
	}
	t.repo.nextID++
	b.ID = t.repo.nextID
	b.Status = StatusActive
	b.CurrentQty = b.BatchQty
	t.repo.batches[b.ID] = b
	t.repo.byNo[b.BatchNo] = b.ID
	return b.ID, nil
}

func (t *memoryTx) Deplete(_ context.Context, id int64, qty float64) (Batch, error) {
	b, ok := t.repo.batches[id]
	if !ok || b.Status != StatusActive || b.CurrentQty < qty {
		return Batch{}, ErrInsufficientQty
	}
	b.CurrentQty -= qty
	if b.CurrentQty <= 0 {
		b.CurrentQty = 0
		b.Status = StatusUsed
	}
	t.repo.batches[id] = b
	return b, nil
}

func (t *memoryTx) Replenish(_ context.Context, id int64, qty float64) (Batch, error) {
	b, ok := t.repo.batches[id]
	if !ok || (b.Status != StatusActive && b.Status != StatusUsed) {
		return Batch{}, ErrTerminalStatus
	}
	b.CurrentQty += qty
	if b.Status == StatusUsed && b.CurrentQty > 0 {
		b.Status = StatusActive
	}
	t.repo.batches[id] = b
	return b, nil
}

func (m *memoryRepo) Create(ctx context.Context, b Batch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memoryTx{repo: m}).Insert(ctx, b)
}

func (m *memoryRepo) GetByID(_ context.Context, id int64) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

func (m *memoryRepo) GetByBatchNo(_ context.Context, batchNo string) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byNo[batchNo]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return m.batches[id], nil
}

func (m *memoryRepo) List(_ context.Context, filter ListFilter) ([]Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Batch
	now := time.Now()
	for _, b := range m.batches {
		if filter.ItemCode != "" && b.ItemCode != filter.ItemCode {
			continue
		}
		if filter.WarehouseID != 0 && b.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if filter.Search != "" && !strings.Contains(b.BatchNo, filter.Search) {
			continue
		}
		if filter.ExpiredOnly && (b.Status != StatusActive || !b.Expirable() || !b.ExpiryDate.Before(now)) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *memoryRepo) Expired(_ context.Context, warehouseID int64) ([]ExpiryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []ExpiryRow
	for _, b := range m.batches {
		if b.Status != StatusActive || !b.Expirable() || !b.ExpiryDate.Before(now) {
			continue
		}
		if warehouseID != 0 && b.WarehouseID != warehouseID {
			continue
		}
		out = append(out, ExpiryRow{Batch: b, Days: int64(now.Sub(b.ExpiryDate).Hours() / 24)})
	}
	return out, nil
}

func (m *memoryRepo) NearExpiry(_ context.Context, days int, warehouseID int64) ([]ExpiryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	horizon := now.AddDate(0, 0, days)
	var out []ExpiryRow
	for _, b := range m.batches {
		if b.Status != StatusActive || !b.Expirable() {
			continue
		}
		if b.ExpiryDate.Before(now) || b.ExpiryDate.After(horizon) {
			continue
		}
		if warehouseID != 0 && b.WarehouseID != warehouseID {
			continue
		}
		out = append(out, ExpiryRow{Batch: b, Days: int64(b.ExpiryDate.Sub(now).Hours() / 24)})
	}
	return out, nil
}

func (m *memoryRepo) ItemBatchSummary(_ context.Context, itemCode string, warehouseID int64) ([]SummaryRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SummaryRow
	for _, b := range m.batches {
		if b.ItemCode != itemCode || b.WarehouseID != warehouseID {
			continue
		}
		out = append(out, SummaryRow{
			BatchNo:    b.BatchNo,
			MfgDate:    b.MfgDate,
			ExpiryDate: b.ExpiryDate,
			BatchQty:   b.BatchQty,
			CurrentQty: b.CurrentQty,
			Status:     b.Status,
		})
	}
	return out, nil
}

func (m *memoryRepo) SetStatus(_ context.Context, id int64, status Status, remarks string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return ErrBatchNotFound
	}
	if b.Status != StatusActive {
		return ErrTerminalStatus
	}
	b.Status = status
	if remarks != "" {
		b.Remarks = remarks
	}
	m.batches[id] = b
	return nil
}

type memoryLedger struct {
	entries map[int64][]ledger.Entry
}

func (m *memoryLedger) EntriesForBatch(_ context.Context, batchID int64) ([]ledger.Entry, error) {
	return m.entries[batchID], nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (m *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func newTestService() (*Service, *memoryRepo, *memoryLedger) {
	repo := newMemoryRepo()
	led := &memoryLedger{entries: map[int64][]ledger.Entry{}}
	return NewService(repo, led, &memoryAudit{}), repo, led
}

func activeBatch(no string, qty float64) CreateInput {
	return CreateInput{
		BatchNo:     no,
		ItemCode:    "FG-WIDGET",
		WarehouseID: 1,
		BatchQty:    qty,
		MfgDate:     time.Now().AddDate(0, -1, 0),
		ExpiryDate:  time.Now().AddDate(1, 0, 0),
	}
}

func TestCreateStartsActiveAtFullQty(t *testing.T) {
	svc, _, _ := newTestService()
	b, err := svc.Create(context.Background(), activeBatch("BATCH-001", 100))
	require.NoError(t, err)
	require.Equal(t, StatusActive, b.Status)
	require.InDelta(t, 100, b.CurrentQty, 1e-9)
	require.InDelta(t, b.BatchQty, b.CurrentQty, 1e-9)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{BatchNo: "B", ItemCode: "X", WarehouseID: 1, BatchQty: 0})
	require.ErrorIs(t, err, ErrInvalidBatch)

	input := activeBatch("BATCH-002", 10)
	input.ExpiryDate = input.MfgDate.AddDate(0, 0, -1)
	_, err = svc.Create(ctx, input)
	require.ErrorIs(t, err, ErrInvalidBatch)

	_, err = svc.Create(ctx, activeBatch("BATCH-003", 10))
	require.NoError(t, err)
	_, err = svc.Create(ctx, activeBatch("BATCH-003", 10))
	require.ErrorIs(t, err, ErrDuplicateBatch)
}

func TestDepleteLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, activeBatch("BATCH-010", 100))
	require.NoError(t, err)

	b, err := svc.Deplete(ctx, "BATCH-010", 30, 1)
	require.NoError(t, err)
	require.InDelta(t, 70, b.CurrentQty, 1e-9)
	require.Equal(t, StatusActive, b.Status)

	_, err = svc.Deplete(ctx, "BATCH-010", 80, 1)
	require.ErrorIs(t, err, ErrInsufficientQty)

	b, err = svc.Deplete(ctx, "BATCH-010", 70, 1)
	require.NoError(t, err)
	require.Zero(t, b.CurrentQty)
	require.Equal(t, StatusUsed, b.Status)

	// A spent batch reports insufficient quantity, not a terminal status.
	_, err = svc.Deplete(ctx, "BATCH-010", 1, 1)
	require.ErrorIs(t, err, ErrInsufficientQty)
}

func TestDepleteScrappedBatchIsTerminal(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	b, err := svc.Create(ctx, activeBatch("BATCH-011", 50))
	require.NoError(t, err)

	_, err = svc.MarkScrapped(ctx, b.ID, "water damage", 1)
	require.NoError(t, err)

	_, err = svc.Deplete(ctx, "BATCH-011", 10, 1)
	require.ErrorIs(t, err, ErrTerminalStatus)
}

func TestTerminalTransitionsRejected(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	b, err := svc.Create(ctx, activeBatch("BATCH-020", 10))
	require.NoError(t, err)

	_, err = svc.MarkExpired(ctx, b.ID, 1)
	require.NoError(t, err)

	_, err = svc.MarkScrapped(ctx, b.ID, "damaged", 1)
	require.ErrorIs(t, err, ErrTerminalStatus)

	_, err = svc.MarkExpired(ctx, b.ID, 1)
	require.ErrorIs(t, err, ErrTerminalStatus)
}

func TestScrapRequiresReason(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	b, err := svc.Create(ctx, activeBatch("BATCH-030", 10))
	require.NoError(t, err)

	_, err = svc.MarkScrapped(ctx, b.ID, "  ", 1)
	require.ErrorIs(t, err, ErrInvalidBatch)

	scrapped, err := svc.MarkScrapped(ctx, b.ID, "water damage", 1)
	require.NoError(t, err)
	require.Equal(t, StatusScrapped, scrapped.Status)
	require.Equal(t, "water damage", scrapped.Remarks)
}

func TestExpiredStillDepletable(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	input := activeBatch("BATCH-040", 50)
	input.MfgDate = time.Now().AddDate(-1, 0, 0)
	input.ExpiryDate = time.Now().AddDate(0, 0, -5)
	_, err := svc.Create(ctx, input)
	require.NoError(t, err)

	rows, err := svc.Expired(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "BATCH-040", rows[0].BatchNo)

	b, err := svc.Deplete(ctx, "BATCH-040", 20, 1)
	require.NoError(t, err)
	require.InDelta(t, 30, b.CurrentQty, 1e-9)
}

func TestNearExpiryWindow(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	soon := activeBatch("BATCH-050", 10)
	soon.ExpiryDate = time.Now().AddDate(0, 0, 10)
	_, err := svc.Create(ctx, soon)
	require.NoError(t, err)

	far := activeBatch("BATCH-051", 10)
	far.ExpiryDate = time.Now().AddDate(0, 6, 0)
	_, err = svc.Create(ctx, far)
	require.NoError(t, err)

	rows, err := svc.NearExpiry(ctx, 30, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "BATCH-050", rows[0].BatchNo)
}

func TestTraceabilityAggregatesLedger(t *testing.T) {
	svc, _, led := newTestService()
	ctx := context.Background()

	b, err := svc.Create(ctx, activeBatch("BATCH-060", 100))
	require.NoError(t, err)

	led.entries[b.ID] = []ledger.Entry{
		{BatchID: b.ID, QtyIn: 100, Type: ledger.TransactionTypeReceipt},
		{BatchID: b.ID, QtyOut: 40, Type: ledger.TransactionTypeIssue},
	}

	trace, err := svc.Traceability(ctx, "BATCH-060")
	require.NoError(t, err)
	require.Len(t, trace.Entries, 2)
	require.InDelta(t, 100, trace.TotalIn, 1e-9)
	require.InDelta(t, 40, trace.TotalOut, 1e-9)

	_, err = svc.Traceability(ctx, "BATCH-MISSING")
	require.ErrorIs(t, err, ErrBatchNotFound)
}
