package batch

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts batch persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Create(ctx context.Context, b Batch) (int64, error)
	GetByID(ctx context.Context, id int64) (Batch, error)
	GetByBatchNo(ctx context.Context, batchNo string) (Batch, error)
	List(ctx context.Context, filter ListFilter) ([]Batch, error)
	Expired(ctx context.Context, warehouseID int64) ([]ExpiryRow, error)
	NearExpiry(ctx context.Context, days int, warehouseID int64) ([]ExpiryRow, error)
	ItemBatchSummary(ctx context.Context, itemCode string, warehouseID int64) ([]SummaryRow, error)
	SetStatus(ctx context.Context, id int64, status Status, remarks string) error
}

// LedgerPort reads movement rows linked to a batch.
type LedgerPort interface {
	EntriesForBatch(ctx context.Context, batchID int64) ([]ledger.Entry, error)
}

// AuditPort records lifecycle actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Traceability is a batch joined with every ledger row that touched it.
type Traceability struct {
	Batch    Batch
	Entries  []ledger.Entry
	TotalIn  float64
	TotalOut float64
}

// Service coordinates batch lifecycle operations.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	audit  AuditPort
}

func NewService(repo RepositoryPort, ledgerPort LedgerPort, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledgerPort, audit: audit}
}

// Create registers a new Active batch. CurrentQty starts at BatchQty.
func (s *Service) Create(ctx context.Context, input CreateInput) (Batch, error) {
	input.BatchNo = strings.TrimSpace(input.BatchNo)
	input.ItemCode = strings.TrimSpace(input.ItemCode)
	if input.BatchNo == "" || input.ItemCode == "" || input.WarehouseID == 0 {
		return Batch{}, ErrInvalidBatch
	}
	if input.BatchQty <= 0 {
		return Batch{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidBatch)
	}
	if !input.MfgDate.IsZero() && !input.ExpiryDate.IsZero() && !input.ExpiryDate.After(input.MfgDate) {
		return Batch{}, fmt.Errorf("%w: expiry date must follow manufacture date", ErrInvalidBatch)
	}
	b := Batch{
		BatchNo:     input.BatchNo,
		ItemCode:    input.ItemCode,
		WarehouseID: input.WarehouseID,
		BatchQty:    input.BatchQty,
		CurrentQty:  input.BatchQty,
		MfgDate:     input.MfgDate,
		ExpiryDate:  input.ExpiryDate,
		Status:      StatusActive,
		RefDoctype:  input.RefDoctype,
		RefName:     input.RefName,
		Remarks:     input.Remarks,
	}
	id, err := s.repo.Create(ctx, b)
	if err != nil {
		return Batch{}, err
	}
	b.ID = id
	s.record(ctx, input.ActorID, "BATCH_CREATE", b.BatchNo, map[string]any{
		"item_code": b.ItemCode, "warehouse_id": b.WarehouseID, "qty": b.BatchQty,
	})
	return b, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Batch, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, batchNo string) (Batch, error) {
	batchNo = strings.TrimSpace(batchNo)
	if batchNo == "" {
		return Batch{}, ErrInvalidBatch
	}
	return s.repo.GetByBatchNo(ctx, batchNo)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Batch, error) {
	return s.repo.List(ctx, filter)
}

// Deplete subtracts a quantity from a batch outside any document flow,
// flipping the status to Used when it reaches zero.
func (s *Service) Deplete(ctx context.Context, batchNo string, qty float64, actorID int64) (Batch, error) {
	var depleted Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		depleted, err = DepleteByNumber(ctx, tx, strings.TrimSpace(batchNo), qty)
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	s.record(ctx, actorID, "BATCH_DEPLETE", depleted.BatchNo, map[string]any{
		"qty": qty, "remaining": depleted.CurrentQty, "status": depleted.Status,
	})
	return depleted, nil
}

// MarkExpired retires an Active batch past its shelf life.
func (s *Service) MarkExpired(ctx context.Context, id int64, actorID int64) (Batch, error) {
	if err := s.repo.SetStatus(ctx, id, StatusExpired, ""); err != nil {
		return Batch{}, err
	}
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	s.record(ctx, actorID, "BATCH_EXPIRE", b.BatchNo, nil)
	return b, nil
}

// MarkScrapped writes off an Active batch with a reason.
func (s *Service) MarkScrapped(ctx context.Context, id int64, reason string, actorID int64) (Batch, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Batch{}, fmt.Errorf("%w: scrap reason required", ErrInvalidBatch)
	}
	if err := s.repo.SetStatus(ctx, id, StatusScrapped, reason); err != nil {
		return Batch{}, err
	}
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	s.record(ctx, actorID, "BATCH_SCRAP", b.BatchNo, map[string]any{"reason": reason})
	return b, nil
}

// Expired lists Active batches whose expiry date already passed.
func (s *Service) Expired(ctx context.Context, warehouseID int64) ([]ExpiryRow, error) {
	return s.repo.Expired(ctx, warehouseID)
}

// NearExpiry lists Active batches expiring within the threshold window.
func (s *Service) NearExpiry(ctx context.Context, days int, warehouseID int64) ([]ExpiryRow, error) {
	if days <= 0 {
		days = 30
	}
	return s.repo.NearExpiry(ctx, days, warehouseID)
}

func (s *Service) ItemBatchSummary(ctx context.Context, itemCode string, warehouseID int64) ([]SummaryRow, error) {
	itemCode = strings.TrimSpace(itemCode)
	if itemCode == "" || warehouseID == 0 {
		return nil, ErrInvalidBatch
	}
	return s.repo.ItemBatchSummary(ctx, itemCode, warehouseID)
}

// Traceability returns the batch and every ledger row referencing it.
func (s *Service) Traceability(ctx context.Context, batchNo string) (Traceability, error) {
	b, err := s.GetByNumber(ctx, batchNo)
	if err != nil {
		return Traceability{}, err
	}
	entries, err := s.ledger.EntriesForBatch(ctx, b.ID)
	if err != nil {
		return Traceability{}, err
	}
	trace := Traceability{Batch: b, Entries: entries}
	for _, e := range entries {
		trace.TotalIn += e.QtyIn
		trace.TotalOut += e.QtyOut
	}
	return trace, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, batchNo string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "batch_tracking",
		EntityID: batchNo,
		Meta:     meta,
	})
}
