package stockentry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/batch"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const defaultUOM = "Kg"

// RepositoryPort abstracts stock entry persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByID(ctx context.Context, id int64) (Entry, error)
	GetByNumber(ctx context.Context, entryNo string) (Entry, error)
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
	UpdateDraft(ctx context.Context, id int64, purpose, remarks string, actorID int64) error
}

// AuditPort records document lifecycle actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort fences posting operations against duplicate delivery.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates the stock entry document lifecycle.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	numberWidth int
}

func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, numberWidth int) *Service {
	if numberWidth <= 0 {
		numberWidth = sequence.DefaultWidth
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, numberWidth: numberWidth}
}

// Create drafts a stock entry. Entries referencing a goods receipt note
// and Material Receipts are submitted immediately; when that submission
// fails the draft survives and the failure is reported as a warning.
func (s *Service) Create(ctx context.Context, input CreateInput) (CreateResult, error) {
	if err := validateCreate(&input); err != nil {
		return CreateResult{}, err
	}

	var entryID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.RefDoctype == "GRN" && input.RefName != "" {
			exists, err := tx.ExistsForReference(ctx, input.RefDoctype, input.RefName)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: GRN %s", ErrDuplicateReference, input.RefName)
			}
		}

		periodKey := sequence.PeriodKey(input.EntryDate)
		n, err := tx.NextNumber(ctx, input.Type.Prefix(), periodKey)
		if err != nil {
			return err
		}

		entry := Entry{
			EntryNo:         sequence.Format(input.Type.Prefix(), periodKey, n, s.numberWidth),
			EntryDate:       input.EntryDate,
			Type:            input.Type,
			FromWarehouseID: input.FromWarehouseID,
			ToWarehouseID:   input.ToWarehouseID,
			Purpose:         input.Purpose,
			RefDoctype:      input.RefDoctype,
			RefName:         input.RefName,
			Status:          StatusDraft,
			Remarks:         input.Remarks,
			CreatedBy:       input.ActorID,
		}
		items := make([]Item, 0, len(input.Items))
		for _, in := range input.Items {
			value := in.Qty * in.ValuationRate
			entry.TotalQty += in.Qty
			entry.TotalValue += value
			items = append(items, Item{
				ItemCode:      in.ItemCode,
				Qty:           in.Qty,
				UOM:           in.UOM,
				ValuationRate: in.ValuationRate,
				Value:         value,
				BatchNo:       in.BatchNo,
				SerialNo:      in.SerialNo,
				Remarks:       in.Remarks,
			})
		}

		entryID, err = tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		return tx.InsertItems(ctx, entryID, items)
	})
	if err != nil {
		return CreateResult{}, err
	}

	s.record(ctx, input.ActorID, "STOCK_ENTRY_CREATE", entryID, nil)

	result := CreateResult{}
	if input.RefDoctype == "GRN" || input.Type == TypeMaterialReceipt {
		submitted, err := s.Submit(ctx, entryID, input.ActorID)
		if err == nil {
			result.Entry = submitted
			return result, nil
		}
		result.Warning = err.Error()
	}
	result.Entry, err = s.repo.GetByID(ctx, entryID)
	return result, err
}

// Submit posts every line of a draft entry to the ledger inside one
// transaction. A failing line leaves the document Draft and no ledger or
// batch row behind.
func (s *Service) Submit(ctx context.Context, id, actorID int64) (Entry, error) {
	key := fmt.Sprintf("stock_entry:submit:%d", id)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stockentry"); err != nil {
			return Entry{}, err
		}
		inserted = true
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status != StatusDraft {
			return fmt.Errorf("%w: %s is %s", ErrNotDraft, entry.EntryNo, entry.Status)
		}
		if err := s.postItems(ctx, tx, entry, actorID, false); err != nil {
			return err
		}
		return tx.MarkSubmitted(ctx, id, actorID)
	})
	if err != nil {
		// Release the key so a failed submit can be retried.
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Entry{}, err
	}
	s.record(ctx, actorID, "STOCK_ENTRY_SUBMIT", id, nil)
	return s.repo.GetByID(ctx, id)
}

// Cancel reverses a submitted entry: every posted quantity comes back as
// a mirrored ledger row and depleted batches are replenished. History is
// never rewritten.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (Entry, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status != StatusSubmitted {
			return fmt.Errorf("%w: %s is %s", ErrNotSubmitted, entry.EntryNo, entry.Status)
		}
		if err := s.postItems(ctx, tx, entry, actorID, true); err != nil {
			return err
		}
		return tx.MarkCancelled(ctx, id, actorID)
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, actorID, "STOCK_ENTRY_CANCEL", id, nil)
	return s.repo.GetByID(ctx, id)
}

// Delete removes a draft entry and its lines. Posted documents cannot be
// deleted, only cancelled.
func (s *Service) Delete(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetForUpdate(ctx, id); err != nil {
			return err
		}
		return tx.DeleteEntry(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "STOCK_ENTRY_DELETE", id, nil)
	return nil
}

// UpdateDraft edits purpose and remarks of a draft.
func (s *Service) UpdateDraft(ctx context.Context, id int64, purpose, remarks string, actorID int64) (Entry, error) {
	if err := s.repo.UpdateDraft(ctx, id, purpose, remarks, actorID); err != nil {
		return Entry{}, err
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Get(ctx context.Context, id int64) (Entry, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, entryNo string) (Entry, error) {
	entryNo = strings.TrimSpace(entryNo)
	if entryNo == "" {
		return Entry{}, ErrInvalidEntry
	}
	return s.repo.GetByNumber(ctx, entryNo)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	return s.repo.List(ctx, filter)
}

// postItems turns document lines into ledger movements. With reverse set
// the movement direction flips, producing the cancellation rows.
func (s *Service) postItems(ctx context.Context, tx TxRepository, entry Entry, actorID int64, reverse bool) error {
	for _, item := range entry.Items {
		movements, err := s.lineMovements(ctx, tx, entry, item, actorID, reverse)
		if err != nil {
			return err
		}
		for _, movement := range movements {
			if _, err := tx.PostMovement(ctx, movement); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) lineMovements(ctx context.Context, tx TxRepository, entry Entry, item Item, actorID int64, reverse bool) ([]ledger.MovementInput, error) {
	base := ledger.MovementInput{
		ItemCode:      item.ItemCode,
		Type:          entry.Type.LedgerType(),
		ValuationRate: item.ValuationRate,
		RefDoctype:    "Stock Entry",
		RefName:       entry.EntryNo,
		ActorID:       actorID,
		TransactionAt: entry.EntryDate,
	}
	if reverse {
		base.TransactionAt = time.Now().UTC()
	}

	batchID, err := s.applyBatch(ctx, tx, entry, item, reverse)
	if err != nil {
		return nil, err
	}
	base.BatchID = batchID

	switch {
	case entry.Type == TypeMaterialTransfer:
		out, in := base, base
		out.WarehouseID = entry.FromWarehouseID
		out.QtyOut = item.Qty
		in.WarehouseID = entry.ToWarehouseID
		in.QtyIn = item.Qty
		if reverse {
			out.QtyOut, out.QtyIn = 0, item.Qty
			in.QtyIn, in.QtyOut = 0, item.Qty
		}
		return []ledger.MovementInput{out, in}, nil
	case entry.Type.Inbound() != reverse:
		base.WarehouseID = entry.ToWarehouseID
		base.QtyIn = item.Qty
		if reverse {
			base.WarehouseID = entry.FromWarehouseID
		}
		return []ledger.MovementInput{base}, nil
	default:
		base.WarehouseID = entry.FromWarehouseID
		base.QtyOut = item.Qty
		if reverse {
			base.WarehouseID = entry.ToWarehouseID
		}
		return []ledger.MovementInput{base}, nil
	}
}

// applyBatch registers or depletes the line's batch and returns its id.
// Inbound lines create the batch on first sight; outbound lines consume
// from it. Reversal swaps the direction.
func (s *Service) applyBatch(ctx context.Context, tx TxRepository, entry Entry, item Item, reverse bool) (int64, error) {
	if item.BatchNo == "" {
		return 0, nil
	}
	// Transfers move the batch between warehouses without changing its
	// quantity. The id is still stamped on both ledger legs.
	if entry.Type == TypeMaterialTransfer {
		b, err := tx.FindBatch(ctx, item.BatchNo)
		if err != nil {
			return 0, err
		}
		return b.ID, nil
	}

	inbound := entry.Type.Inbound()
	if reverse {
		inbound = !inbound
	}
	if inbound {
		_, err := tx.FindBatch(ctx, item.BatchNo)
		switch {
		case err == nil:
			b, err := tx.ReplenishBatch(ctx, item.BatchNo, item.Qty)
			if err != nil {
				return 0, err
			}
			return b.ID, nil
		case errors.Is(err, batch.ErrBatchNotFound) && !reverse:
			warehouseID := entry.ToWarehouseID
			if warehouseID == 0 {
				warehouseID = entry.FromWarehouseID
			}
			return tx.CreateBatch(ctx, batch.Batch{
				BatchNo:     item.BatchNo,
				ItemCode:    item.ItemCode,
				WarehouseID: warehouseID,
				BatchQty:    item.Qty,
				RefDoctype:  "Stock Entry",
				RefName:     entry.EntryNo,
			})
		default:
			return 0, err
		}
	}
	b, err := tx.DepleteBatch(ctx, item.BatchNo, item.Qty)
	if err != nil {
		return 0, err
	}
	return b.ID, nil
}

func validateCreate(input *CreateInput) error {
	if !input.Type.Valid() {
		return fmt.Errorf("%w: unknown entry type %q", ErrInvalidEntry, input.Type)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: at least one item required", ErrInvalidEntry)
	}
	if input.EntryDate.IsZero() {
		input.EntryDate = time.Now().UTC()
	}
	switch {
	case input.Type == TypeMaterialTransfer:
		if input.FromWarehouseID == 0 || input.ToWarehouseID == 0 {
			return fmt.Errorf("%w: transfer requires both warehouses", ErrInvalidEntry)
		}
		if input.FromWarehouseID == input.ToWarehouseID {
			return fmt.Errorf("%w: source and destination must differ", ErrInvalidEntry)
		}
	case input.Type.Inbound():
		if input.ToWarehouseID == 0 {
			return fmt.Errorf("%w: destination warehouse required", ErrInvalidEntry)
		}
	default:
		if input.FromWarehouseID == 0 {
			return fmt.Errorf("%w: source warehouse required", ErrInvalidEntry)
		}
	}
	for i := range input.Items {
		item := &input.Items[i]
		item.ItemCode = strings.TrimSpace(item.ItemCode)
		if item.ItemCode == "" {
			return fmt.Errorf("%w: item code required on every line", ErrInvalidEntry)
		}
		if item.Qty <= 0 {
			return fmt.Errorf("%w: quantity must be positive on %s", ErrInvalidEntry, item.ItemCode)
		}
		if item.ValuationRate < 0 {
			return fmt.Errorf("%w: valuation rate must be >= 0 on %s", ErrInvalidEntry, item.ItemCode)
		}
		if item.UOM == "" {
			item.UOM = defaultUOM
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_entries",
		EntityID: strconv.FormatInt(entryID, 10),
		Meta:     meta,
	})
}
