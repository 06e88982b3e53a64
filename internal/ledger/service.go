package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts ledger persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, itemCode string, warehouseID int64) (Balance, error)
	MovementHistory(ctx context.Context, filter HistoryFilter) ([]Entry, error)
	EntriesForReference(ctx context.Context, refDoctype, refName string) ([]Entry, error)
	EntriesForBatch(ctx context.Context, batchID int64) ([]Entry, error)
	LowStock(ctx context.Context, filter LowStockFilter) ([]Balance, error)
	ValuationSummary(ctx context.Context) ([]ValuationSummary, error)
	DailyConsumption(ctx context.Context, filter ConsumptionFilter) ([]ConsumptionRow, error)
	LockWarehouse(ctx context.Context, lock WarehouseLock) error
	UnlockWarehouse(ctx context.Context, warehouseID int64) error
}

// AuditPort records administrative actions once they have committed.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CorrectionInput is the administrative balance correction request. The
// delta against the stored quantity is posted as a reconciliation
// movement so the ledger stays the source of truth.
type CorrectionInput struct {
	ItemCode      string
	WarehouseID   int64
	TargetQty     float64
	ReservedQty   *float64
	ValuationRate *float64
	Reason        string
	ActorID       int64
}

// Service coordinates ledger writes and read models.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cache *Cache
}

func NewService(repo RepositoryPort, audit AuditPort, cache *Cache) *Service {
	return &Service{repo: repo, audit: audit, cache: cache}
}

// RecordMovement appends one movement and updates the balance atomically.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = PostMovement(ctx, tx, input)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.invalidate(ctx)
	return entry, nil
}

// RecordMovements posts a group of movements in one transaction. Any
// failing line rolls back the whole group.
func (s *Service) RecordMovements(ctx context.Context, inputs []MovementInput) ([]Entry, error) {
	if len(inputs) == 0 {
		return nil, ErrInvalidMovement
	}
	entries := make([]Entry, 0, len(inputs))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, input := range inputs {
			entry, err := PostMovement(ctx, tx, input)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return entries, nil
}

func (s *Service) GetBalance(ctx context.Context, itemCode string, warehouseID int64) (Balance, error) {
	itemCode = strings.TrimSpace(itemCode)
	if itemCode == "" || warehouseID == 0 {
		return Balance{}, ErrInvalidMovement
	}
	return s.repo.GetBalance(ctx, itemCode, warehouseID)
}

func (s *Service) MovementHistory(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	filter.ItemCode = strings.TrimSpace(filter.ItemCode)
	if filter.ItemCode == "" || filter.WarehouseID == 0 {
		return nil, ErrInvalidMovement
	}
	return s.repo.MovementHistory(ctx, filter)
}

func (s *Service) EntriesForReference(ctx context.Context, refDoctype, refName string) ([]Entry, error) {
	return s.repo.EntriesForReference(ctx, refDoctype, refName)
}

func (s *Service) EntriesForBatch(ctx context.Context, batchID int64) ([]Entry, error) {
	return s.repo.EntriesForBatch(ctx, batchID)
}

func (s *Service) LowStock(ctx context.Context, filter LowStockFilter) ([]Balance, error) {
	key, err := s.cache.BuildKey(ctx, "ledger", "lowstock",
		strconv.FormatInt(filter.WarehouseID, 10), strconv.FormatFloat(filter.ReorderLevel, 'f', -1, 64))
	if err != nil {
		return nil, err
	}
	var rows []Balance
	err = s.cache.FetchJSON(ctx, key, &rows, func(ctx context.Context) (interface{}, error) {
		return s.repo.LowStock(ctx, filter)
	})
	return rows, err
}

func (s *Service) ValuationSummary(ctx context.Context) ([]ValuationSummary, error) {
	key, err := s.cache.BuildKey(ctx, "ledger", "valuation")
	if err != nil {
		return nil, err
	}
	var rows []ValuationSummary
	err = s.cache.FetchJSON(ctx, key, &rows, func(ctx context.Context) (interface{}, error) {
		return s.repo.ValuationSummary(ctx)
	})
	return rows, err
}

func (s *Service) DailyConsumption(ctx context.Context, filter ConsumptionFilter) ([]ConsumptionRow, error) {
	if filter.To.IsZero() {
		filter.To = time.Now().UTC()
	}
	if filter.From.IsZero() {
		filter.From = filter.To.AddDate(0, 0, -30)
	}
	return s.repo.DailyConsumption(ctx, filter)
}

// LockWarehouse freezes all movements against a warehouse, typically for
// a physical count window.
func (s *Service) LockWarehouse(ctx context.Context, warehouseID int64, reason string, actorID int64) error {
	reason = strings.TrimSpace(reason)
	if warehouseID == 0 || reason == "" {
		return ErrInvalidMovement
	}
	lock := WarehouseLock{WarehouseID: warehouseID, Reason: reason, LockedBy: actorID}
	if err := s.repo.LockWarehouse(ctx, lock); err != nil {
		return err
	}
	s.record(ctx, actorID, "WAREHOUSE_LOCK", fmt.Sprintf("%d", warehouseID), map[string]any{"reason": reason})
	return nil
}

func (s *Service) UnlockWarehouse(ctx context.Context, warehouseID int64, actorID int64) error {
	if warehouseID == 0 {
		return ErrInvalidMovement
	}
	if err := s.repo.UnlockWarehouse(ctx, warehouseID); err != nil {
		return err
	}
	s.record(ctx, actorID, "WAREHOUSE_UNLOCK", fmt.Sprintf("%d", warehouseID), nil)
	return nil
}

// CorrectBalance reconciles a stored balance to a counted quantity. The
// quantity delta is written as a RECONCILIATION ledger row, and reserved
// quantity or valuation rate overrides are applied to the balance
// directly. The lock check is bypassed so corrections can run during a
// count window.
func (s *Service) CorrectBalance(ctx context.Context, input CorrectionInput) (Entry, error) {
	input.ItemCode = strings.TrimSpace(input.ItemCode)
	if input.ItemCode == "" || input.WarehouseID == 0 {
		return Entry{}, ErrInvalidMovement
	}
	if strings.TrimSpace(input.Reason) == "" {
		return Entry{}, fmt.Errorf("%w: correction reason required", ErrInvalidMovement)
	}
	if input.TargetQty < 0 {
		return Entry{}, ErrInvalidQuantity
	}

	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetBalanceForUpdate(ctx, input.ItemCode, input.WarehouseID)
		switch err {
		case nil:
		case ErrBalanceNotFound:
			balance = Balance{ItemCode: input.ItemCode, WarehouseID: input.WarehouseID}
		default:
			return err
		}

		delta := input.TargetQty - balance.CurrentQty
		if delta > qtyEpsilon || delta < -qtyEpsilon {
			rate := balance.ValuationRate
			if input.ValuationRate != nil {
				rate = *input.ValuationRate
			}
			movement := MovementInput{
				ItemCode:      input.ItemCode,
				WarehouseID:   input.WarehouseID,
				Type:          TransactionTypeReconciliation,
				ValuationRate: rate,
				RefDoctype:    "Stock Reconciliation",
				RefName:       input.Reason,
				ActorID:       input.ActorID,
			}
			if delta > 0 {
				movement.QtyIn = delta
			} else {
				movement.QtyOut = -delta
			}
			entry, err = postMovement(ctx, tx, movement, true)
			if err != nil {
				return err
			}
			balance, err = tx.GetBalanceForUpdate(ctx, input.ItemCode, input.WarehouseID)
			if err != nil {
				return err
			}
		}

		changed := false
		if input.ReservedQty != nil && *input.ReservedQty != balance.ReservedQty {
			if *input.ReservedQty < 0 {
				return ErrInvalidQuantity
			}
			balance.ReservedQty = *input.ReservedQty
			changed = true
		}
		if input.ValuationRate != nil && *input.ValuationRate != balance.ValuationRate {
			if *input.ValuationRate < 0 {
				return ErrInvalidRate
			}
			balance.ValuationRate = *input.ValuationRate
			changed = true
		}
		if changed {
			return tx.UpsertBalance(ctx, balance)
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, input.ActorID, "BALANCE_CORRECT",
		fmt.Sprintf("%s@%d", input.ItemCode, input.WarehouseID),
		map[string]any{"target_qty": input.TargetQty, "reason": input.Reason})
	s.invalidate(ctx)
	return entry, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_balance",
		EntityID: entityID,
		Meta:     meta,
	})
}

func (s *Service) invalidate(ctx context.Context) {
	_ = s.cache.Invalidate(ctx)
}
