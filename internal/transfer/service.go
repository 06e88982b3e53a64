package transfer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const defaultUOM = "Kg"

// RepositoryPort abstracts transfer persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByID(ctx context.Context, id int64) (Transfer, error)
	GetByNumber(ctx context.Context, transferNo string) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, error)
	Register(ctx context.Context, filter ListFilter) ([]RegisterRow, error)
}

// AuditPort records document lifecycle actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort fences the receipt posting against duplicate delivery.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates the transfer lifecycle: Draft, In Transit,
// Received. Only receipt touches the ledger.
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

// Create drafts a transfer between two distinct warehouses.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if err := validateCreate(&input); err != nil {
		return Transfer{}, err
	}
	var transferID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		periodKey := sequence.PeriodKey(input.TransferDate)
		n, err := tx.NextNumber(ctx, NumberPrefix, periodKey)
		if err != nil {
			return err
		}
		tr := Transfer{
			TransferNo:      sequence.Format(NumberPrefix, periodKey, n, s.numberWidth),
			TransferDate:    input.TransferDate,
			FromWarehouseID: input.FromWarehouseID,
			ToWarehouseID:   input.ToWarehouseID,
			Status:          StatusDraft,
			Remarks:         input.Remarks,
			CreatedBy:       input.ActorID,
		}
		items := make([]Item, 0, len(input.Items))
		for _, in := range input.Items {
			tr.TotalQty += in.Qty
			items = append(items, Item{
				ItemCode: in.ItemCode,
				Qty:      in.Qty,
				UOM:      in.UOM,
				BatchNo:  in.BatchNo,
				SerialNo: in.SerialNo,
			})
		}
		transferID, err = tx.InsertTransfer(ctx, tr)
		if err != nil {
			return err
		}
		return tx.InsertItems(ctx, transferID, items)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.record(ctx, input.ActorID, "TRANSFER_CREATE", transferID, nil)
	return s.repo.GetByID(ctx, transferID)
}

// Send dispatches a draft. No stock moves; the quantities stay at the
// source until the destination confirms receipt.
func (s *Service) Send(ctx context.Context, id, actorID int64) (Transfer, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tr, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != StatusDraft {
			return fmt.Errorf("%w: %s is %s", ErrNotDraft, tr.TransferNo, tr.Status)
		}
		return tx.MarkInTransit(ctx, id)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.record(ctx, actorID, "TRANSFER_SEND", id, nil)
	return s.repo.GetByID(ctx, id)
}

// Receive confirms arrival and posts the paired ledger legs, one out of
// the source and one into the destination per line, atomically with the
// status change.
func (s *Service) Receive(ctx context.Context, id, actorID int64) (Transfer, error) {
	key := fmt.Sprintf("material_transfer:receive:%d", id)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "transfer"); err != nil {
			return Transfer{}, err
		}
		inserted = true
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tr, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != StatusInTransit {
			return fmt.Errorf("%w: %s is %s", ErrNotInTransit, tr.TransferNo, tr.Status)
		}
		for _, item := range tr.Items {
			rate, err := tx.BalanceRate(ctx, item.ItemCode, tr.FromWarehouseID)
			if err != nil {
				return err
			}
			base := ledger.MovementInput{
				ItemCode:      item.ItemCode,
				Type:          ledger.TransactionTypeTransfer,
				ValuationRate: rate,
				RefDoctype:    "Material Transfer",
				RefName:       tr.TransferNo,
				ActorID:       actorID,
				TransactionAt: tr.TransferDate,
			}
			out := base
			out.WarehouseID = tr.FromWarehouseID
			out.QtyOut = item.Qty
			if _, err := tx.PostMovement(ctx, out); err != nil {
				return err
			}
			in := base
			in.WarehouseID = tr.ToWarehouseID
			in.QtyIn = item.Qty
			if _, err := tx.PostMovement(ctx, in); err != nil {
				return err
			}
		}
		return tx.MarkReceived(ctx, id, actorID)
	})
	if err != nil {
		// Release the key so a failed receive can be retried.
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Transfer{}, err
	}
	s.record(ctx, actorID, "TRANSFER_RECEIVE", id, nil)
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, transferNo string) (Transfer, error) {
	transferNo = strings.TrimSpace(transferNo)
	if transferNo == "" {
		return Transfer{}, ErrInvalidTransfer
	}
	return s.repo.GetByNumber(ctx, transferNo)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) Register(ctx context.Context, filter ListFilter) ([]RegisterRow, error) {
	return s.repo.Register(ctx, filter)
}

func validateCreate(input *CreateInput) error {
	if input.FromWarehouseID == 0 || input.ToWarehouseID == 0 {
		return fmt.Errorf("%w: both warehouses required", ErrInvalidTransfer)
	}
	if input.FromWarehouseID == input.ToWarehouseID {
		return fmt.Errorf("%w: source and destination must differ", ErrInvalidTransfer)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: at least one item required", ErrInvalidTransfer)
	}
	if input.TransferDate.IsZero() {
		input.TransferDate = time.Now().UTC()
	}
	for i := range input.Items {
		item := &input.Items[i]
		item.ItemCode = strings.TrimSpace(item.ItemCode)
		if item.ItemCode == "" {
			return fmt.Errorf("%w: item code required on every line", ErrInvalidTransfer)
		}
		if item.Qty <= 0 {
			return fmt.Errorf("%w: quantity must be positive on %s", ErrInvalidTransfer, item.ItemCode)
		}
		if item.UOM == "" {
			item.UOM = defaultUOM
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, transferID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "material_transfers",
		EntityID: strconv.FormatInt(transferID, 10),
		Meta:     meta,
	})
}
