package ledger

import (
	"context"
	"fmt"
	"time"
)

const qtyEpsilon = 1e-9

// PostMovement validates and applies one movement against an open
// transaction: warehouse lock check, row-locked balance read, negativity
// guard, ledger append and balance upsert. Callers in other modules reach
// it through NewTxRepository over their own transaction so document state
// and ledger rows share one commit.
func PostMovement(ctx context.Context, tx TxRepository, input MovementInput) (Entry, error) {
	return postMovement(ctx, tx, input, false)
}

func postMovement(ctx context.Context, tx TxRepository, input MovementInput, bypassLock bool) (Entry, error) {
	if input.ItemCode == "" || input.WarehouseID == 0 || !input.Type.Valid() {
		return Entry{}, ErrInvalidMovement
	}
	if input.ValuationRate < 0 {
		return Entry{}, ErrInvalidRate
	}
	if input.QtyIn < 0 || input.QtyOut < 0 {
		return Entry{}, ErrInvalidQuantity
	}
	if (input.QtyIn > 0) == (input.QtyOut > 0) {
		return Entry{}, ErrInvalidQuantity
	}

	if !bypassLock {
		lock, locked, err := tx.GetWarehouseLock(ctx, input.WarehouseID)
		if err != nil {
			return Entry{}, err
		}
		if locked {
			return Entry{}, fmt.Errorf("%w: warehouse %d (%s)", ErrWarehouseLocked, input.WarehouseID, lock.Reason)
		}
	}

	balance, err := tx.GetBalanceForUpdate(ctx, input.ItemCode, input.WarehouseID)
	switch err {
	case nil:
	case ErrBalanceNotFound:
		balance = Balance{ItemCode: input.ItemCode, WarehouseID: input.WarehouseID}
	default:
		return Entry{}, err
	}

	newQty := balance.CurrentQty + input.QtyIn - input.QtyOut
	if newQty < -qtyEpsilon {
		return Entry{}, fmt.Errorf("%w: item %s warehouse %d requested %.3f available %.3f",
			ErrInsufficientStock, input.ItemCode, input.WarehouseID, input.QtyOut, balance.CurrentQty)
	}
	if newQty < 0 {
		newQty = 0
	}

	at := input.TransactionAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	entry := Entry{
		ItemCode:      input.ItemCode,
		WarehouseID:   input.WarehouseID,
		TransactionAt: at,
		Type:          input.Type,
		QtyIn:         input.QtyIn,
		QtyOut:        input.QtyOut,
		ValuationRate: input.ValuationRate,
		RefDoctype:    input.RefDoctype,
		RefName:       input.RefName,
		BatchID:       input.BatchID,
		CreatedBy:     input.ActorID,
	}
	id, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id

	balance.CurrentQty = newQty
	if input.QtyIn > 0 {
		balance.ValuationRate = input.ValuationRate
		balance.LastReceiptAt = at
	} else {
		balance.LastIssueAt = at
	}
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return Entry{}, err
	}
	return entry, nil
}
