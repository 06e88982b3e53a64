// Package ledger owns the append-only stock ledger and the per
// item/warehouse balance store derived from it.
package ledger

import (
	"errors"
	"time"
)

// TransactionType enumerates quantity-affecting movement kinds.
type TransactionType string

const (
	// TransactionTypeReceipt represents goods entering a warehouse.
	TransactionTypeReceipt TransactionType = "RECEIPT"
	// TransactionTypeIssue represents goods leaving a warehouse.
	TransactionTypeIssue TransactionType = "ISSUE"
	// TransactionTypeTransfer marks the paired legs of an inter-warehouse move.
	TransactionTypeTransfer TransactionType = "TRANSFER"
	// TransactionTypeManufacture covers production intake and backflush.
	TransactionTypeManufacture TransactionType = "MANUFACTURE"
	// TransactionTypeReconciliation is used by audited balance corrections.
	TransactionTypeReconciliation TransactionType = "RECONCILIATION"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeReceipt, TransactionTypeIssue, TransactionTypeTransfer,
		TransactionTypeManufacture, TransactionTypeReconciliation:
		return true
	}
	return false
}

// Entry is one immutable ledger row. Rows are only ever appended;
// cancellation writes a reversing row instead of touching history.
type Entry struct {
	ID            int64
	ItemCode      string
	WarehouseID   int64
	TransactionAt time.Time
	Type          TransactionType
	QtyIn         float64
	QtyOut        float64
	ValuationRate float64
	RefDoctype    string
	RefName       string
	BatchID       int64
	CreatedBy     int64
	CreatedAt     time.Time
}

// Balance is the current on-hand state for one (item, warehouse) pair.
type Balance struct {
	ItemCode      string
	WarehouseID   int64
	CurrentQty    float64
	ReservedQty   float64
	ValuationRate float64
	LastReceiptAt time.Time
	LastIssueAt   time.Time
	Locked        bool
	LockReason    string
	UpdatedAt     time.Time
}

// AvailableQty is current minus reserved.
func (b Balance) AvailableQty() float64 {
	return b.CurrentQty - b.ReservedQty
}

// WarehouseLock records a warehouse-wide freeze, typically for a
// physical count window.
type WarehouseLock struct {
	WarehouseID int64
	Reason      string
	LockedBy    int64
	LockedAt    time.Time
}

// MovementInput describes one movement to record. Exactly one of
// QtyIn/QtyOut must be positive.
type MovementInput struct {
	ItemCode      string
	WarehouseID   int64
	Type          TransactionType
	QtyIn         float64
	QtyOut        float64
	ValuationRate float64
	RefDoctype    string
	RefName       string
	BatchID       int64
	ActorID       int64
	TransactionAt time.Time
}

// HistoryFilter bounds movement history queries.
type HistoryFilter struct {
	ItemCode    string
	WarehouseID int64
	Limit       int
}

// LowStockFilter scopes the low-stock query.
type LowStockFilter struct {
	WarehouseID  int64
	ReorderLevel float64
}

// ValuationSummary aggregates stock value per warehouse.
type ValuationSummary struct {
	WarehouseID int64
	TotalItems  int64
	TotalQty    float64
	TotalValue  float64
}

// ConsumptionFilter bounds the daily consumption report.
type ConsumptionFilter struct {
	WarehouseID int64
	From        time.Time
	To          time.Time
}

// ConsumptionRow is one day/type aggregate of ledger activity.
type ConsumptionRow struct {
	Date     time.Time
	Type     TransactionType
	Count    int64
	TotalIn  float64
	TotalOut float64
}

var (
	// ErrInvalidQuantity indicates the qty in/out pair is malformed.
	ErrInvalidQuantity = errors.New("ledger: exactly one of qty in/out must be positive")
	// ErrInvalidMovement indicates missing item/warehouse or unknown type.
	ErrInvalidMovement = errors.New("ledger: item, warehouse and transaction type required")
	// ErrInvalidRate indicates a negative valuation rate.
	ErrInvalidRate = errors.New("ledger: valuation rate must be >= 0")
	// ErrInsufficientStock is returned when an outbound movement would
	// drive the balance negative. The wrapped message carries requested
	// and available quantities.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrWarehouseLocked blocks movements against a locked warehouse.
	ErrWarehouseLocked = errors.New("ledger: warehouse locked")
	// ErrBalanceNotFound indicates no balance row exists for the pair.
	ErrBalanceNotFound = errors.New("ledger: balance not found")
	// ErrWarehouseNotLocked is returned by unlock when no lock exists.
	ErrWarehouseNotLocked = errors.New("ledger: warehouse not locked")
)
