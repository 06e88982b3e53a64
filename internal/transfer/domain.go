// Package transfer implements inter-warehouse material transfers with a
// dispatch/receive handshake. Stock moves in the ledger only when the
// destination confirms receipt.
package transfer

import (
	"errors"
	"time"
)

// NumberPrefix is the document number prefix for transfers.
const NumberPrefix = "MT"

// Status is the transfer lifecycle state.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusInTransit Status = "In Transit"
	StatusReceived  Status = "Received"
)

// Transfer is a material transfer document with its lines.
type Transfer struct {
	ID              int64
	TransferNo      string
	TransferDate    time.Time
	FromWarehouseID int64
	ToWarehouseID   int64
	Status          Status
	Remarks         string
	TotalQty        float64
	CreatedBy       int64
	ReceivedBy      int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Items           []Item
}

// Item is one transferred line.
type Item struct {
	ID         int64
	TransferID int64
	ItemCode   string
	Qty        float64
	UOM        string
	BatchNo    string
	SerialNo   string
}

// CreateInput describes a new draft transfer.
type CreateInput struct {
	TransferDate    time.Time
	FromWarehouseID int64
	ToWarehouseID   int64
	Remarks         string
	ActorID         int64
	Items           []ItemInput
}

// ItemInput is one requested line.
type ItemInput struct {
	ItemCode string
	Qty      float64
	UOM      string
	BatchNo  string
	SerialNo string
}

// ListFilter scopes transfer listings.
type ListFilter struct {
	Status      Status
	WarehouseID int64
	Search      string
	Limit       int
	Offset      int
}

// RegisterRow is one line of the transfer register report.
type RegisterRow struct {
	TransferNo      string
	TransferDate    time.Time
	FromWarehouseID int64
	ToWarehouseID   int64
	ItemCount       int64
	TotalQty        float64
	Status          Status
}

var (
	// ErrTransferNotFound indicates no transfer matches the id or number.
	ErrTransferNotFound = errors.New("transfer: not found")
	// ErrInvalidTransfer indicates a malformed document.
	ErrInvalidTransfer = errors.New("transfer: invalid input")
	// ErrNotDraft rejects dispatch of a non-draft transfer.
	ErrNotDraft = errors.New("transfer: not a draft")
	// ErrNotInTransit rejects receipt of a transfer that was never sent.
	ErrNotInTransit = errors.New("transfer: not in transit")
)
