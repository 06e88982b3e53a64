// Package stockentry implements stock entry documents: drafted movement
// instructions that post to the ledger on submission.
package stockentry

import (
	"errors"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// EntryType determines the movement direction of a stock entry.
type EntryType string

const (
	TypeMaterialReceipt     EntryType = "Material Receipt"
	TypeMaterialIssue       EntryType = "Material Issue"
	TypeMaterialTransfer    EntryType = "Material Transfer"
	TypeManufacturingReturn EntryType = "Manufacturing Return"
	TypeRepack              EntryType = "Repack"
	TypeScrapEntry          EntryType = "Scrap Entry"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case TypeMaterialReceipt, TypeMaterialIssue, TypeMaterialTransfer,
		TypeManufacturingReturn, TypeRepack, TypeScrapEntry:
		return true
	}
	return false
}

// Inbound reports whether the type receives stock into ToWarehouse.
func (t EntryType) Inbound() bool {
	switch t {
	case TypeMaterialReceipt, TypeManufacturingReturn, TypeRepack:
		return true
	}
	return false
}

// Outbound reports whether the type issues stock from FromWarehouse.
func (t EntryType) Outbound() bool {
	switch t {
	case TypeMaterialIssue, TypeScrapEntry:
		return true
	}
	return false
}

// Prefix is the two-letter document number prefix for the type.
func (t EntryType) Prefix() string {
	s := string(t)
	if len(s) < 2 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:2])
}

// LedgerType maps the entry type onto the ledger transaction type.
func (t EntryType) LedgerType() ledger.TransactionType {
	switch t {
	case TypeMaterialReceipt:
		return ledger.TransactionTypeReceipt
	case TypeMaterialTransfer:
		return ledger.TransactionTypeTransfer
	case TypeManufacturingReturn, TypeRepack:
		return ledger.TransactionTypeManufacture
	default:
		return ledger.TransactionTypeIssue
	}
}

// Status is the document lifecycle state.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusSubmitted Status = "Submitted"
	StatusCancelled Status = "Cancelled"
)

// Entry is a stock entry document with its item lines.
type Entry struct {
	ID              int64
	EntryNo         string
	EntryDate       time.Time
	Type            EntryType
	FromWarehouseID int64
	ToWarehouseID   int64
	Purpose         string
	RefDoctype      string
	RefName         string
	Status          Status
	Remarks         string
	TotalQty        float64
	TotalValue      float64
	CreatedBy       int64
	ApprovedBy      int64
	SubmittedAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Items           []Item
}

// Item is one line of a stock entry.
type Item struct {
	ID            int64
	EntryID       int64
	ItemCode      string
	Qty           float64
	UOM           string
	ValuationRate float64
	Value         float64
	BatchNo       string
	SerialNo      string
	Remarks       string
}

// CreateInput describes a new draft entry.
type CreateInput struct {
	EntryDate       time.Time
	Type            EntryType
	FromWarehouseID int64
	ToWarehouseID   int64
	Purpose         string
	RefDoctype      string
	RefName         string
	Remarks         string
	ActorID         int64
	Items           []ItemInput
}

// ItemInput is one requested line.
type ItemInput struct {
	ItemCode      string
	Qty           float64
	UOM           string
	ValuationRate float64
	BatchNo       string
	SerialNo      string
	Remarks       string
}

// CreateResult reports the created entry plus auto-submission outcome.
// Warning carries the submission failure when auto-submit could not post;
// the entry stays Draft in that case.
type CreateResult struct {
	Entry   Entry
	Warning string
}

// ListFilter scopes entry listings.
type ListFilter struct {
	Type        EntryType
	Status      Status
	WarehouseID int64
	Search      string
	Limit       int
	Offset      int
}

var (
	// ErrEntryNotFound indicates no entry matches the id or number.
	ErrEntryNotFound = errors.New("stockentry: not found")
	// ErrInvalidEntry indicates a malformed document.
	ErrInvalidEntry = errors.New("stockentry: invalid input")
	// ErrNotDraft rejects mutations of submitted or cancelled entries.
	ErrNotDraft = errors.New("stockentry: entry is not a draft")
	// ErrNotSubmitted rejects cancellation of entries that never posted.
	ErrNotSubmitted = errors.New("stockentry: entry is not submitted")
	// ErrDuplicateReference rejects a second entry for the same receipt note.
	ErrDuplicateReference = errors.New("stockentry: reference already has an entry")
	// ErrDuplicateNumber indicates an entry number collision.
	ErrDuplicateNumber = errors.New("stockentry: entry number already exists")
)
