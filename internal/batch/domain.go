// Package batch tracks manufacturing lots from receipt to depletion,
// expiry or scrap.
package batch

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a batch.
type Status string

const (
	// StatusActive batches hold stock and accept depletion.
	StatusActive Status = "Active"
	// StatusUsed is set automatically when the quantity reaches zero.
	StatusUsed Status = "Used"
	// StatusExpired marks a batch retired past its expiry date.
	StatusExpired Status = "Expired"
	// StatusScrapped marks a batch written off with a reason.
	StatusScrapped Status = "Scrapped"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusUsed, StatusExpired, StatusScrapped:
		return true
	}
	return false
}

// Batch is one tracked lot of an item in a warehouse.
type Batch struct {
	ID          int64
	BatchNo     string
	ItemCode    string
	WarehouseID int64
	BatchQty    float64
	CurrentQty  float64
	MfgDate     time.Time
	ExpiryDate  time.Time
	Status      Status
	RefDoctype  string
	RefName     string
	Remarks     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expirable reports whether the batch carries an expiry date.
func (b Batch) Expirable() bool {
	return !b.ExpiryDate.IsZero()
}

// CreateInput describes a new batch. CurrentQty starts at BatchQty.
type CreateInput struct {
	BatchNo     string
	ItemCode    string
	WarehouseID int64
	BatchQty    float64
	MfgDate     time.Time
	ExpiryDate  time.Time
	RefDoctype  string
	RefName     string
	Remarks     string
	ActorID     int64
}

// ListFilter scopes batch listings.
type ListFilter struct {
	ItemCode    string
	WarehouseID int64
	Status      Status
	Search      string
	ExpiredOnly bool
}

// ExpiryRow is a batch joined with its distance to the expiry date.
type ExpiryRow struct {
	Batch
	Days int64
}

// SummaryRow is one line of the per-item batch summary.
type SummaryRow struct {
	BatchNo    string
	MfgDate    time.Time
	ExpiryDate time.Time
	BatchQty   float64
	CurrentQty float64
	Status     Status
	Condition  string
}

var (
	// ErrBatchNotFound indicates no batch matches the id or number.
	ErrBatchNotFound = errors.New("batch: not found")
	// ErrDuplicateBatch indicates the batch number is already taken.
	ErrDuplicateBatch = errors.New("batch: number already exists")
	// ErrInvalidBatch indicates a malformed create or deplete request.
	ErrInvalidBatch = errors.New("batch: invalid input")
	// ErrInsufficientQty indicates the depletion exceeds the remaining quantity.
	ErrInsufficientQty = errors.New("batch: insufficient quantity")
	// ErrTerminalStatus rejects transitions out of Used/Expired/Scrapped.
	ErrTerminalStatus = errors.New("batch: status is terminal")
)
