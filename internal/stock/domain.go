package stock

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Direction enumerates supported stock movements.
type Direction string

const (
	// DirectionIn represents an inbound movement.
	DirectionIn Direction = "IN"
	// DirectionOut represents an outbound movement.
	DirectionOut Direction = "OUT"
)

// ReferenceType identifies the business document that caused a movement.
type ReferenceType string

const (
	ReferenceReceipt    ReferenceType = "RECEIPT"
	ReferenceSale       ReferenceType = "SALE"
	ReferenceReturn     ReferenceType = "RETURN"
	ReferenceAdjustment ReferenceType = "ADJUSTMENT"
)

// AggregateKey identifies one running stock total.
type AggregateKey struct {
	TenantID    int64
	ItemID      int64
	WarehouseID int64
}

// Aggregate holds running stock totals and the blended unit cost for one
// tenant/item/warehouse key. closing = opening + in - out at all times.
type Aggregate struct {
	ID          int64
	TenantID    int64
	ItemID      int64
	WarehouseID int64
	OpeningQty  decimal.Decimal
	InQty       decimal.Decimal
	OutQty      decimal.Decimal
	ClosingQty  decimal.Decimal
	AverageCost decimal.Decimal
	StockValue  decimal.Decimal
	UpdatedAt   time.Time
}

// Key returns the aggregate key.
func (a Aggregate) Key() AggregateKey {
	return AggregateKey{TenantID: a.TenantID, ItemID: a.ItemID, WarehouseID: a.WarehouseID}
}

// Batch is a purchased lot. RemainingQty only ever decreases; zero-remaining
// batches are kept for audit and expiry reporting.
type Batch struct {
	ID           int64
	ItemID       int64
	WarehouseID  int64
	BatchNumber  string
	InitialQty   decimal.Decimal
	RemainingQty decimal.Decimal
	BuyPrice     decimal.Decimal
	ExpiryDate   time.Time
	ReceiptRef   string
	CreatedAt    time.Time
}

// LedgerEntry is one immutable row of the stock audit trail. AfterQty of a row
// equals BeforeQty of the next row for the same aggregate key.
type LedgerEntry struct {
	ID            int64
	TenantID      int64
	ItemID        int64
	WarehouseID   int64
	TxType        Direction
	Quantity      decimal.Decimal
	ReferenceType ReferenceType
	ReferenceID   string
	BeforeQty     decimal.Decimal
	AfterQty      decimal.Decimal
	UnitPrice     decimal.Decimal
	TotalValue    decimal.Decimal
	BatchNumber   string
	CreatedAt     time.Time
}

// MovementInput describes one movement request.
type MovementInput struct {
	TenantID      int64
	ItemID        int64
	WarehouseID   int64
	Quantity      decimal.Decimal
	Direction     Direction
	UnitPrice     decimal.Decimal
	BatchNumber   string
	ReferenceType ReferenceType
	ReferenceID   string
	ActorID       int64
}

// MovementResult reports the ledger rows written by one movement. Outbound
// movements spanning several batches append one row per batch, so there may be
// more than one id. BatchRef joins the touched batches for traceability.
type MovementResult struct {
	LedgerEntryIDs []int64
	BatchRef       string
	Aggregate      Aggregate
}

// BatchInput describes a new lot created on goods receipt.
type BatchInput struct {
	ItemID      int64
	WarehouseID int64
	BatchNumber string
	Quantity    decimal.Decimal
	BuyPrice    decimal.Decimal
	ExpiryDate  time.Time
	ReceiptRef  string
}

// LedgerFilter filters ledger history listings.
type LedgerFilter struct {
	TenantID    int64
	ItemID      int64
	WarehouseID int64
	Page        int
	PerPage     int
}

// ErrInvalidQuantity indicates a non-positive movement quantity.
var ErrInvalidQuantity = errors.New("stock: quantity must be positive")

// ErrInsufficientStock is returned when an outbound movement exceeds the
// aggregate closing quantity. Nothing is written.
var ErrInsufficientStock = errors.New("stock: insufficient stock")

// ErrBatchNotFound indicates the named batch does not exist for the key.
var ErrBatchNotFound = errors.New("stock: batch not found")

// ErrInsufficientBatchStock indicates the named batch cannot cover the
// requested quantity.
var ErrInsufficientBatchStock = errors.New("stock: insufficient batch stock")

// ErrDataInconsistency means the aggregate reports stock that the batches
// cannot supply. This is aggregate/batch drift and must never be patched
// silently.
var ErrDataInconsistency = errors.New("stock: aggregate and batch quantities disagree")

// ErrDuplicateBatch indicates the batch number already exists for the
// item/warehouse.
var ErrDuplicateBatch = errors.New("stock: batch number already exists")
