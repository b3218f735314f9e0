package receiving

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the receipt lifecycle state.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusPosted Status = "POSTED"
)

// Receipt is a goods receipt document. Posting it creates one batch and one
// inbound movement per line.
type Receipt struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	TenantID    int64      `json:"tenant_id"`
	WarehouseID int64      `json:"warehouse_id"`
	SupplierRef string     `json:"supplier_ref,omitempty"`
	Status      Status     `json:"status"`
	Note        string     `json:"note,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	Lines       []Line     `json:"lines,omitempty"`
}

// Line is one received lot.
type Line struct {
	ID          int64           `json:"id"`
	ReceiptID   int64           `json:"receipt_id"`
	ItemID      int64           `json:"item_id"`
	BatchNumber string          `json:"batch_number"`
	Quantity    decimal.Decimal `json:"quantity"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
	ExpiryDate  time.Time       `json:"expiry_date,omitempty"`
}

// CreateInput describes a new receipt.
type CreateInput struct {
	TenantID    int64
	WarehouseID int64
	SupplierRef string
	Note        string
	ActorID     int64
	Lines       []LineInput
}

// LineInput is one requested line.
type LineInput struct {
	ItemID      int64
	BatchNumber string
	Quantity    decimal.Decimal
	BuyPrice    decimal.Decimal
	ExpiryDate  time.Time
}

// ErrNotFound indicates the receipt does not exist.
var ErrNotFound = errors.New("receiving: receipt not found")

// ErrAlreadyPosted indicates the receipt was posted before.
var ErrAlreadyPosted = errors.New("receiving: receipt already posted")
