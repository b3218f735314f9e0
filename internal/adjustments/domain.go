package adjustments

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Reason classifies why stock is being adjusted. It decides how the counted
// quantity translates into a signed difference.
type Reason string

const (
	ReasonDamage          Reason = "DAMAGE"
	ReasonExpired         Reason = "EXPIRED"
	ReasonLost            Reason = "LOST"
	ReasonFoundExtra      Reason = "FOUND_EXTRA"
	ReasonAuditCorrection Reason = "AUDIT_CORRECTION"
)

// Removal reports whether the reason takes stock out.
func (r Reason) Removal() bool {
	switch r {
	case ReasonDamage, ReasonExpired, ReasonLost:
		return true
	default:
		return false
	}
}

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonDamage, ReasonExpired, ReasonLost, ReasonFoundExtra, ReasonAuditCorrection:
		return true
	default:
		return false
	}
}

// Status is the adjustment lifecycle state. APPLYING is a transient claim: the
// document is moved there before any stock is touched, so a crash between
// movements and completion can be resumed instead of replayed.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApplying        Status = "APPLYING"
	StatusCompleted       Status = "COMPLETED"
	StatusRejected        Status = "REJECTED"
)

// Adjustment is one stock adjustment document. Magnitude is the monetary size
// used for the approval decision: sum of |difference| * unit cost across lines.
type Adjustment struct {
	ID          int64           `json:"id"`
	Code        string          `json:"code"`
	TenantID    int64           `json:"tenant_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Reason      Reason          `json:"reason"`
	Status      Status          `json:"status"`
	Note        string          `json:"note,omitempty"`
	Magnitude   decimal.Decimal `json:"magnitude"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Lines       []Line          `json:"lines,omitempty"`
}

// Line is one item on an adjustment. DifferenceQty is signed: negative removes
// stock, positive adds it. UnitCost snapshots the item's average cost at
// creation so the approval amount does not drift.
type Line struct {
	ID            int64           `json:"id"`
	AdjustmentID  int64           `json:"adjustment_id"`
	ItemID        int64           `json:"item_id"`
	SystemQty     decimal.Decimal `json:"system_qty"`
	CountedQty    decimal.Decimal `json:"counted_qty"`
	DifferenceQty decimal.Decimal `json:"difference_qty"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
}

// CreateInput describes a new adjustment request.
type CreateInput struct {
	TenantID    int64
	WarehouseID int64
	Reason      Reason
	Note        string
	ActorID     int64
	Lines       []LineInput
}

// LineInput is one requested line. For removal reasons and FOUND_EXTRA,
// Quantity is the amount removed or found. For AUDIT_CORRECTION, Quantity is
// the physically counted quantity.
type LineInput struct {
	ItemID   int64
	Quantity decimal.Decimal
}

// ListFilter narrows adjustment listings.
type ListFilter struct {
	TenantID    int64
	WarehouseID int64
	Status      Status
	Page        int
	PerPage     int
}

// ErrUnsupportedReason indicates a reason outside the known set.
var ErrUnsupportedReason = errors.New("adjustments: unsupported reason")

// ErrNegativeStock indicates a removal larger than the system quantity.
var ErrNegativeStock = errors.New("adjustments: adjustment would drive stock negative")

// ErrInvalidState indicates a lifecycle transition the current status forbids.
var ErrInvalidState = errors.New("adjustments: invalid state for operation")

// ErrNotFound indicates the adjustment does not exist.
var ErrNotFound = errors.New("adjustments: adjustment not found")
