package approvals

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Verdict is the gate's synchronous answer to a submission.
type Verdict string

const (
	// VerdictAutoApproved means the submission cleared the gate immediately.
	VerdictAutoApproved Verdict = "AUTO_APPROVED"
	// VerdictApprovalRequired means a human decision will arrive later.
	VerdictApprovalRequired Verdict = "APPROVAL_REQUIRED"
)

// Decision is the asynchronous outcome for a held submission.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// Action enumerates recorded approval events.
type Action string

const (
	ActionSubmit  Action = "SUBMIT"
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// RequestTypeStockAdjustment is the submission type used by the adjustment
// workflow.
const RequestTypeStockAdjustment = "STOCK_ADJUSTMENT"

// Request describes one submission to the gate.
type Request struct {
	Type          string
	Amount        decimal.Decimal
	ReferenceID   int64
	ReferenceCode string
	ActorID       int64
}

// Entry is one row of approval history.
type Entry struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	ReferenceID   int64           `json:"reference_id"`
	ReferenceCode string          `json:"reference_code,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Action        Action          `json:"action"`
	ActorID       int64           `json:"actor_id"`
	Note          string          `json:"note,omitempty"`
	At            time.Time       `json:"at"`
}

// ErrUnknownDecision indicates a decision value outside APPROVED/REJECTED.
var ErrUnknownDecision = errors.New("approvals: unknown decision")

// ParseDecision validates a raw decision string.
func ParseDecision(raw string) (Decision, error) {
	switch Decision(raw) {
	case DecisionApproved, DecisionRejected:
		return Decision(raw), nil
	default:
		return "", ErrUnknownDecision
	}
}
