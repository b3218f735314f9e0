package approvals

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Gate decides synchronously whether a submission may proceed immediately or
// must wait for an external decision.
type Gate interface {
	Submit(ctx context.Context, req Request) (Verdict, error)
}

// RecorderPort persists approval history.
type RecorderPort interface {
	Record(ctx context.Context, entry Entry) error
}

// ThresholdGate auto-approves submissions whose monetary amount stays below a
// configured limit. A non-positive limit holds everything for approval.
type ThresholdGate struct {
	limit    decimal.Decimal
	recorder RecorderPort
	logger   *slog.Logger
}

// NewThresholdGate constructs ThresholdGate.
func NewThresholdGate(limit decimal.Decimal, recorder RecorderPort, logger *slog.Logger) *ThresholdGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThresholdGate{limit: limit, recorder: recorder, logger: logger}
}

// Submit records the submission and returns the verdict.
func (g *ThresholdGate) Submit(ctx context.Context, req Request) (Verdict, error) {
	if g == nil {
		return "", errors.New("approvals: gate not initialised")
	}
	if req.Type == "" || req.ReferenceID == 0 {
		return "", errors.New("approvals: type and reference id required")
	}
	if req.Amount.IsNegative() {
		return "", errors.New("approvals: amount must be >= 0")
	}
	verdict := VerdictApprovalRequired
	if g.limit.IsPositive() && req.Amount.LessThan(g.limit) {
		verdict = VerdictAutoApproved
	}
	if g.recorder != nil {
		err := g.recorder.Record(ctx, Entry{
			Type:          req.Type,
			ReferenceID:   req.ReferenceID,
			ReferenceCode: req.ReferenceCode,
			Amount:        req.Amount,
			Action:        ActionSubmit,
			ActorID:       req.ActorID,
			Note:          string(verdict),
		})
		if err != nil {
			return "", err
		}
	}
	g.logger.Info("approval submitted",
		slog.String("type", req.Type),
		slog.Int64("reference_id", req.ReferenceID),
		slog.String("amount", req.Amount.String()),
		slog.String("verdict", string(verdict)))
	return verdict, nil
}
