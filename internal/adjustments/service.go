package adjustments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/approvals"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Adjustment, error)
	List(ctx context.Context, filter ListFilter) ([]Adjustment, int, error)
}

// StockPort is the slice of the movement engine the workflow needs.
type StockPort interface {
	ApplyMovement(ctx context.Context, input stock.MovementInput) (stock.MovementResult, error)
	GetAggregate(ctx context.Context, key stock.AggregateKey) (stock.Aggregate, error)
	MovementRecorded(ctx context.Context, key stock.AggregateKey, refType stock.ReferenceType, refID, batchNumber string) (bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts applied approval decisions.
type MetricsPort interface {
	DecisionApplied(outcome string)
}

// Service runs the stock adjustment workflow: create, route through the
// approval gate, and apply decisions exactly once.
type Service struct {
	repo     RepositoryPort
	stock    StockPort
	gate     approvals.Gate
	recorder approvals.RecorderPort
	audit    AuditPort
	metrics  MetricsPort
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, stockPort StockPort, gate approvals.Gate, recorder approvals.RecorderPort, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stockPort, gate: gate, recorder: recorder, audit: audit, metrics: metrics, logger: logger}
}

// Create validates the request, snapshots system quantities and costs, and
// persists the adjustment. Small adjustments clear the gate and complete
// immediately; the rest wait in PENDING_APPROVAL.
func (s *Service) Create(ctx context.Context, input CreateInput) (Adjustment, error) {
	if input.TenantID == 0 || input.WarehouseID == 0 {
		return Adjustment{}, errors.New("adjustments: tenant and warehouse required")
	}
	if !input.Reason.Valid() {
		return Adjustment{}, fmt.Errorf("%w: %q", ErrUnsupportedReason, input.Reason)
	}
	if len(input.Lines) == 0 {
		return Adjustment{}, errors.New("adjustments: at least one line required")
	}

	adj := Adjustment{
		Code:        fmt.Sprintf("ADJ-%d", time.Now().UnixNano()),
		TenantID:    input.TenantID,
		WarehouseID: input.WarehouseID,
		Reason:      input.Reason,
		Status:      StatusDraft,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
	}
	magnitude := decimal.Zero
	seen := make(map[int64]bool, len(input.Lines))
	for _, li := range input.Lines {
		if li.ItemID == 0 {
			return Adjustment{}, errors.New("adjustments: line item required")
		}
		// One line per item keeps resume-after-failure unambiguous: the ledger
		// reference identifies a line by (adjustment code, item).
		if seen[li.ItemID] {
			return Adjustment{}, fmt.Errorf("adjustments: duplicate line for item %d", li.ItemID)
		}
		seen[li.ItemID] = true
		if li.Quantity.IsNegative() {
			return Adjustment{}, errors.New("adjustments: line quantity must be >= 0")
		}
		if input.Reason != ReasonAuditCorrection && !li.Quantity.IsPositive() {
			return Adjustment{}, errors.New("adjustments: line quantity must be positive")
		}
		agg, err := s.stock.GetAggregate(ctx, stock.AggregateKey{
			TenantID:    input.TenantID,
			ItemID:      li.ItemID,
			WarehouseID: input.WarehouseID,
		})
		if err != nil {
			return Adjustment{}, err
		}
		line := Line{
			ItemID:    li.ItemID,
			SystemQty: agg.ClosingQty,
			UnitCost:  agg.AverageCost,
		}
		switch {
		case input.Reason.Removal():
			line.CountedQty = agg.ClosingQty.Sub(li.Quantity)
			line.DifferenceQty = li.Quantity.Neg()
		case input.Reason == ReasonFoundExtra:
			line.CountedQty = agg.ClosingQty.Add(li.Quantity)
			line.DifferenceQty = li.Quantity
		default: // AUDIT_CORRECTION
			line.CountedQty = li.Quantity
			line.DifferenceQty = li.Quantity.Sub(agg.ClosingQty)
		}
		if line.CountedQty.IsNegative() {
			return Adjustment{}, fmt.Errorf("%w: item %d holds %s, removing %s",
				ErrNegativeStock, li.ItemID, agg.ClosingQty.String(), li.Quantity.String())
		}
		magnitude = magnitude.Add(line.DifferenceQty.Abs().Mul(line.UnitCost))
		adj.Lines = append(adj.Lines, line)
	}
	adj.Magnitude = magnitude.Round(2)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertAdjustment(ctx, adj)
		if err != nil {
			return err
		}
		adj.ID = id
		for i := range adj.Lines {
			adj.Lines[i].AdjustmentID = id
			lineID, err := tx.InsertLine(ctx, adj.Lines[i])
			if err != nil {
				return err
			}
			adj.Lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return Adjustment{}, err
	}

	verdict, err := s.gate.Submit(ctx, approvals.Request{
		Type:          approvals.RequestTypeStockAdjustment,
		Amount:        adj.Magnitude,
		ReferenceID:   adj.ID,
		ReferenceCode: adj.Code,
		ActorID:       input.ActorID,
	})
	if err != nil {
		// Left in DRAFT; submission can be retried without side effects.
		return Adjustment{}, fmt.Errorf("adjustments: submit %s: %w", adj.Code, err)
	}

	switch verdict {
	case approvals.VerdictAutoApproved:
		// Claim the document before any stock is touched. If a movement fails
		// halfway, the adjustment sits in APPLYING with its applied lines on
		// the ledger, and a retried approval resumes instead of replaying.
		if err := s.transition(ctx, adj.ID, StatusDraft, StatusApplying); err != nil {
			return Adjustment{}, err
		}
		if err := s.applyLines(ctx, adj, input.ActorID); err != nil {
			return Adjustment{}, err
		}
		if err := s.transition(ctx, adj.ID, StatusApplying, StatusCompleted); err != nil {
			return Adjustment{}, err
		}
		adj.Status = StatusCompleted
	default:
		if err := s.transition(ctx, adj.ID, StatusDraft, StatusPendingApproval); err != nil {
			return Adjustment{}, err
		}
		adj.Status = StatusPendingApproval
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "adjustment:create",
			Entity:   "stock_adjustment",
			EntityID: adj.Code,
			Meta: map[string]any{
				"reason":    string(adj.Reason),
				"status":    string(adj.Status),
				"magnitude": adj.Magnitude.String(),
				"lines":     len(adj.Lines),
			},
		})
	}
	s.logger.Info("adjustment created",
		slog.String("code", adj.Code),
		slog.String("reason", string(adj.Reason)),
		slog.String("status", string(adj.Status)),
		slog.String("magnitude", adj.Magnitude.String()))
	return adj, nil
}

// ApplyDecision applies an asynchronous approval outcome. An approval first
// claims the document with a compare-and-swap into APPLYING, then posts the
// movements, then completes. The claim means a redelivered decision can never
// replay movements: a COMPLETED document is a no-op, and one stuck in APPLYING
// after a crash is resumed, with already-ledgered lines skipped.
func (s *Service) ApplyDecision(ctx context.Context, id int64, decision approvals.Decision, actorID int64) (Adjustment, error) {
	adj, err := s.repo.Get(ctx, id)
	if err != nil {
		return Adjustment{}, err
	}

	switch adj.Status {
	case StatusPendingApproval:
		if decision != approvals.DecisionApproved {
			if err := s.transition(ctx, adj.ID, StatusPendingApproval, StatusRejected); err != nil {
				return Adjustment{}, err
			}
			adj.Status = StatusRejected
			s.finishDecision(ctx, adj, decision, actorID)
			return adj, nil
		}
		if err := s.transition(ctx, adj.ID, StatusPendingApproval, StatusApplying); err != nil {
			return Adjustment{}, err
		}
		adj.Status = StatusApplying
	case StatusApplying:
		// A previous approval claimed the document and died before completing.
		if decision != approvals.DecisionApproved {
			s.logger.Warn("rejection ignored, approval already in progress",
				slog.String("code", adj.Code))
			return adj, nil
		}
	default:
		s.logger.Info("decision ignored, adjustment not pending",
			slog.String("code", adj.Code),
			slog.String("status", string(adj.Status)),
			slog.String("decision", string(decision)))
		return adj, nil
	}

	if err := s.applyLines(ctx, adj, actorID); err != nil {
		return Adjustment{}, err
	}
	if err := s.transition(ctx, adj.ID, StatusApplying, StatusCompleted); err != nil {
		return Adjustment{}, err
	}
	adj.Status = StatusCompleted
	s.finishDecision(ctx, adj, decision, actorID)
	return adj, nil
}

func (s *Service) finishDecision(ctx context.Context, adj Adjustment, decision approvals.Decision, actorID int64) {
	if s.recorder != nil {
		action := approvals.ActionReject
		if adj.Status == StatusCompleted {
			action = approvals.ActionApprove
		}
		_ = s.recorder.Record(ctx, approvals.Entry{
			Type:          approvals.RequestTypeStockAdjustment,
			ReferenceID:   adj.ID,
			ReferenceCode: adj.Code,
			Amount:        adj.Magnitude,
			Action:        action,
			ActorID:       actorID,
		})
	}
	if s.metrics != nil {
		s.metrics.DecisionApplied(string(decision))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "adjustment:decision",
			Entity:   "stock_adjustment",
			EntityID: adj.Code,
			Meta:     map[string]any{"decision": string(decision), "status": string(adj.Status)},
		})
	}
	s.logger.Info("adjustment decision applied",
		slog.String("code", adj.Code),
		slog.String("decision", string(decision)),
		slog.String("status", string(adj.Status)))
}

// Cancel rejects a pending adjustment without applying any movement.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (Adjustment, error) {
	adj, err := s.repo.Get(ctx, id)
	if err != nil {
		return Adjustment{}, err
	}
	if adj.Status != StatusPendingApproval {
		return Adjustment{}, fmt.Errorf("%w: cannot cancel %s adjustment", ErrInvalidState, adj.Status)
	}
	if err := s.transition(ctx, adj.ID, StatusPendingApproval, StatusRejected); err != nil {
		return Adjustment{}, err
	}
	adj.Status = StatusRejected
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "adjustment:cancel",
			Entity:   "stock_adjustment",
			EntityID: adj.Code,
		})
	}
	return adj, nil
}

// Get returns one adjustment with lines.
func (s *Service) Get(ctx context.Context, id int64) (Adjustment, error) {
	return s.repo.Get(ctx, id)
}

// List returns adjustments for a tenant, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Adjustment, shared.Pagination, error) {
	if filter.TenantID == 0 {
		return nil, shared.Pagination{}, errors.New("adjustments: tenant required")
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// applyLines posts one movement per non-zero line. Negative differences leave
// via FIFO allocation; positive differences re-enter at the snapshot cost.
// Lines whose movement is already on the ledger are skipped, so a claimed
// document can be re-applied after a partial failure.
func (s *Service) applyLines(ctx context.Context, adj Adjustment, actorID int64) error {
	for _, line := range adj.Lines {
		if line.DifferenceQty.IsZero() {
			continue
		}
		key := stock.AggregateKey{TenantID: adj.TenantID, ItemID: line.ItemID, WarehouseID: adj.WarehouseID}
		done, err := s.stock.MovementRecorded(ctx, key, stock.ReferenceAdjustment, adj.Code, "")
		if err != nil {
			return fmt.Errorf("adjustments: apply %s line item %d: %w", adj.Code, line.ItemID, err)
		}
		if done {
			continue
		}
		input := stock.MovementInput{
			TenantID:      adj.TenantID,
			ItemID:        line.ItemID,
			WarehouseID:   adj.WarehouseID,
			Quantity:      line.DifferenceQty.Abs(),
			Direction:     stock.DirectionOut,
			ReferenceType: stock.ReferenceAdjustment,
			ReferenceID:   adj.Code,
			ActorID:       actorID,
		}
		if line.DifferenceQty.IsPositive() {
			input.Direction = stock.DirectionIn
			input.UnitPrice = line.UnitCost
		}
		if _, err := s.stock.ApplyMovement(ctx, input); err != nil {
			return fmt.Errorf("adjustments: apply %s line item %d: %w", adj.Code, line.ItemID, err)
		}
	}
	return nil
}

func (s *Service) transition(ctx context.Context, id int64, from, to Status) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		moved, err := tx.TransitionStatus(ctx, id, from, to)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: expected %s", ErrInvalidState, from)
		}
		return nil
	})
}
