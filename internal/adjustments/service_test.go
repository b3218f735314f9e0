package adjustments

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/approvals"
	"github.com/meridian-erp/meridian-erp/internal/stock"
)

type memRepo struct {
	nextID      int64
	adjustments map[int64]*Adjustment
	// failTransition forces the next N status transitions out of the given
	// state to fail, simulating a database outage mid-workflow.
	failTransition map[Status]int
}

func newMemRepo() *memRepo {
	return &memRepo{adjustments: make(map[int64]*Adjustment)}
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memRepo) Get(_ context.Context, id int64) (Adjustment, error) {
	adj, ok := m.adjustments[id]
	if !ok {
		return Adjustment{}, ErrNotFound
	}
	copied := *adj
	copied.Lines = append([]Line(nil), adj.Lines...)
	return copied, nil
}

func (m *memRepo) List(_ context.Context, filter ListFilter) ([]Adjustment, int, error) {
	var items []Adjustment
	for _, adj := range m.adjustments {
		if adj.TenantID == filter.TenantID {
			items = append(items, *adj)
		}
	}
	return items, len(items), nil
}

func (m *memRepo) InsertAdjustment(_ context.Context, adj Adjustment) (int64, error) {
	m.nextID++
	stored := adj
	stored.ID = m.nextID
	stored.Lines = nil
	m.adjustments[stored.ID] = &stored
	return stored.ID, nil
}

func (m *memRepo) InsertLine(_ context.Context, line Line) (int64, error) {
	m.nextID++
	line.ID = m.nextID
	adj := m.adjustments[line.AdjustmentID]
	adj.Lines = append(adj.Lines, line)
	return line.ID, nil
}

func (m *memRepo) TransitionStatus(_ context.Context, id int64, from, to Status) (bool, error) {
	if n := m.failTransition[from]; n > 0 {
		m.failTransition[from] = n - 1
		return false, errors.New("connection reset")
	}
	adj, ok := m.adjustments[id]
	if !ok || adj.Status != from {
		return false, nil
	}
	adj.Status = to
	return true, nil
}

type memStock struct {
	aggregates map[stock.AggregateKey]stock.Aggregate
	movements  []stock.MovementInput
}

func newMemStock() *memStock {
	return &memStock{aggregates: make(map[stock.AggregateKey]stock.Aggregate)}
}

func (m *memStock) seed(key stock.AggregateKey, closing, avgCost string) {
	qty := decimal.RequireFromString(closing)
	cost := decimal.RequireFromString(avgCost)
	m.aggregates[key] = stock.Aggregate{
		TenantID:    key.TenantID,
		ItemID:      key.ItemID,
		WarehouseID: key.WarehouseID,
		InQty:       qty,
		ClosingQty:  qty,
		AverageCost: cost,
		StockValue:  cost.Mul(qty).Round(2),
	}
}

func (m *memStock) ApplyMovement(_ context.Context, input stock.MovementInput) (stock.MovementResult, error) {
	key := stock.AggregateKey{TenantID: input.TenantID, ItemID: input.ItemID, WarehouseID: input.WarehouseID}
	agg := m.aggregates[key]
	if input.Direction == stock.DirectionOut {
		if agg.ClosingQty.LessThan(input.Quantity) {
			return stock.MovementResult{}, stock.ErrInsufficientStock
		}
		agg.OutQty = agg.OutQty.Add(input.Quantity)
		agg.ClosingQty = agg.ClosingQty.Sub(input.Quantity)
	} else {
		agg.InQty = agg.InQty.Add(input.Quantity)
		agg.ClosingQty = agg.ClosingQty.Add(input.Quantity)
	}
	m.aggregates[key] = agg
	m.movements = append(m.movements, input)
	return stock.MovementResult{Aggregate: agg}, nil
}

func (m *memStock) GetAggregate(_ context.Context, key stock.AggregateKey) (stock.Aggregate, error) {
	return m.aggregates[key], nil
}

func (m *memStock) MovementRecorded(_ context.Context, key stock.AggregateKey, refType stock.ReferenceType, refID, batchNumber string) (bool, error) {
	for _, mv := range m.movements {
		if mv.TenantID != key.TenantID || mv.ItemID != key.ItemID || mv.WarehouseID != key.WarehouseID {
			continue
		}
		if mv.ReferenceType != refType || mv.ReferenceID != refID {
			continue
		}
		if batchNumber != "" && mv.BatchNumber != batchNumber {
			continue
		}
		return true, nil
	}
	return false, nil
}

type memRecorder struct {
	entries []approvals.Entry
}

func (m *memRecorder) Record(_ context.Context, entry approvals.Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func newTestService(t *testing.T, limit string) (*Service, *memRepo, *memStock, *memRecorder) {
	t.Helper()
	repo := newMemRepo()
	stockPort := newMemStock()
	recorder := &memRecorder{}
	gate := approvals.NewThresholdGate(decimal.RequireFromString(limit), recorder, slog.Default())
	svc := NewService(repo, stockPort, gate, recorder, nil, nil, slog.Default())
	return svc, repo, stockPort, recorder
}

func TestCreateDamageBelowLimitAutoCompletes(t *testing.T) {
	svc, _, stockPort, recorder := newTestService(t, "100")
	key := stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	stockPort.seed(key, "30", "11.33")

	adj, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonDamage,
		ActorID:     7,
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.RequireFromString("5")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, adj.Status)
	require.Equal(t, "56.65", adj.Magnitude.StringFixed(2))
	require.Len(t, stockPort.movements, 1)
	require.Equal(t, stock.DirectionOut, stockPort.movements[0].Direction)
	require.Equal(t, "25", stockPort.aggregates[key].ClosingQty.String())
	require.Len(t, recorder.entries, 1)
	require.Equal(t, approvals.ActionSubmit, recorder.entries[0].Action)
}

func TestDamageAboveLimitWaitsThenApproves(t *testing.T) {
	svc, repo, stockPort, recorder := newTestService(t, "50")
	key := stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	stockPort.seed(key, "30", "11.33")

	adj, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonDamage,
		ActorID:     7,
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.RequireFromString("5")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, adj.Status)
	require.Equal(t, "56.65", adj.Magnitude.StringFixed(2))
	require.Empty(t, stockPort.movements, "no stock may move before the decision")
	require.Equal(t, "30", stockPort.aggregates[key].ClosingQty.String())

	decided, err := svc.ApplyDecision(context.Background(), adj.ID, approvals.DecisionApproved, 9)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, decided.Status)
	require.Len(t, stockPort.movements, 1)
	require.Equal(t, "5", stockPort.movements[0].Quantity.String())
	require.Equal(t, "25", stockPort.aggregates[key].ClosingQty.String())

	stored, err := repo.Get(context.Background(), adj.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.Equal(t, approvals.ActionApprove, recorder.entries[len(recorder.entries)-1].Action)
}

func TestApplyDecisionRedeliveryIsNoOp(t *testing.T) {
	svc, _, stockPort, _ := newTestService(t, "50")
	key := stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	stockPort.seed(key, "30", "11.33")

	adj, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonDamage,
		ActorID:     7,
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.RequireFromString("5")}},
	})
	require.NoError(t, err)

	_, err = svc.ApplyDecision(context.Background(), adj.ID, approvals.DecisionApproved, 9)
	require.NoError(t, err)
	require.Len(t, stockPort.movements, 1)

	again, err := svc.ApplyDecision(context.Background(), adj.ID, approvals.DecisionApproved, 9)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, again.Status)
	require.Len(t, stockPort.movements, 1, "redelivery must not move stock twice")
	require.Equal(t, "25", stockPort.aggregates[key].ClosingQty.String())
}

func TestApprovalClaimFailureRetriesWithoutDoubleApply(t *testing.T) {
	svc, repo, stockPort, _ := newTestService(t, "50")
	key := stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	stockPort.seed(key, "30", "11.33")

	adj, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonDamage,
		ActorID:     7,
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.RequireFromString("5")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, adj.Status)

	// The claim transition fails before any movement, so nothing moves.
	repo.failTransition = map[Status]int{StatusPendingApproval: 1}
	_, err = svc.ApplyDecision(context.Background(), adj.ID, approvals.DecisionApproved, 9)
	require.Error(t, err)
	require.Empty(t, stockPort.movements, "claim failure must precede any stock movement")
	require.Equal(t, "30", stockPort.aggregates[key].ClosingQty.String())

	decided, err := svc.ApplyDecision(context.Background(), adj.ID, approvals.DecisionApproved, 9)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, decided.Status)
	require.Len(t, stockPort.movements, 1, "redelivery must apply the movement exactly once")
	require.Equal(t, "25", stockPort.aggregates[key].ClosingQty.String())
}

func TestApprovalCompletionFailureResumesWithoutDoubleApply(t *testing.T) {
	svc, repo, stockPort, _ := newTestService(t, "50")
	key := stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	stockPort.seed(key, "30", "11.33")

	adj, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonDamage,
		ActorID:     7,
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.RequireFromString("5")}},
	})
	require.NoError(t, err)

	// Movements land, then the worker dies before marking the document done.
	repo.failTransition = map[Status]int{StatusApplying: 1}
	_, err = svc.ApplyDecision(context.Background(), adj.ID, approvals.DecisionApproved, 9)
	require.Error(t, err)
	require.Len(t, stockPort.movements, 1)

	stuck, err := repo.Get(context.Background(), adj.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApplying, stuck.Status)

	decided, err := svc.ApplyDecision(context.Background(), adj.ID, approvals.DecisionApproved, 9)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, decided.Status)
	require.Len(t, stockPort.movements, 1, "resumed approval must skip the ledgered line")
	require.Equal(t, "25", stockPort.aggregates[key].ClosingQty.String())
}

func TestCreateRejectsDuplicateLineItems(t *testing.T) {
	svc, _, stockPort, _ := newTestService(t, "1000")
	stockPort.seed(stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}, "30", "10")

	_, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonDamage,
		ActorID:     7,
		Lines: []LineInput{
			{ItemID: 10, Quantity: decimal.NewFromInt(1)},
			{ItemID: 10, Quantity: decimal.NewFromInt(2)},
		},
	})
	require.Error(t, err)
}

func TestApplyDecisionRejectedLeavesStockUntouched(t *testing.T) {
	svc, _, stockPort, _ := newTestService(t, "50")
	key := stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	stockPort.seed(key, "30", "11.33")

	adj, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonLost,
		ActorID:     7,
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.RequireFromString("6")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, adj.Status)

	decided, err := svc.ApplyDecision(context.Background(), adj.ID, approvals.DecisionRejected, 9)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, decided.Status)
	require.Empty(t, stockPort.movements)
	require.Equal(t, "30", stockPort.aggregates[key].ClosingQty.String())
}

func TestAuditCorrectionComputesSignedDifference(t *testing.T) {
	svc, _, stockPort, _ := newTestService(t, "1000")
	key := stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	stockPort.seed(key, "30", "10")

	adj, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonAuditCorrection,
		ActorID:     7,
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.RequireFromString("27")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, adj.Status)
	require.Equal(t, "-3", adj.Lines[0].DifferenceQty.String())
	require.Equal(t, "30.00", adj.Magnitude.StringFixed(2))
	require.Equal(t, "27", stockPort.aggregates[key].ClosingQty.String())
}

func TestAuditCorrectionZeroDifferenceMovesNothing(t *testing.T) {
	svc, _, stockPort, _ := newTestService(t, "1000")
	key := stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	stockPort.seed(key, "30", "10")

	adj, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonAuditCorrection,
		ActorID:     7,
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.RequireFromString("30")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, adj.Status)
	require.True(t, adj.Magnitude.IsZero())
	require.Empty(t, stockPort.movements)
}

func TestFoundExtraAddsStockAtSnapshotCost(t *testing.T) {
	svc, _, stockPort, _ := newTestService(t, "1000")
	key := stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}
	stockPort.seed(key, "30", "11.33")

	adj, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonFoundExtra,
		ActorID:     7,
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.RequireFromString("4")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, adj.Status)
	require.Len(t, stockPort.movements, 1)
	require.Equal(t, stock.DirectionIn, stockPort.movements[0].Direction)
	require.Equal(t, "11.33", stockPort.movements[0].UnitPrice.String())
	require.Equal(t, "34", stockPort.aggregates[key].ClosingQty.String())
}

func TestRemovalBeyondStockRejected(t *testing.T) {
	svc, _, stockPort, _ := newTestService(t, "1000")
	stockPort.seed(stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}, "3", "10")

	_, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonExpired,
		ActorID:     7,
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.RequireFromString("8")}},
	})
	require.ErrorIs(t, err, ErrNegativeStock)
}

func TestUnsupportedReasonRejected(t *testing.T) {
	svc, _, _, _ := newTestService(t, "1000")
	_, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      Reason("SHRINKAGE"),
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.NewFromInt(1)}},
	})
	require.ErrorIs(t, err, ErrUnsupportedReason)
}

func TestCancelOnlyFromPendingApproval(t *testing.T) {
	svc, _, stockPort, _ := newTestService(t, "50")
	stockPort.seed(stock.AggregateKey{TenantID: 1, ItemID: 10, WarehouseID: 5}, "30", "11.33")

	adj, err := svc.Create(context.Background(), CreateInput{
		TenantID:    1,
		WarehouseID: 5,
		Reason:      ReasonDamage,
		ActorID:     7,
		Lines:       []LineInput{{ItemID: 10, Quantity: decimal.RequireFromString("5")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, adj.Status)

	cancelled, err := svc.Cancel(context.Background(), adj.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, cancelled.Status)

	_, err = svc.Cancel(context.Background(), adj.ID, 7)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Empty(t, stockPort.movements)
}
