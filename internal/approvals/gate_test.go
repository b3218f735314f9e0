package approvals

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memRecorder struct {
	entries []Entry
}

func (m *memRecorder) Record(_ context.Context, entry Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func TestThresholdGateAutoApprovesBelowLimit(t *testing.T) {
	recorder := &memRecorder{}
	gate := NewThresholdGate(decimal.NewFromInt(100), recorder, slog.Default())

	verdict, err := gate.Submit(context.Background(), Request{
		Type:        RequestTypeStockAdjustment,
		ReferenceID: 1,
		Amount:      decimal.RequireFromString("56.65"),
	})
	require.NoError(t, err)
	require.Equal(t, VerdictAutoApproved, verdict)
	require.Len(t, recorder.entries, 1)
	require.Equal(t, ActionSubmit, recorder.entries[0].Action)
	require.Equal(t, string(VerdictAutoApproved), recorder.entries[0].Note)
}

func TestThresholdGateHoldsAtOrAboveLimit(t *testing.T) {
	gate := NewThresholdGate(decimal.NewFromInt(50), &memRecorder{}, slog.Default())

	verdict, err := gate.Submit(context.Background(), Request{
		Type:        RequestTypeStockAdjustment,
		ReferenceID: 1,
		Amount:      decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	require.Equal(t, VerdictApprovalRequired, verdict, "amount equal to the limit must wait")
}

func TestThresholdGateZeroLimitHoldsEverything(t *testing.T) {
	gate := NewThresholdGate(decimal.Zero, &memRecorder{}, slog.Default())

	verdict, err := gate.Submit(context.Background(), Request{
		Type:        RequestTypeStockAdjustment,
		ReferenceID: 1,
		Amount:      decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)
	require.Equal(t, VerdictApprovalRequired, verdict)
}

func TestThresholdGateRejectsInvalidRequests(t *testing.T) {
	gate := NewThresholdGate(decimal.NewFromInt(100), &memRecorder{}, slog.Default())

	_, err := gate.Submit(context.Background(), Request{ReferenceID: 1})
	require.Error(t, err)

	_, err = gate.Submit(context.Background(), Request{
		Type:        RequestTypeStockAdjustment,
		ReferenceID: 1,
		Amount:      decimal.NewFromInt(-1),
	})
	require.Error(t, err)
}

func TestParseDecision(t *testing.T) {
	decision, err := ParseDecision("APPROVED")
	require.NoError(t, err)
	require.Equal(t, DecisionApproved, decision)

	_, err = ParseDecision("MAYBE")
	require.ErrorIs(t, err, ErrUnknownDecision)
}
