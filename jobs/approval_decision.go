package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/adjustments"
	"github.com/meridian-erp/meridian-erp/internal/approvals"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// AdjustmentDecisionPort applies a decision to one adjustment.
type AdjustmentDecisionPort interface {
	ApplyDecision(ctx context.Context, id int64, decision approvals.Decision, actorID int64) (adjustments.Adjustment, error)
}

// ApprovalDecisionJob routes queued decisions to the owning workflow.
type ApprovalDecisionJob struct {
	adjustments AdjustmentDecisionPort
	metrics     *jobmetrics.Metrics
	logger      *slog.Logger
}

// NewApprovalDecisionJob constructs the job.
func NewApprovalDecisionJob(adjustmentsPort AdjustmentDecisionPort, metrics *jobmetrics.Metrics, logger *slog.Logger) *ApprovalDecisionJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalDecisionJob{adjustments: adjustmentsPort, metrics: metrics, logger: logger}
}

// Handle processes one TaskApprovalDecision task. Malformed payloads are
// dropped; workflow errors bubble up so Asynq retries delivery.
func (j *ApprovalDecisionJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskApprovalDecision)
	var payload ApprovalDecisionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		tracker.End(err)
		return asynq.SkipRetry
	}
	decision, err := approvals.ParseDecision(payload.Decision)
	if err != nil {
		j.logger.Warn("dropping decision task",
			slog.String("decision", payload.Decision),
			slog.Int64("reference_id", payload.ReferenceID))
		tracker.End(err)
		return asynq.SkipRetry
	}

	switch payload.Type {
	case approvals.RequestTypeStockAdjustment:
		adj, err := j.adjustments.ApplyDecision(ctx, payload.ReferenceID, decision, payload.ActorID)
		if err != nil {
			tracker.End(err)
			return err
		}
		j.logger.Info("approval decision delivered",
			slog.String("code", adj.Code),
			slog.String("decision", string(decision)),
			slog.String("status", string(adj.Status)))
	default:
		j.logger.Warn("dropping decision for unknown type", slog.String("type", payload.Type))
		tracker.End(nil)
		return asynq.SkipRetry
	}
	tracker.End(nil)
	return nil
}

// TaskHandlers returns the handler registrations for the worker.
func (j *ApprovalDecisionJob) TaskHandlers() []TaskHandler {
	return []TaskHandler{{Type: TaskApprovalDecision, Handler: j.Handle}}
}
