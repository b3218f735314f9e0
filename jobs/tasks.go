package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskApprovalDecision delivers an approval decision to its workflow.
	TaskApprovalDecision = "approval:decision"
	// TaskBatchExpiryScan flags expired batches that still carry stock.
	TaskBatchExpiryScan = "stock:expiry_scan"
)

// ApprovalDecisionPayload identifies the document a decision applies to.
type ApprovalDecisionPayload struct {
	Type        string `json:"type"`
	ReferenceID int64  `json:"reference_id"`
	Decision    string `json:"decision"`
	ActorID     int64  `json:"actor_id"`
}

// NewApprovalDecisionTask constructs an Asynq task.
func NewApprovalDecisionTask(payload ApprovalDecisionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApprovalDecision, data), nil
}

// NewBatchExpiryScanTask constructs the periodic expiry scan task.
func NewBatchExpiryScanTask() *asynq.Task {
	return asynq.NewTask(TaskBatchExpiryScan, nil)
}
