package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconSnapshot runs a reconciliation and persists the snapshot.
	TaskReconSnapshot = "recon:snapshot"
	// TaskGLIntegrityCheck verifies posted entries still balance.
	TaskGLIntegrityCheck = "gl:integrity"
	// TaskThresholdAlert delivers a float threshold breach to the
	// notification collaborator.
	TaskThresholdAlert = "alerts:threshold"
)

// ReconSnapshotPayload parameterises a reconciliation snapshot run.
type ReconSnapshotPayload struct {
	Trigger string `json:"trigger"`
}

// NewReconSnapshotTask constructs an Asynq task.
func NewReconSnapshotTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(ReconSnapshotPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconSnapshot, data), nil
}

// GLIntegrityPayload parameterises an integrity check run.
type GLIntegrityPayload struct {
	Trigger string `json:"trigger"`
}

// NewGLIntegrityTask constructs an Asynq task.
func NewGLIntegrityTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(GLIntegrityPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrityCheck, data), nil
}

// ThresholdAlertPayload describes a float threshold breach bound for the
// notification collaborator.
type ThresholdAlertPayload struct {
	FloatAccountID int64     `json:"float_account_id"`
	BranchID       int64     `json:"branch_id"`
	Provider       string    `json:"provider"`
	AccountNumber  string    `json:"account_number"`
	Direction      string    `json:"direction"`
	Balance        float64   `json:"balance"`
	Threshold      float64   `json:"threshold"`
	At             time.Time `json:"at"`
	Message        string    `json:"message"`
}

// NewThresholdAlertTask constructs an Asynq task.
func NewThresholdAlertTask(payload ThresholdAlertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskThresholdAlert, data), nil
}
