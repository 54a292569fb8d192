// Package jobs wires background processing: the periodic health scan and
// alert mail delivery.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending alert emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeHealthScan is the task type for the periodic health scan.
	TaskTypeHealthScan = "health:scan"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HealthScanPayload selects the operator the scheduled scan runs as.
type HealthScanPayload struct {
	OperatorID int64 `json:"operator_id"`
}

// NewHealthScanTask constructs the periodic scan task.
func NewHealthScanTask(payload HealthScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeHealthScan, data), nil
}
