package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/warden-iam/warden/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries audit entries waiting to be stored.
	QueueAudit = "audit"
	// TaskAuditRecord stores one audit entry.
	TaskAuditRecord = "audit:record"
)

// auditMaxRetry bounds redelivery of an entry the database keeps rejecting.
const auditMaxRetry = 10

// NewAuditRecordTask constructs an Asynq task for entry. The event id doubles
// as the task id so a retried enqueue cannot queue the entry twice.
func NewAuditRecordTask(entry audit.Entry) (*asynq.Task, error) {
	if entry.EventID == "" {
		return nil, fmt.Errorf("jobs: audit entry has no event id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode audit entry: %w", err)
	}
	return asynq.NewTask(TaskAuditRecord, data,
		asynq.Queue(QueueAudit),
		asynq.MaxRetry(auditMaxRetry),
		asynq.TaskID(entry.EventID),
	), nil
}
