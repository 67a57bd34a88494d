package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/warden-iam/warden/internal/audit"
	jobmetrics "github.com/warden-iam/warden/internal/jobs"
)

// AuditRecordJob writes queued audit entries to the audit store.
type AuditRecordJob struct {
	Repo    audit.Repository
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRecordJob initialises the audit record handler.
func NewAuditRecordJob(repo audit.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRecordJob {
	return &AuditRecordJob{Repo: repo, Logger: logger, Metrics: metrics}
}

// Handle stores the entry carried by t. Undecodable payloads are dropped
// without retry; store failures are retried by the queue.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Repo == nil {
		return errors.New("audit record: handler not configured")
	}
	tracker := j.Metrics.Track(TaskAuditRecord)
	defer func() {
		err = tracker.End(err)
	}()

	var entry audit.Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		j.logger().Error("drop undecodable audit payload", slog.Any("error", err))
		return fmt.Errorf("audit record: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if entry.EventID == "" || !entry.Action.Valid() {
		j.logger().Error("drop invalid audit entry",
			slog.String("event_id", entry.EventID),
			slog.String("action", string(entry.Action)),
		)
		return fmt.Errorf("audit record: invalid entry: %w", asynq.SkipRetry)
	}

	if err := j.Repo.Insert(ctx, entry); err != nil {
		j.logger().Warn("store audit entry",
			slog.String("event_id", entry.EventID),
			slog.String("action", string(entry.Action)),
			slog.Any("error", err),
		)
		return err
	}
	j.logger().Debug("audit entry stored",
		slog.String("event_id", entry.EventID),
		slog.String("action", string(entry.Action)),
	)
	return nil
}

func (j *AuditRecordJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
