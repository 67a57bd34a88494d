// Package cli holds operator helpers behind the warden subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/warden-iam/warden/jobs"
)

// Inspector is the part of asynq.Inspector the jobs helpers use.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunAllArchivedTasks(queue string) (int, error)
}

// JobsCLI wraps manual management helpers for the audit queue.
type JobsCLI struct {
	inspector Inspector
	closer    io.Closer
}

// NewJobsCLI initialises the CLI helpers using the provided Redis options.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{inspector: inspector, closer: inspector}
}

// NewJobsCLIWith wraps an existing inspector.
func NewJobsCLIWith(inspector Inspector) *JobsCLI {
	return &JobsCLI{inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueues reports metrics for every warden queue. Queues that have
// never held a task report zeros.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	var out []QueueStats
	for _, queue := range []string{jobs.QueueAudit, jobs.QueueDefault} {
		stats := QueueStats{Queue: queue}
		info, err := c.inspector.GetQueueInfo(queue)
		switch {
		case errors.Is(err, asynq.ErrQueueNotFound):
		case err != nil:
			return nil, fmt.Errorf("jobs cli: inspect %s: %w", queue, err)
		case info != nil:
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

// ListDeadAudit returns audit tasks that exhausted their retries.
func (c *JobsCLI) ListDeadAudit(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	tasks, err := c.inspector.ListArchivedTasks(jobs.QueueAudit, asynq.PageSize(size), asynq.Page(1))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, nil
	}
	return tasks, err
}

// RequeueDeadAudit moves archived audit tasks back to pending.
func (c *JobsCLI) RequeueDeadAudit(ctx context.Context) (int, error) {
	if c == nil || c.inspector == nil {
		return 0, errors.New("jobs cli: inspector not configured")
	}
	n, err := c.inspector.RunAllArchivedTasks(jobs.QueueAudit)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return 0, nil
	}
	return n, err
}

// Run executes one jobs subcommand and prints the result to out.
func (c *JobsCLI) Run(ctx context.Context, args []string, out io.Writer) error {
	cmd := "stats"
	if len(args) > 0 {
		cmd = args[0]
	}
	switch cmd {
	case "stats":
		stats, err := c.InspectQueues(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return tw.Flush()
	case "dead":
		tasks, err := c.ListDeadAudit(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Fprintf(out, "%s\t%s\t%s\n", t.ID, t.LastFailedAt.Format("2006-01-02 15:04:05"), t.LastErr)
		}
		return nil
	case "requeue":
		n, err := c.RequeueDeadAudit(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "requeued %d audit task(s)\n", n)
		return nil
	default:
		return fmt.Errorf("jobs cli: unknown command %q (want stats, dead or requeue)", cmd)
	}
}
