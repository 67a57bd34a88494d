package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Fallback stages reported to FallbackObserver.
const (
	StageEnqueue = "enqueue"
	StageInsert  = "insert"
)

// Recorder mencatat entri audit. Record tidak pernah gagal bagi pemanggil.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Enqueuer hands an entry to the background worker.
type Enqueuer interface {
	EnqueueAudit(ctx context.Context, entry Entry) error
}

// FallbackObserver counts entries that left the primary path.
type FallbackObserver interface {
	ObserveAuditFallback(stage string)
}

// RecorderConfig wires a DurableRecorder.
type RecorderConfig struct {
	Enqueuer   Enqueuer
	Repository Repository
	Logger     *slog.Logger
	Metrics    FallbackObserver
	Timeout    time.Duration
	Async      bool
}

// DurableRecorder enqueues entries for the worker and falls back to a direct
// insert, then to the log, when the previous stage fails.
type DurableRecorder struct {
	enqueuer Enqueuer
	repo     Repository
	logger   *slog.Logger
	metrics  FallbackObserver
	timeout  time.Duration
	async    bool
	now      func() time.Time
	newID    func() string
}

// NewRecorder membuat recorder audit baru.
func NewRecorder(cfg RecorderConfig) *DurableRecorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DurableRecorder{
		enqueuer: cfg.Enqueuer,
		repo:     cfg.Repository,
		logger:   logger,
		metrics:  cfg.Metrics,
		timeout:  timeout,
		async:    cfg.Async && cfg.Enqueuer != nil,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Record persists entry on a best-effort basis. The mutation it describes has
// already committed, so request cancellation does not abort the write.
func (r *DurableRecorder) Record(ctx context.Context, entry Entry) {
	entry = r.prepare(entry)
	base := context.WithoutCancel(ctx)

	if r.async {
		enqueueCtx, cancel := context.WithTimeout(base, r.timeout)
		err := r.enqueuer.EnqueueAudit(enqueueCtx, entry)
		cancel()
		if err == nil {
			return
		}
		r.fallback(StageEnqueue)
		r.logger.Warn("audit enqueue failed, writing directly",
			slog.String("event_id", entry.EventID), slog.Any("error", err))
	}

	if r.repo != nil {
		insertCtx, cancel := context.WithTimeout(base, r.timeout)
		err := r.repo.Insert(insertCtx, entry)
		cancel()
		if err == nil {
			return
		}
		r.fallback(StageInsert)
		r.logger.Error("audit entry dropped", slog.Any("error", err), slog.Any("entry", entry))
		return
	}

	r.fallback(StageInsert)
	r.logger.Error("audit entry dropped: no repository configured", slog.Any("entry", entry))
}

func (r *DurableRecorder) prepare(entry Entry) Entry {
	if entry.EventID == "" {
		entry.EventID = r.newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	if entry.Status == "" {
		entry.Status = StatusSuccess
	}
	return entry
}

func (r *DurableRecorder) fallback(stage string) {
	if r.metrics != nil {
		r.metrics.ObserveAuditFallback(stage)
	}
}

var _ Recorder = (*DurableRecorder)(nil)
