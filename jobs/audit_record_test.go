package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-iam/warden/internal/audit"
	jobmetrics "github.com/warden-iam/warden/internal/jobs"
	"github.com/warden-iam/warden/internal/rbac"
)

type recordingRepo struct {
	entries []audit.Entry
	err     error
}

func (r *recordingRepo) Insert(ctx context.Context, entry audit.Entry) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingRepo) List(ctx context.Context, filters audit.Filters, limit, offset int) ([]audit.Entry, error) {
	return r.entries, nil
}

func (r *recordingRepo) Count(ctx context.Context, filters audit.Filters) (int, error) {
	return len(r.entries), nil
}

func sampleEntry() audit.Entry {
	return audit.Entry{
		EventID:     "0b6c5f7e-5c1e-4c55-9d8c-3d9f0a1e2b3c",
		Actor:       audit.Party{ID: 1, Email: "root@example.com", Role: rbac.RoleSuperAdmin},
		Target:      &audit.Party{ID: 7, Email: "u@example.com", Role: rbac.RoleUser},
		Action:      audit.ActionGrantPermission,
		Detail:      "Granted export_data to u@example.com",
		Permissions: []rbac.Permission{rbac.PermExportData},
		After:       []rbac.Permission{rbac.PermExportData},
		Status:      audit.StatusSuccess,
	}
}

func TestNewAuditRecordTask(t *testing.T) {
	task, err := NewAuditRecordTask(sampleEntry())
	require.NoError(t, err)
	assert.Equal(t, TaskAuditRecord, task.Type())

	var decoded audit.Entry
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, sampleEntry().EventID, decoded.EventID)
	assert.Equal(t, int64(7), decoded.Target.ID)

	_, err = NewAuditRecordTask(audit.Entry{Action: audit.ActionGrantPermission})
	assert.Error(t, err)
}

func TestAuditRecordJobStoresEntry(t *testing.T) {
	repo := &recordingRepo{}
	reg := prometheus.NewRegistry()
	job := NewAuditRecordJob(repo, nil, jobmetrics.NewMetrics(reg))
	task, err := NewAuditRecordTask(sampleEntry())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, repo.entries, 1)
	assert.Equal(t, audit.ActionGrantPermission, repo.entries[0].Action)
	assert.Equal(t, []rbac.Permission{rbac.PermExportData}, repo.entries[0].Permissions)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestAuditRecordJobSkipsRetryOnBadPayload(t *testing.T) {
	job := NewAuditRecordJob(&recordingRepo{}, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskAuditRecord, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	bad, err := json.Marshal(audit.Entry{EventID: "x", Action: "DROP_TABLE"})
	require.NoError(t, err)
	err = job.Handle(context.Background(), asynq.NewTask(TaskAuditRecord, bad))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAuditRecordJobRetriesStoreFailure(t *testing.T) {
	storeErr := errors.New("connection refused")
	job := NewAuditRecordJob(&recordingRepo{err: storeErr}, nil, nil)
	task, err := NewAuditRecordTask(sampleEntry())
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	h := NewHandler(stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueAudit: {Queue: QueueAudit, Pending: 3, Retry: 1},
	}}, nil)
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Data []QueueHealth `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, QueueHealth{Queue: QueueAudit, Pending: 3, Retry: 1}, body.Data[0])
	assert.Equal(t, QueueHealth{Queue: QueueDefault}, body.Data[1])
}

func TestHealthFailsWhenRedisIsDown(t *testing.T) {
	h := NewHandler(stubInspector{err: errors.New("dial tcp: refused")}, nil)
	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestNewWorkerNeedsHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	assert.Error(t, err)
}
