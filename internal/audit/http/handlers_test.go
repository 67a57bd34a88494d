package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-iam/warden/internal/audit"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/rbac/rbactest"
	"github.com/warden-iam/warden/internal/shared"
)

type stubAuditService struct {
	result      audit.Result
	exportRows  []audit.Entry
	lastFilters audit.Filters
}

func (s *stubAuditService) List(ctx context.Context, filters audit.Filters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubAuditService) Export(ctx context.Context, filters audit.Filters) ([]audit.Entry, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

const (
	userID  int64 = 1
	adminID int64 = 2
	rootID  int64 = 3
)

func newAuditRouter(t *testing.T, service *stubAuditService) http.Handler {
	t.Helper()
	dir := rbactest.NewDirectory(
		rbac.Account{ID: userID, Role: rbac.RoleUser, IsActive: true},
		rbac.Account{ID: adminID, Role: rbac.RoleAdmin, IsActive: true},
		rbac.Account{ID: rootID, Role: rbac.RoleSuperAdmin, IsActive: true},
		rbac.Account{ID: 9, Role: rbac.RoleUser, IsActive: true},
	)
	mw := rbactest.Middleware(dir, nil)
	handler := NewHandler(nil, service, mw)
	handler.now = func() time.Time { return time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Use(mw.Authenticate())
	handler.MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, target string, as int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", "Bearer "+rbactest.Token(as))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestUserAuditRequiresAdmin(t *testing.T) {
	service := &stubAuditService{}
	router := newAuditRouter(t, service)

	rr := do(t, router, "/user/9/audit", userID)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, "/user/9/audit?page=2&limit=5&action=grant_permission", adminID)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(9), service.lastFilters.TargetID)
	assert.Equal(t, 2, service.lastFilters.Page)
	assert.Equal(t, 5, service.lastFilters.PageSize)
	assert.Equal(t, audit.ActionGrantPermission, service.lastFilters.Action)
}

func TestAllAuditIsSuperadminOnly(t *testing.T) {
	service := &stubAuditService{result: audit.Result{
		Entries:    []audit.Entry{{ID: 1, Action: audit.ActionChangeRole}},
		Pagination: shared.NewPagination(1, 20, 1),
	}}
	router := newAuditRouter(t, service)

	rr := do(t, router, "/audit/all", adminID)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, "/audit/all?actorId=2&from=2026-03-01&to=2026-03-02", rootID)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Success bool         `json:"success"`
		Data    audit.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Len(t, body.Data.Entries, 1)
	assert.Equal(t, int64(2), service.lastFilters.ActorID)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), service.lastFilters.To)
}

func TestUserAuditOfSuperAdminNeedsSuperAdmin(t *testing.T) {
	service := &stubAuditService{}
	router := newAuditRouter(t, service)

	rr := do(t, router, "/user/3/audit", adminID)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Zero(t, service.lastFilters.TargetID)

	rr = do(t, router, "/user/404/audit", adminID)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, router, "/user/3/audit", rootID)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, rootID, service.lastFilters.TargetID)
}

func TestAuditRejectsBadFilters(t *testing.T) {
	router := newAuditRouter(t, &stubAuditService{})

	for _, target := range []string{
		"/audit/all?action=NOPE",
		"/audit/all?actorId=abc",
		"/audit/all?from=yesterday",
		"/audit/all?from=2026-03-05&to=2026-03-01",
		"/user/zero/audit",
	} {
		rr := do(t, router, target, rootID)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestExportWritesCSV(t *testing.T) {
	service := &stubAuditService{exportRows: []audit.Entry{{
		Actor:     audit.Party{ID: rootID, Email: "root@example.com"},
		Action:    audit.ActionUpdateRoleTemplate,
		CreatedAt: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	}}}
	router := newAuditRouter(t, service)

	rr := do(t, router, "/audit/export.csv", rootID)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "created_at,action"))
	assert.Contains(t, rr.Body.String(), "UPDATE_ROLE_TEMPLATE")
	assert.Equal(t, time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC), service.lastFilters.From)
}
