package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/warden-iam/warden/internal/audit"
	"github.com/warden-iam/warden/internal/platform/httpx"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

// Service defines the business contract for audit queries.
type Service interface {
	List(ctx context.Context, filters audit.Filters) (audit.Result, error)
	Export(ctx context.Context, filters audit.Filters) ([]audit.Entry, error)
}

// Handler menangani permintaan audit log.
type Handler struct {
	logger  *slog.Logger
	service Service
	rbac    *rbac.Middleware
	now     func() time.Time
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service Service, mw *rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: mw, now: time.Now}
}

func (h *Handler) handleUserAudit(w http.ResponseWriter, r *http.Request) {
	targetID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filters.TargetID = targetID
	h.list(w, r, filters)
}

func (h *Handler) handleAll(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.list(w, r, filters)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, filters audit.Filters) {
	result, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit log", err)
		return
	}
	httpx.OK(w, http.StatusOK, "Audit log retrieved", result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filters.From.IsZero() {
		filters.From = h.now().UTC().Add(-defaultExportRange)
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "export audit log", err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		h.handleServerError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"permission-audit.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	filters := audit.Filters{
		Page:     httpx.IntQuery(r, "page", 1),
		PageSize: httpx.IntQuery(r, "limit", 0),
	}
	if v := strings.TrimSpace(q.Get("action")); v != "" {
		action := audit.Action(strings.ToUpper(v))
		if !action.Valid() {
			return audit.Filters{}, fmt.Errorf("%w: unknown action %q", shared.ErrInvalidInput, v)
		}
		filters.Action = action
	}
	var err error
	if filters.ActorID, err = optionalID(q.Get("actorId"), "actorId"); err != nil {
		return audit.Filters{}, err
	}
	if filters.TargetID, err = optionalID(q.Get("targetId"), "targetId"); err != nil {
		return audit.Filters{}, err
	}
	if filters.From, err = parseTime(q.Get("from"), "from", false); err != nil {
		return audit.Filters{}, err
	}
	if filters.To, err = parseTime(q.Get("to"), "to", true); err != nil {
		return audit.Filters{}, err
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.From.After(filters.To) {
		return audit.Filters{}, fmt.Errorf("%w: from must not be after to", shared.ErrInvalidInput)
	}
	return filters, nil
}

func optionalID(raw, field string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", shared.ErrInvalidInput, field, raw)
	}
	return id, nil
}

// parseTime accepts RFC3339 or a bare date. A bare upper bound covers the whole day.
func parseTime(raw, field string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s %q", shared.ErrInvalidInput, field, raw)
	}
	if endOfDay {
		t = t.Add(24 * time.Hour)
	}
	return t, nil
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	httpx.RespondError(w, err)
}
