package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warden-iam/warden/internal/rbac"
)

// Repository menyediakan penyimpanan append-only untuk entri audit.
type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	List(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error)
	Count(ctx context.Context, filters Filters) (int, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const entryColumns = `id, event_id::text, actor_id, actor_name, actor_email, actor_role,
	target_id, target_name, target_email, target_role, action, detail, reason, permissions,
	old_role, new_role, before_permissions, after_permissions,
	ip, user_agent, method, endpoint, request_id, status, created_at`

// Insert appends entry. Replays of the same event id are ignored so queue
// retries never duplicate a record.
func (r *PGRepository) Insert(ctx context.Context, entry Entry) error {
	var (
		targetID                       *int64
		targetName, targetEmail, tRole string
	)
	if entry.Target != nil {
		targetID = &entry.Target.ID
		targetName, targetEmail, tRole = entry.Target.Name, entry.Target.Email, string(entry.Target.Role)
	}
	var actorID *int64
	if entry.Actor.ID > 0 {
		actorID = &entry.Actor.ID
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO permission_audit_logs (
		event_id, actor_id, actor_name, actor_email, actor_role,
		target_id, target_name, target_email, target_role, action, detail, reason, permissions,
		old_role, new_role, before_permissions, after_permissions,
		ip, user_agent, method, endpoint, request_id, status, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
	ON CONFLICT (event_id) DO NOTHING`,
		entry.EventID, actorID, entry.Actor.Name, entry.Actor.Email, string(entry.Actor.Role),
		targetID, targetName, targetEmail, tRole, string(entry.Action), entry.Detail, entry.Reason,
		rbac.PermissionStrings(entry.Permissions), string(entry.OldRole), string(entry.NewRole),
		rbac.PermissionStrings(entry.Before), rbac.PermissionStrings(entry.After),
		entry.Request.IP, entry.Request.UserAgent, entry.Request.Method, entry.Request.Endpoint, entry.Request.RequestID,
		entry.Status, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// List returns entries matching filters, newest first.
func (r *PGRepository) List(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error) {
	where, args := buildWhere(filters)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM permission_audit_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		entryColumns, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: list entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries matching filters.
func (r *PGRepository) Count(ctx context.Context, filters Filters) (int, error) {
	where, args := buildWhere(filters)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM permission_audit_logs`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("audit: count entries: %w", err)
	}
	return total, nil
}

func buildWhere(filters Filters) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filters.ActorID > 0 {
		add("actor_id = $%d", filters.ActorID)
	}
	if filters.TargetID > 0 {
		add("target_id = $%d", filters.TargetID)
	}
	if filters.Action != "" {
		add("action = $%d", string(filters.Action))
	}
	if !filters.From.IsZero() {
		add("created_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("created_at < $%d", filters.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry                                Entry
		actorID, targetID                    *int64
		actorRole, targetRole, action        string
		targetName, targetEmail              string
		oldRole, newRole                     string
		permissions, beforePerms, afterPerms []string
	)
	err := row.Scan(
		&entry.ID, &entry.EventID, &actorID, &entry.Actor.Name, &entry.Actor.Email, &actorRole,
		&targetID, &targetName, &targetEmail, &targetRole, &action, &entry.Detail, &entry.Reason, &permissions,
		&oldRole, &newRole, &beforePerms, &afterPerms,
		&entry.Request.IP, &entry.Request.UserAgent, &entry.Request.Method, &entry.Request.Endpoint, &entry.Request.RequestID,
		&entry.Status, &entry.CreatedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: scan entry: %w", err)
	}
	if actorID != nil {
		entry.Actor.ID = *actorID
	}
	entry.Actor.Role = rbac.Role(actorRole)
	if targetID != nil {
		entry.Target = &Party{ID: *targetID, Name: targetName, Email: targetEmail, Role: rbac.Role(targetRole)}
	}
	entry.Action = Action(action)
	entry.OldRole = rbac.Role(oldRole)
	entry.NewRole = rbac.Role(newRole)
	entry.Permissions = rbac.PermissionsFromStrings(permissions)
	entry.Before = rbac.PermissionsFromStrings(beforePerms)
	entry.After = rbac.PermissionsFromStrings(afterPerms)
	return entry, nil
}

var _ Repository = (*PGRepository)(nil)
