package roles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warden-iam/warden/internal/rbac"
)

// Repository persists customised role templates.
type Repository interface {
	ListTemplates(ctx context.Context) ([]rbac.TemplateRecord, error)
	SaveTemplate(ctx context.Context, rec rbac.TemplateRecord) (rbac.TemplateRecord, error)
}

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListTemplates returns every stored template.
func (r *PGRepository) ListTemplates(ctx context.Context) ([]rbac.TemplateRecord, error) {
	rows, err := r.pool.Query(ctx, listTemplatesSQL)
	if err != nil {
		return nil, fmt.Errorf("roles: list templates: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.TemplateRecord, error) {
		var (
			rec   rbac.TemplateRecord
			role  string
			perms []string
		)
		if err := row.Scan(&role, &perms, &rec.UpdatedBy, &rec.UpdatedAt); err != nil {
			return rbac.TemplateRecord{}, err
		}
		rec.Role = rbac.Role(role)
		rec.Permissions = rbac.PermissionsFromStrings(perms)
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("roles: scan templates: %w", err)
	}
	return records, nil
}

// SaveTemplate upserts rec and returns it with the stored timestamp.
func (r *PGRepository) SaveTemplate(ctx context.Context, rec rbac.TemplateRecord) (rbac.TemplateRecord, error) {
	var updatedBy *int64
	if rec.UpdatedBy > 0 {
		updatedBy = &rec.UpdatedBy
	}
	err := r.pool.QueryRow(ctx, upsertTemplateSQL,
		string(rec.Role), rbac.PermissionStrings(rec.Permissions), updatedBy, rec.UpdatedAt,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		return rbac.TemplateRecord{}, fmt.Errorf("roles: save template %s: %w", rec.Role, err)
	}
	return rec, nil
}
