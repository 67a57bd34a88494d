package roles

const listTemplatesSQL = `SELECT role, permissions, COALESCE(updated_by, 0), updated_at
FROM role_templates
ORDER BY role`

const upsertTemplateSQL = `INSERT INTO role_templates (role, permissions, updated_by, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (role) DO UPDATE
SET permissions = EXCLUDED.permissions,
    updated_by = EXCLUDED.updated_by,
    updated_at = EXCLUDED.updated_at
RETURNING updated_at`
