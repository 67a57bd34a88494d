package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warden-iam/warden/internal/platform/db"
	"github.com/warden-iam/warden/internal/rbac"
	"github.com/warden-iam/warden/internal/shared"
)

// superAdminLockKey guards superadmin counting across transactions.
const superAdminLockKey int64 = 0x77617264656e

const accountColumns = `id, name, email, role, granted_permissions, revoked_permissions,
	is_active, created_by, updated_by, created_at, updated_at, last_login_at`

// Store provides PostgreSQL backed account persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns the account with id or shared.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (rbac.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// Mutate locks the account row, applies fn to a working copy and persists
// the result in the same transaction. Nothing is written when fn leaves the
// account unchanged or returns an error.
func (s *Store) Mutate(ctx context.Context, id int64, fn func(*rbac.Account, rbac.AccountTx) error) (rbac.Account, rbac.Account, error) {
	var before, after rbac.Account
	err := db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
		current, err := scanAccount(row)
		if err != nil {
			return err
		}
		before = current
		working := current
		working.Overrides = current.Overrides.Clone()
		if err := fn(&working, txView{tx: tx}); err != nil {
			return err
		}
		if sameState(before, working) {
			after = before
			return nil
		}
		row = tx.QueryRow(ctx, `UPDATE accounts SET
			name = $2, email = $3, email_folded = $4, role = $5,
			granted_permissions = $6, revoked_permissions = $7,
			is_active = $8, updated_by = $9, updated_at = NOW()
			WHERE id = $1 RETURNING `+accountColumns,
			id, working.Name, working.Email, shared.FoldEmail(working.Email), string(working.Role),
			rbac.PermissionStrings(working.Overrides.Granted), rbac.PermissionStrings(working.Overrides.Revoked),
			working.IsActive, working.UpdatedBy,
		)
		after, err = scanAccount(row)
		if db.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	})
	if err != nil {
		return rbac.Account{}, rbac.Account{}, err
	}
	return before, after, nil
}

// Create inserts a new account. check runs first inside the transaction so
// it can enforce limits against a consistent count.
func (s *Store) Create(ctx context.Context, in NewAccount, check func(rbac.AccountTx) error) (rbac.Account, error) {
	var created rbac.Account
	err := db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if check != nil {
			if err := check(txView{tx: tx}); err != nil {
				return err
			}
		}
		row := tx.QueryRow(ctx, `INSERT INTO accounts (name, email, email_folded, password_hash, role, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING `+accountColumns,
			in.Name, strings.TrimSpace(in.Email), shared.FoldEmail(in.Email), in.PasswordHash, string(in.Role), in.CreatedBy,
		)
		var err error
		created, err = scanAccount(row)
		if db.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	})
	if err != nil {
		return rbac.Account{}, err
	}
	return created, nil
}

// Delete removes the account with id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("users: delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListAll returns every account ordered by id.
func (s *Store) ListAll(ctx context.Context) ([]rbac.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("users: list accounts: %w", err)
	}
	return collectAccounts(rows)
}

// List returns one page of accounts matching filters and the total match count.
func (s *Store) List(ctx context.Context, filters Filters) ([]rbac.Account, int, error) {
	where, args := buildWhere(filters)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count accounts: %w", err)
	}

	args = append(args, filters.PerPage, (filters.Page-1)*filters.PerPage)
	query := fmt.Sprintf(`SELECT %s FROM accounts%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		accountColumns, where, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list accounts: %w", err)
	}
	accounts, err := collectAccounts(rows)
	if err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

// CountByRole returns the number of accounts per role.
func (s *Store) CountByRole(ctx context.Context) (map[rbac.Role]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT role, COUNT(*) FROM accounts GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("users: count by role: %w", err)
	}
	defer rows.Close()
	counts := make(map[rbac.Role]int, len(rbac.AllRoles()))
	for rows.Next() {
		var (
			role  string
			count int
		)
		if err := rows.Scan(&role, &count); err != nil {
			return nil, fmt.Errorf("users: count by role: %w", err)
		}
		counts[rbac.Role(role)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: count by role: %w", err)
	}
	return counts, nil
}

// Credentials returns the account registered under email and its password hash.
func (s *Store) Credentials(ctx context.Context, email string) (rbac.Account, string, error) {
	var hash string
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+`, password_hash FROM accounts WHERE email_folded = $1`, shared.FoldEmail(email))
	acc, err := scanAccount(row, &hash)
	if err != nil {
		return rbac.Account{}, "", err
	}
	return acc, hash, nil
}

// TouchLogin records a successful login.
func (s *Store) TouchLogin(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `UPDATE accounts SET last_login_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("users: touch login: %w", err)
	}
	return nil
}

type txView struct {
	tx pgx.Tx
}

func (v txView) CountSuperAdmins(ctx context.Context) (int, error) {
	if _, err := v.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, superAdminLockKey); err != nil {
		return 0, fmt.Errorf("users: lock superadmin count: %w", err)
	}
	var n int
	if err := v.tx.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE role = $1 AND is_active`, string(rbac.RoleSuperAdmin)).Scan(&n); err != nil {
		return 0, fmt.Errorf("users: count superadmins: %w", err)
	}
	return n, nil
}

func buildWhere(filters Filters) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if filters.Role != "" {
		add("role = ?", string(filters.Role))
	}
	if filters.Active != nil {
		add("is_active = ?", *filters.Active)
	}
	if search := strings.TrimSpace(filters.Search); search != "" {
		add("(name ILIKE ? OR email ILIKE ?)", "%"+escapeLike(search)+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func collectAccounts(rows pgx.Rows) ([]rbac.Account, error) {
	defer rows.Close()
	accounts := make([]rbac.Account, 0)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: scan accounts: %w", err)
	}
	return accounts, nil
}

func scanAccount(row pgx.Row, extra ...any) (rbac.Account, error) {
	var (
		acc              rbac.Account
		role             string
		granted, revoked []string
	)
	dest := []any{
		&acc.ID, &acc.Name, &acc.Email, &role, &granted, &revoked,
		&acc.IsActive, &acc.CreatedBy, &acc.UpdatedBy, &acc.CreatedAt, &acc.UpdatedAt, &acc.LastLoginAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Account{}, shared.ErrNotFound
		}
		return rbac.Account{}, fmt.Errorf("users: scan account: %w", err)
	}
	acc.Role = rbac.Role(role)
	acc.Overrides = rbac.OverrideSet{
		Granted: rbac.PermissionsFromStrings(granted),
		Revoked: rbac.PermissionsFromStrings(revoked),
	}
	return acc, nil
}
