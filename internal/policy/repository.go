package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-his/meridian-his/internal/platform/db"
)

const pgUniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for policies, role
// assignments, user overrides and permission grants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const policyColumns = `id, name, code, namespace, description, is_active, settings, created_at, modified_at`

func scanPolicy(row pgx.Row) (Policy, error) {
	var (
		p        Policy
		settings []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Code, &p.Namespace, &p.Description, &p.IsActive, &settings, &p.CreatedAt, &p.ModifiedAt); err != nil {
		return Policy{}, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &p.Settings); err != nil {
			return Policy{}, fmt.Errorf("policy: decode settings: %w", err)
		}
	}
	return p, nil
}

// GetPolicyByName fetches a policy by its unique name.
func (r *Repository) GetPolicyByName(ctx context.Context, name string) (Policy, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM policies WHERE name = $1`, name)
	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, ErrNotFound
	}
	return p, err
}

// GetPolicyByID fetches a policy by surrogate key.
func (r *Repository) GetPolicyByID(ctx context.Context, id int64) (Policy, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = $1`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, ErrNotFound
	}
	return p, err
}

// ListPolicies returns all policies, optionally including deactivated ones.
func (r *Repository) ListPolicies(ctx context.Context, includeInactive bool) ([]Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var policies []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// PoliciesForRole returns the active policies held by a role, oldest
// assignment first. Resolution takes the last element per namespace, so
// last-assigned wins when a role holds two policies for one namespace.
func (r *Repository) PoliciesForRole(ctx context.Context, roleID int64) ([]Policy, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name, p.code, p.namespace, p.description, p.is_active, p.settings, p.created_at, p.modified_at
		FROM policies p
		JOIN role_policies rp ON rp.policy_id = p.id
		WHERE rp.role_id = $1 AND p.is_active
		ORDER BY rp.assigned_at`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var policies []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// CreatePolicy inserts a new policy. Returns ErrConflict when the name is
// taken.
func (r *Repository) CreatePolicy(ctx context.Context, p Policy) (int64, error) {
	settings, err := json.Marshal(p.Settings.Clone())
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.pool.QueryRow(ctx, `
		INSERT INTO policies (name, code, namespace, description, is_active, settings, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, NOW())
		RETURNING id`, p.Name, p.Code, p.Namespace, p.Description, settings).Scan(&id)
	if isUniqueViolation(err) {
		return 0, ErrConflict
	}
	return id, err
}

// UpdatePolicy replaces the mutable fields of an existing policy. Name,
// namespace and activation are not update targets: the first two are fixed
// at creation and DeactivatePolicy owns the latter.
func (r *Repository) UpdatePolicy(ctx context.Context, p Policy) error {
	settings, err := json.Marshal(p.Settings.Clone())
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE policies
		SET code = $2, description = $3, settings = $4, modified_at = NOW()
		WHERE id = $1`, p.ID, p.Code, p.Description, settings)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivatePolicy performs the logical delete.
func (r *Repository) DeactivatePolicy(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE policies SET is_active = FALSE, modified_at = NOW() WHERE id = $1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignPolicyToRole creates the role→policy edge.
func (r *Repository) AssignPolicyToRole(ctx context.Context, roleID, policyID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_policies (role_id, policy_id, assigned_at) VALUES ($1, $2, NOW())`, roleID, policyID)
	if isUniqueViolation(err) {
		return ErrAlreadyAssigned
	}
	return err
}

// RemovePolicyFromRole deletes the role→policy edge.
func (r *Repository) RemovePolicyFromRole(ctx context.Context, roleID, policyID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM role_policies WHERE role_id = $1 AND policy_id = $2`, roleID, policyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// UserRoles returns the role ids held by a user.
func (r *Repository) UserRoles(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roles = append(roles, id)
	}
	return roles, rows.Err()
}

// UserPermissions returns the distinct permission strings granted to a user
// through role grants.
func (r *Repository) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT p.module || '.' || p.resource || '.' || p.operation ||
			COALESCE('.' || NULLIF(p.scope, ''), '')
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1 AND p.is_active
		ORDER BY 1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetUserOverride fetches the sparse per-user override for a namespace.
// Absence is reported as ErrNotFound; resolution treats it as "defer".
func (r *Repository) GetUserOverride(ctx context.Context, userID int64, namespace string) (UserOverride, error) {
	var (
		o        UserOverride
		settings []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, namespace, settings, created_at
		FROM user_overrides WHERE user_id = $1 AND namespace = $2`, userID, namespace).
		Scan(&o.UserID, &o.Namespace, &settings, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserOverride{}, ErrNotFound
	}
	if err != nil {
		return UserOverride{}, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &o.Settings); err != nil {
			return UserOverride{}, fmt.Errorf("policy: decode override: %w", err)
		}
	}
	return o, nil
}

// SetUserOverride upserts the per-user override.
func (r *Repository) SetUserOverride(ctx context.Context, o UserOverride) error {
	settings, err := json.Marshal(o.Settings.Clone())
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO user_overrides (user_id, namespace, settings, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, namespace) DO UPDATE SET settings = EXCLUDED.settings`,
		o.UserID, o.Namespace, settings)
	return err
}

// RemoveUserOverride deletes the per-user override.
func (r *Repository) RemoveUserOverride(ctx context.Context, userID int64, namespace string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_overrides WHERE user_id = $1 AND namespace = $2`, userID, namespace)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GlobalSettings loads deployment-level defaults for a namespace. An empty
// set is valid: the compiled-in baseline still applies underneath.
func (r *Repository) GlobalSettings(ctx context.Context, namespace string) (Settings, error) {
	var settings []byte
	err := r.pool.QueryRow(ctx, `SELECT settings FROM namespace_config WHERE namespace = $1`, namespace).Scan(&settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out Settings
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &out); err != nil {
			return nil, fmt.Errorf("policy: decode namespace config: %w", err)
		}
	}
	if out == nil {
		out = Settings{}
	}
	return out, nil
}

// SetGlobalSettings upserts deployment-level defaults for a namespace.
func (r *Repository) SetGlobalSettings(ctx context.Context, namespace string, settings Settings) error {
	raw, err := json.Marshal(settings.Clone())
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO namespace_config (namespace, settings, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (namespace) DO UPDATE SET settings = EXCLUDED.settings, updated_at = NOW()`,
		namespace, raw)
	return err
}

// PolicyStats aggregates counts for the read-only admin statistics. The
// counts run in one repeatable-read transaction so they describe a single
// snapshot.
func (r *Repository) PolicyStats(ctx context.Context) (Stats, error) {
	stats := Stats{ByModule: make(map[string]int)}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT namespace, is_active, COUNT(*) FROM policies GROUP BY namespace, is_active`)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				namespace string
				active    bool
				count     int
			)
			if err := rows.Scan(&namespace, &active, &count); err != nil {
				rows.Close()
				return err
			}
			stats.Total += count
			stats.ByModule[namespace] += count
			if active {
				stats.Active += count
			} else {
				stats.Inactive += count
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM user_overrides`).Scan(&stats.Overrides); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `SELECT COUNT(DISTINCT role_id) FROM role_policies`).Scan(&stats.RolesBound)
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
