package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"learnhub.org/internal/auth"
	"learnhub.org/internal/ids"
)

const selectRole = `select id, name, display_name, is_system_role, created_at, updated_at from roles`

func scanRole(row interface{ Scan(...any) error }) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.IsSystemRole, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, err
}

func (s *Store) FindRoleByName(ctx context.Context, name string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	return scanRole(s.db.QueryRowContext(ctx, selectRole+` where name = $1`, name))
}

func (s *Store) FindRoleByID(ctx context.Context, id string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	return scanRole(s.db.QueryRowContext(ctx, selectRole+` where id = $1`, id))
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, selectRole+` order by is_system_role desc, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) CreateRole(ctx context.Context, role auth.Role) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, display_name, is_system_role)
		values ($1, $2, $3, $4)
		returning id, name, display_name, is_system_role, created_at, updated_at
	`, role.ID, role.Name, role.DisplayName, role.IsSystemRole)
	created, err := scanRole(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Role{}, auth.ErrDuplicateResource
		}
		return auth.Role{}, err
	}
	return created, nil
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd auth.RoleUpdate) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.DisplayName != nil {
		sets = append(sets, fmt.Sprintf("display_name = $%d", idx))
		args = append(args, *upd.DisplayName)
		idx++
	}
	if len(sets) == 0 {
		return s.FindRoleByID(ctx, roleID)
	}
	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf(`update roles set %s where id = $%d
		returning id, name, display_name, is_system_role, created_at, updated_at`, strings.Join(sets, ", "), idx)
	args = append(args, roleID)

	role, err := scanRole(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Role{}, auth.ErrDuplicateResource
		}
		return auth.Role{}, err
	}
	return role, nil
}

// DeleteRole removes a non-system role. The users.role_id foreign key
// rejects the delete while any user still holds the role.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1 and not is_system_role`, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrRoleInUse
		}
		return err
	}
	if err := requireAffected(res); !errors.Is(err, auth.ErrNotFound) {
		return err
	}
	var system bool
	err = s.db.QueryRowContext(ctx, `select is_system_role from roles where id = $1`, roleID).Scan(&system)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return auth.ErrNotFound
	case err != nil:
		return err
	case system:
		return fmt.Errorf("%w: cannot delete role %s", auth.ErrSystemRoleProtected, roleID)
	}
	return auth.ErrNotFound
}

func (s *Store) CountUsersWithRole(ctx context.Context, roleID string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users where role_id = $1`, roleID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryPermissions(ctx, `
		select id, key, coalesce(description, ''), created_at
		from permissions
		order by key
	`)
}

func (s *Store) RolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return s.queryPermissions(ctx, `
		select p.id, p.key, coalesce(p.description, ''), p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.key
	`, roleID)
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...any) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// SetRolePermissions replaces the grants of roleID in one transaction.
func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionKeys []string) error {
	if s.db == nil {
		return errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, key := range permissionKeys {
		var permID string
		err := tx.QueryRowContext(ctx, `select id from permissions where key = $1`, key).Scan(&permID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: permission %s", auth.ErrNotFound, key)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
