package pg

import (
	"context"
	"database/sql"
	"errors"

	"learnhub.org/internal/auth"
	"learnhub.org/internal/ids"
)

const selectUser = `
	select u.id, u.email, u.password_hash, coalesce(u.name, ''), u.role_id, r.name, u.created_at, u.updated_at
	from users u
	join roles r on r.id = u.role_id
`

func scanUser(row interface{ Scan(...any) error }) (auth.Identity, error) {
	var u auth.Identity
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.RoleID, &u.RoleName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrNotFound
	}
	return u, err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` where lower(u.email) = lower($1)`, email))
}

func (s *Store) FindUserByID(ctx context.Context, id string) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` where u.id = $1`, id))
}

func (s *Store) CreateUser(ctx context.Context, u auth.Identity) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errNoDB
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, name, role_id)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, u.ID, u.Email, u.PasswordHash, nullIfEmpty(u.Name), u.RoleID).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.Identity{}, auth.ErrDuplicateResource
			case pgErrForeignKeyViolation:
				return auth.Identity{}, auth.ErrNotFound
			}
		}
		return auth.Identity{}, err
	}
	return u, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $1, updated_at = now() where id = $2
	`, passwordHash, userID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) UpdateUserRole(ctx context.Context, userID, roleID string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update users set role_id = $1, updated_at = now() where id = $2
	`, roleID, userID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
