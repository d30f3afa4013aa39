package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"learnhub.org/internal/auth"
	"learnhub.org/internal/ids"
)

func (s *Store) InsertOTP(ctx context.Context, email, code string, expiresAt time.Time) (string, error) {
	if s.db == nil {
		return "", errNoDB
	}
	id := ids.New()
	if _, err := s.db.ExecContext(ctx, `
		insert into otp_codes (id, email, code, expires_at)
		values ($1, $2, $3, $4)
	`, id, email, code, expiresAt); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) FindLiveOTP(ctx context.Context, email, code string, now time.Time) (auth.Challenge, error) {
	if s.db == nil {
		return auth.Challenge{}, errNoDB
	}
	var c auth.Challenge
	err := s.db.QueryRowContext(ctx, `
		select id, email, code, created_at, expires_at, used
		from otp_codes
		where email = $1 and code = $2 and used = false and expires_at > $3
		order by created_at desc, id desc
		limit 1
	`, email, code, now).Scan(&c.ID, &c.Email, &c.Code, &c.CreatedAt, &c.ExpiresAt, &c.Used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Challenge{}, auth.ErrNotFound
		}
		return auth.Challenge{}, err
	}
	return c, nil
}

// MarkOTPUsed claims the challenge with a conditional update so that only
// one concurrent caller observes the transition.
func (s *Store) MarkOTPUsed(ctx context.Context, id string, now time.Time) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update otp_codes set used = true
		where id = $1 and used = false and expires_at > $2
	`, id, now)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}
