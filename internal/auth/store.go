package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	UserStore
	RoleStore
	OTPStore
}

// UserStore manages identities. Lookups return ErrNotFound when nothing matches.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (Identity, error)
	FindUserByID(ctx context.Context, id string) (Identity, error)
	CreateUser(ctx context.Context, u Identity) (Identity, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	UpdateUserRole(ctx context.Context, userID, roleID string) error
}

// RoleStore manages roles, the permission catalog and role grants.
type RoleStore interface {
	FindRoleByName(ctx context.Context, name string) (Role, error)
	FindRoleByID(ctx context.Context, id string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	CountUsersWithRole(ctx context.Context, roleID string) (int, error)

	ListPermissions(ctx context.Context) ([]Permission, error)
	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)
	SetRolePermissions(ctx context.Context, roleID string, permissionKeys []string) error
}

// OTPStore persists password reset challenges as an append-only log.
type OTPStore interface {
	InsertOTP(ctx context.Context, email, code string, expiresAt time.Time) (string, error)
	// FindLiveOTP returns the most recently created challenge for email that
	// matches code, is unused and expires after now.
	FindLiveOTP(ctx context.Context, email, code string, now time.Time) (Challenge, error)
	// MarkOTPUsed flips used=true only while the row is still unused and
	// unexpired, reporting whether this call performed the transition.
	MarkOTPUsed(ctx context.Context, id string, now time.Time) (bool, error)
}

// OTPSender delivers issued codes to the address owner.
type OTPSender interface {
	SendOTP(ctx context.Context, email, code string, expiresAt time.Time) error
}
