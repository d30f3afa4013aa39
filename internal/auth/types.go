package auth

import "time"

// Identity is a user able to authenticate against the platform.
type Identity struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	RoleID       string
	RoleName     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Summary strips credential material from the identity.
func (u Identity) Summary() IdentitySummary {
	return IdentitySummary{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.RoleName}
}

// IdentitySummary is the public view of an identity returned to clients.
type IdentitySummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

// Role groups permissions. System roles cannot be renamed or deleted.
type Role struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DisplayName  string    `json:"display_name"`
	IsSystemRole bool      `json:"is_system_role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoleUpdate carries optional role mutations.
type RoleUpdate struct {
	Name        *string
	DisplayName *string
}

// Permission is a fine-grained capability identifier.
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Challenge is a one-time password issued for a password reset.
type Challenge struct {
	ID        string
	Email     string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// Live reports whether the challenge can still be redeemed at now.
func (c Challenge) Live(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}
