package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")

	ErrUnauthenticated        = errors.New("auth: unauthenticated")
	ErrInvalidToken           = errors.New("auth: invalid token")
	ErrInsufficientRole       = errors.New("auth: insufficient role")
	ErrInsufficientPermission = errors.New("auth: insufficient permission")
	ErrInvalidCredentials     = errors.New("auth: invalid credentials")
	ErrInvalidOrExpiredOTP    = errors.New("auth: invalid or expired otp")
	ErrWeakPassword           = errors.New("auth: password too weak")
	ErrUserNotFound           = errors.New("auth: user not found")
	ErrDuplicateResource      = errors.New("auth: resource already exists")
	ErrSystemRoleProtected    = errors.New("auth: system role is protected")
	ErrRoleInUse              = errors.New("auth: role is assigned to users")
)

// Token verification failures. Each one also matches ErrInvalidToken.
var (
	ErrTokenMalformed = &tokenError{msg: "auth: malformed token"}
	ErrTokenSignature = &tokenError{msg: "auth: invalid token signature"}
	ErrTokenExpired   = &tokenError{msg: "auth: token expired"}
)

type tokenError struct{ msg string }

func (e *tokenError) Error() string { return e.msg }

func (e *tokenError) Is(target error) bool { return target == ErrInvalidToken }
