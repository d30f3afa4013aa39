package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"learnhub.org/internal/obs"
)

// dummyHash is compared against when the email is unknown so that login
// latency does not reveal whether an account exists.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z4Nq0/yH5nGKq0D9lZp1mGQe"

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      IdentitySummary `json:"user"`
}

// Service exposes the produced authentication operations.
type Service struct {
	users  UserStore
	tokens *TokenService
	otp    *OTPManager
	hasher Hasher
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithHasher overrides the password hasher.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// NewService constructs Service.
func NewService(users UserStore, tokens *TokenService, otp *OTPManager, opts ...ServiceOption) (*Service, error) {
	if users == nil || tokens == nil || otp == nil {
		return nil, errors.New("auth: users, tokens and otp manager are required")
	}
	svc := &Service{users: users, tokens: tokens, otp: otp, hasher: NewBcryptHasher(0)}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Tokens exposes the token service used for verification.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Login authenticates credentials and issues a bearer token. Unknown email
// and wrong password both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		obs.Login("invalid_credentials")
		return LoginResult{}, ErrInvalidCredentials
	}
	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.Verify(password, dummyHash)
			obs.Login("invalid_credentials")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		obs.Login("invalid_credentials")
		return LoginResult{}, ErrInvalidCredentials
	}
	token, exp, err := s.tokens.Issue(user.ID, user.Email, user.RoleName)
	if err != nil {
		return LoginResult{}, err
	}
	obs.Login("success")
	return LoginResult{Token: token, ExpiresAt: exp, User: user.Summary()}, nil
}

// RequestPasswordReset always succeeds for well-formed input, whether or not
// the email is registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	return s.otp.Request(ctx, email)
}

func (s *Service) VerifyOTP(ctx context.Context, email, code string) (bool, error) {
	return s.otp.Verify(ctx, email, code)
}

func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	return s.otp.ResetPassword(ctx, email, code, newPassword)
}

// ChangePassword replaces the password of an authenticated identity.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUnauthenticated
	}
	if err := checkPasswordStrength(next); err != nil {
		return err
	}
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if !s.hasher.Verify(current, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.UpdateUserPassword(ctx, user.ID, hash)
}

// Me returns the stored summary of the identity behind a token.
func (s *Service) Me(ctx context.Context, userID string) (IdentitySummary, error) {
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return IdentitySummary{}, ErrUserNotFound
		}
		return IdentitySummary{}, err
	}
	return user.Summary(), nil
}
