package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"learnhub.org/internal/obs"
)

const (
	DefaultOTPTTL = 10 * time.Minute
	OTPLength     = 6
)

var otpModulus = big.NewInt(1_000_000)

// OTPManager drives the password reset challenge lifecycle:
// issued -> consumed, or issued -> expired.
type OTPManager struct {
	otps    OTPStore
	users   UserStore
	hasher  Hasher
	sender  OTPSender
	log     logrus.FieldLogger
	ttl     time.Duration
	now     func() time.Time
	entropy io.Reader
}

// OTPOption configures OTPManager behavior.
type OTPOption func(*OTPManager)

func WithOTPTTL(ttl time.Duration) OTPOption {
	return func(m *OTPManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithOTPClock(fn func() time.Time) OTPOption {
	return func(m *OTPManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

func WithOTPLogger(l logrus.FieldLogger) OTPOption {
	return func(m *OTPManager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithOTPHasher(h Hasher) OTPOption {
	return func(m *OTPManager) {
		if h != nil {
			m.hasher = h
		}
	}
}

// withOTPEntropy swaps the random source; tests only.
func withOTPEntropy(r io.Reader) OTPOption {
	return func(m *OTPManager) { m.entropy = r }
}

func NewOTPManager(otps OTPStore, users UserStore, sender OTPSender, opts ...OTPOption) (*OTPManager, error) {
	if otps == nil || users == nil {
		return nil, errors.New("otp store and user store are required")
	}
	if sender == nil {
		return nil, errors.New("otp sender is required")
	}
	m := &OTPManager{
		otps:    otps,
		users:   users,
		hasher:  NewBcryptHasher(0),
		sender:  sender,
		log:     obs.Logger(),
		ttl:     DefaultOTPTTL,
		now:     time.Now,
		entropy: rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Request issues a challenge when email belongs to a registered identity.
// Unknown emails succeed silently. Delivery failures are logged, never returned.
func (m *OTPManager) Request(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}
	if _, err := m.users.FindUserByEmail(ctx, email); err != nil {
		if errors.Is(err, ErrNotFound) {
			m.log.WithField("event", "otp.request.unknown_email").Debug("password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	code, err := generateCode(m.entropy)
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	expiresAt := m.now().UTC().Add(m.ttl)
	id, err := m.otps.InsertOTP(ctx, email, code, expiresAt)
	if err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	obs.OTPIssued()

	if err := m.sender.SendOTP(ctx, email, code, expiresAt); err != nil {
		obs.OTPDeliveryFailed()
		m.log.WithFields(logrus.Fields{
			"event":  "otp.delivery_failed",
			"otp_id": id,
			"error":  err.Error(),
		}).Warn("otp delivery failed")
	}
	return nil
}

// Verify reports whether code is a live challenge for email. It never mutates state.
func (m *OTPManager) Verify(ctx context.Context, email, code string) (bool, error) {
	_, err := m.lookup(ctx, email, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrInvalidOrExpiredOTP):
		return false, nil
	default:
		return false, err
	}
}

// Consume marks the challenge used. Consuming a dead challenge is a no-op.
func (m *OTPManager) Consume(ctx context.Context, challengeID string) error {
	if strings.TrimSpace(challengeID) == "" {
		return fmt.Errorf("%w: challenge id is required", ErrInvalidInput)
	}
	_, err := m.otps.MarkOTPUsed(ctx, challengeID, m.now().UTC())
	return err
}

// ResetPassword redeems a live challenge and replaces the identity's password.
// Of several concurrent calls presenting the same code at most one succeeds.
func (m *OTPManager) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := checkPasswordStrength(newPassword); err != nil {
		obs.PasswordReset("weak_password")
		return err
	}
	challenge, err := m.lookup(ctx, email, code)
	if err != nil {
		obs.PasswordReset("invalid_otp")
		return err
	}
	user, err := m.users.FindUserByEmail(ctx, challenge.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.PasswordReset("user_not_found")
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	hash, err := m.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	claimed, err := m.otps.MarkOTPUsed(ctx, challenge.ID, m.now().UTC())
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if !claimed {
		obs.PasswordReset("invalid_otp")
		return ErrInvalidOrExpiredOTP
	}
	if err := m.users.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}
	obs.PasswordReset("success")
	return nil
}

func (m *OTPManager) lookup(ctx context.Context, email, code string) (Challenge, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || !isOTPCode(code) {
		return Challenge{}, ErrInvalidOrExpiredOTP
	}
	now := m.now().UTC()
	c, err := m.otps.FindLiveOTP(ctx, email, code, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Challenge{}, ErrInvalidOrExpiredOTP
		}
		return Challenge{}, fmt.Errorf("lookup otp: %w", err)
	}
	if !c.Live(now) {
		return Challenge{}, ErrInvalidOrExpiredOTP
	}
	return c, nil
}

func generateCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, otpModulus)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", OTPLength, n.Int64()), nil
}

func isOTPCode(code string) bool {
	if len(code) != OTPLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
