package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer   = "learnhub"
	DefaultTokenTTL = 7 * 24 * time.Hour

	minSecretLength = 32
)

// TokenConfig is the process-wide signing configuration.
type TokenConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// Claims represents JWT claims carried by bearer tokens.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// IdentityID returns the subject claim.
func (c Claims) IdentityID() string { return c.Subject }

// TokenService signs and verifies HS256 bearer tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService)

// WithTokenClock overrides time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewTokenService validates cfg and builds a TokenService.
func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("%w: token secret must be at least %d bytes", ErrInvalidInput, minSecretLength)
	}
	svc := &TokenService{
		secret: append([]byte(nil), cfg.Secret...),
		issuer: strings.TrimSpace(cfg.Issuer),
		ttl:    cfg.TTL,
		now:    time.Now,
	}
	if svc.issuer == "" {
		svc.issuer = DefaultIssuer
	}
	if svc.ttl <= 0 {
		svc.ttl = DefaultTokenTTL
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// TTL reports the configured token lifetime.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a token asserting identity, email and role.
func (s *TokenService) Issue(identityID, email, role string) (string, time.Time, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return "", time.Time{}, fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	role = normalizeName(role)
	if role == "" {
		return "", time.Time{}, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := Claims{
		Email: normalizeEmail(email),
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature and expiry and returns the embedded claims unchanged.
// The credential store is not consulted: claims are trusted until expiry.
func (s *TokenService) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	var claims Claims
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		err = classifyJWTError(err)
		if errors.Is(err, ErrTokenMalformed) && !s.signatureMatches(token) {
			return Claims{}, ErrTokenSignature
		}
		return Claims{}, err
	}
	if !parsed.Valid {
		return Claims{}, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.Role == "" {
		return Claims{}, ErrTokenMalformed
	}
	return claims, nil
}

// signatureMatches reports whether a three-segment token carries a valid
// HS256 signature over its raw header and payload. Tokens of any other shape
// are treated as matching so they stay classified as malformed.
func (s *TokenService) signatureMatches(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return true
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	return jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], sig, s.secret) == nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignature
	default:
		return ErrTokenMalformed
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
