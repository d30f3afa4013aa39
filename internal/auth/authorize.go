package auth

import "strings"

// Principal is the identity asserted by a verified bearer token.
type Principal struct {
	IdentityID string
	Email      string
	Role       string
}

// PrincipalFromClaims copies the identity claims out of a verified token.
func PrincipalFromClaims(c Claims) Principal {
	return Principal{IdentityID: c.Subject, Email: c.Email, Role: c.Role}
}

// HasAnyRole reports whether the principal's role is one of roles.
func (p Principal) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if normalizeName(r) == p.Role {
			return true
		}
	}
	return false
}

// TokenVerifier is satisfied by TokenService.
type TokenVerifier interface {
	Verify(token string) (Claims, error)
}

// SelectToken prefers the header token over the query parameter token.
func SelectToken(headerToken, queryToken string) string {
	if t := strings.TrimSpace(headerToken); t != "" {
		return t
	}
	return strings.TrimSpace(queryToken)
}

// Authorize runs the per-request gate: token extraction, verification and the
// optional role predicate. An empty roles list accepts any authenticated role.
// Failures are ErrUnauthenticated, ErrInvalidToken or ErrInsufficientRole; the
// cause of a verification failure is deliberately collapsed.
func Authorize(v TokenVerifier, headerToken, queryToken string, roles ...string) (Principal, error) {
	token := SelectToken(headerToken, queryToken)
	if token == "" {
		return Principal{}, ErrUnauthenticated
	}
	claims, err := v.Verify(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	p := PrincipalFromClaims(claims)
	if len(roles) > 0 && !p.HasAnyRole(roles...) {
		return p, ErrInsufficientRole
	}
	return p, nil
}
