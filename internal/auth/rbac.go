package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCapabilityCacheSize = 128
	defaultCapabilityCacheTTL  = time.Minute
)

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)

// NewUser is the input for administrative provisioning.
type NewUser struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// RBACService manages roles, grants and capability lookups.
type RBACService struct {
	users  UserStore
	roles  RoleStore
	hasher Hasher

	cacheTTL time.Duration
	cache    *expirable.LRU[string, CapabilitySet]
}

// RBACOption configures RBACService behavior.
type RBACOption func(*RBACService)

// WithCapabilityCacheTTL bounds how long a resolved capability set is reused.
func WithCapabilityCacheTTL(ttl time.Duration) RBACOption {
	return func(s *RBACService) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithRBACHasher overrides the password hasher used for provisioning.
func WithRBACHasher(h Hasher) RBACOption {
	return func(s *RBACService) {
		if h != nil {
			s.hasher = h
		}
	}
}

func NewRBACService(users UserStore, roles RoleStore, opts ...RBACOption) (*RBACService, error) {
	if users == nil || roles == nil {
		return nil, errors.New("rbac store is required")
	}
	svc := &RBACService{
		users:    users,
		roles:    roles,
		hasher:   NewBcryptHasher(0),
		cacheTTL: defaultCapabilityCacheTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.cache = expirable.NewLRU[string, CapabilitySet](defaultCapabilityCacheSize, nil, svc.cacheTTL)
	return svc, nil
}

// RoleCapabilities resolves the capability set granted to roleName. Unknown
// roles resolve to an empty set so that every check against them fails.
func (s *RBACService) RoleCapabilities(ctx context.Context, roleName string) (CapabilitySet, error) {
	roleName = normalizeName(roleName)
	if roleName == "" {
		return CapabilitySet{}, nil
	}
	if caps, ok := s.cache.Get(roleName); ok {
		return caps, nil
	}
	role, err := s.roles.FindRoleByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			empty := NewCapabilitySet()
			s.cache.Add(roleName, empty)
			return empty, nil
		}
		return CapabilitySet{}, err
	}
	perms, err := s.roles.RolePermissions(ctx, role.ID)
	if err != nil {
		return CapabilitySet{}, err
	}
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key)
	}
	caps := NewCapabilitySet(keys...)
	s.cache.Add(roleName, caps)
	return caps, nil
}

// HasCapability reports whether roleName carries capability c.
func (s *RBACService) HasCapability(ctx context.Context, roleName string, c Capability) (bool, error) {
	caps, err := s.RoleCapabilities(ctx, roleName)
	if err != nil {
		return false, err
	}
	return caps.Has(c), nil
}

// InvalidateCapabilities drops the cached capability set of roleName.
func (s *RBACService) InvalidateCapabilities(roleName string) {
	s.cache.Remove(normalizeName(roleName))
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.roles.ListRoles(ctx)
}

func (s *RBACService) GetRole(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.roles.FindRoleByID(ctx, roleID)
}

func (s *RBACService) CreateRole(ctx context.Context, name, displayName string) (Role, error) {
	name = normalizeName(name)
	if !roleNamePattern.MatchString(name) {
		return Role{}, fmt.Errorf("%w: role name must match %s", ErrInvalidInput, roleNamePattern.String())
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = name
	}
	if _, err := s.roles.FindRoleByName(ctx, name); err == nil {
		return Role{}, fmt.Errorf("%w: role %s", ErrDuplicateResource, name)
	} else if !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}
	return s.roles.CreateRole(ctx, Role{Name: name, DisplayName: displayName})
}

func (s *RBACService) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name := normalizeName(*upd.Name)
		if name == role.Name {
			upd.Name = nil
		} else {
			if role.IsSystemRole {
				return Role{}, fmt.Errorf("%w: cannot rename %s", ErrSystemRoleProtected, role.Name)
			}
			if !roleNamePattern.MatchString(name) {
				return Role{}, fmt.Errorf("%w: role name must match %s", ErrInvalidInput, roleNamePattern.String())
			}
			upd.Name = &name
		}
	}
	if upd.DisplayName != nil {
		dn := strings.TrimSpace(*upd.DisplayName)
		if dn == "" {
			return Role{}, fmt.Errorf("%w: display name is required", ErrInvalidInput)
		}
		upd.DisplayName = &dn
	}
	if upd.Name == nil && upd.DisplayName == nil {
		return role, nil
	}
	updated, err := s.roles.UpdateRole(ctx, role.ID, upd)
	if err != nil {
		return Role{}, err
	}
	s.InvalidateCapabilities(role.Name)
	return updated, nil
}

func (s *RBACService) DeleteRole(ctx context.Context, roleID string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return fmt.Errorf("%w: cannot delete %s", ErrSystemRoleProtected, role.Name)
	}
	n, err := s.roles.CountUsersWithRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %d users hold %s", ErrRoleInUse, n, role.Name)
	}
	if err := s.roles.DeleteRole(ctx, role.ID); err != nil {
		return err
	}
	s.InvalidateCapabilities(role.Name)
	return nil
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.roles.ListPermissions(ctx)
}

func (s *RBACService) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return s.roles.RolePermissions(ctx, role.ID)
}

// SetRolePermissions replaces the grants of a role with the given keys.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleID string, permissions []string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	keys := dedupeStrings(permissions)
	if err := s.roles.SetRolePermissions(ctx, role.ID, keys); err != nil {
		return err
	}
	s.InvalidateCapabilities(role.Name)
	return nil
}

// CreateUser provisions an identity holding an existing role.
func (s *RBACService) CreateUser(ctx context.Context, in NewUser) (Identity, error) {
	email := normalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Identity{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if err := checkPasswordStrength(in.Password); err != nil {
		return Identity{}, err
	}
	role, err := s.roles.FindRoleByName(ctx, normalizeName(in.Role))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, fmt.Errorf("%w: role %q", ErrNotFound, in.Role)
		}
		return Identity{}, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Identity{}, err
	}
	user, err := s.users.CreateUser(ctx, Identity{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		RoleID:       role.ID,
	})
	if err != nil {
		return Identity{}, err
	}
	user.RoleName = role.Name
	return user, nil
}

// AssignRole moves a user onto roleName. Existing tokens keep the old role
// until they expire.
func (s *RBACService) AssignRole(ctx context.Context, userID, roleName string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	role, err := s.roles.FindRoleByName(ctx, normalizeName(roleName))
	if err != nil {
		return Identity{}, err
	}
	if err := s.users.UpdateUserRole(ctx, userID, role.ID); err != nil {
		return Identity{}, err
	}
	return s.users.FindUserByID(ctx, userID)
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
