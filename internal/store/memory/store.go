// Package memory is a process-local auth store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"learnhub.org/internal/auth"
	"learnhub.org/internal/ids"
)

// defaultGrants mirrors the seed migration.
var defaultGrants = map[string][]auth.Capability{
	auth.RoleInstructor: {auth.CapContentUpload, auth.CapContentEdit, auth.CapCourseManage, auth.CapReportView},
	auth.RoleLearner:    {auth.CapCourseEnroll},
}

// Store implements auth.Store with in-process concurrency safety.
// State is lost on restart.
type Store struct {
	mu     sync.RWMutex
	users  map[string]auth.Identity
	roles  map[string]auth.Role
	perms  map[string]auth.Permission // by key
	grants map[string]map[string]struct{}
	otps   []auth.Challenge
	now    func() time.Time
}

var _ auth.Store = (*Store)(nil)

// New returns a store seeded with the system roles and builtin permissions.
func New() *Store {
	s := &Store{
		users:  make(map[string]auth.Identity),
		roles:  make(map[string]auth.Role),
		perms:  make(map[string]auth.Permission),
		grants: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
	now := s.now().UTC()
	for _, p := range auth.BuiltinPermissions {
		p.ID = ids.New()
		p.CreatedAt = now
		s.perms[p.Key] = p
	}
	for _, name := range []string{auth.RoleAdmin, auth.RoleInstructor, auth.RoleLearner} {
		role := auth.Role{
			ID:           ids.New(),
			Name:         name,
			DisplayName:  strings.ToUpper(name[:1]) + name[1:],
			IsSystemRole: true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		s.roles[role.ID] = role
		granted := make(map[string]struct{})
		if name == auth.RoleAdmin {
			for key := range s.perms {
				granted[key] = struct{}{}
			}
		}
		for _, c := range defaultGrants[name] {
			granted[string(c)] = struct{}{}
		}
		s.grants[role.ID] = granted
	}
	return s
}

func (s *Store) withRoleName(u auth.Identity) auth.Identity {
	u.RoleName = s.roles[u.RoleID].Name
	return u
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return s.withRoleName(u), nil
		}
	}
	return auth.Identity{}, auth.ErrNotFound
}

func (s *Store) FindUserByID(_ context.Context, id string) (auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return s.withRoleName(u), nil
}

func (s *Store) CreateUser(_ context.Context, u auth.Identity) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return auth.Identity{}, auth.ErrDuplicateResource
		}
	}
	if _, ok := s.roles[u.RoleID]; !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.CreatedAt = s.now().UTC()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = u
	return s.withRoleName(u), nil
}

func (s *Store) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = s.now().UTC()
	s.users[userID] = u
	return nil
}

func (s *Store) UpdateUserRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	u.RoleID = roleID
	u.UpdatedAt = s.now().UTC()
	s.users[userID] = u
	return nil
}

func (s *Store) FindRoleByName(_ context.Context, name string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return auth.Role{}, auth.ErrNotFound
}

func (s *Store) FindRoleByID(_ context.Context, id string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListRoles(context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsSystemRole != out[j].IsSystemRole {
			return out[i].IsSystemRole
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) CreateRole(_ context.Context, role auth.Role) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == role.Name {
			return auth.Role{}, auth.ErrDuplicateResource
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	role.CreatedAt = s.now().UTC()
	role.UpdatedAt = role.CreatedAt
	s.roles[role.ID] = role
	s.grants[role.ID] = make(map[string]struct{})
	return role, nil
}

func (s *Store) UpdateRole(_ context.Context, roleID string, upd auth.RoleUpdate) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		for id, other := range s.roles {
			if id != roleID && other.Name == *upd.Name {
				return auth.Role{}, auth.ErrDuplicateResource
			}
		}
		r.Name = *upd.Name
	}
	if upd.DisplayName != nil {
		r.DisplayName = *upd.DisplayName
	}
	r.UpdatedAt = s.now().UTC()
	s.roles[roleID] = r
	return r, nil
}

func (s *Store) DeleteRole(_ context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return auth.ErrNotFound
	}
	if r.IsSystemRole {
		return fmt.Errorf("%w: cannot delete %s", auth.ErrSystemRoleProtected, r.Name)
	}
	for _, u := range s.users {
		if u.RoleID == roleID {
			return auth.ErrRoleInUse
		}
	}
	delete(s.roles, roleID)
	delete(s.grants, roleID)
	return nil
}

func (s *Store) CountUsersWithRole(_ context.Context, roleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if u.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListPermissions(context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) RolePermissions(_ context.Context, roleID string) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(s.grants[roleID]))
	for key := range s.grants[roleID] {
		out = append(out, s.perms[key])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) SetRolePermissions(_ context.Context, roleID string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := s.perms[k]; !ok {
			return fmt.Errorf("%w: permission %s", auth.ErrNotFound, k)
		}
		set[k] = struct{}{}
	}
	s.grants[roleID] = set
	return nil
}

func (s *Store) InsertOTP(_ context.Context, email, code string, expiresAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := auth.Challenge{
		ID:        ids.New(),
		Email:     email,
		Code:      code,
		CreatedAt: s.now().UTC(),
		ExpiresAt: expiresAt,
	}
	s.otps = append(s.otps, c)
	return c.ID, nil
}

func (s *Store) FindLiveOTP(_ context.Context, email, code string, now time.Time) (auth.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.otps) - 1; i >= 0; i-- {
		c := s.otps[i]
		if c.Email == email && c.Code == code && c.Live(now) {
			return c, nil
		}
	}
	return auth.Challenge{}, auth.ErrNotFound
}

func (s *Store) MarkOTPUsed(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.otps {
		if s.otps[i].ID != id {
			continue
		}
		if !s.otps[i].Live(now) {
			return false, nil
		}
		s.otps[i].Used = true
		return true, nil
	}
	return false, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
