package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var testHasher = NewBcryptHasher(bcrypt.MinCost)

// memStore is an in-memory Store used by the package tests.
type memStore struct {
	mu     sync.Mutex
	seq    atomic.Int64
	users  map[string]Identity
	roles  map[string]Role
	perms  map[string]Permission
	grants map[string]map[string]struct{}
	otps   []Challenge

	roleLookups atomic.Int64
}

func newMemStore() *memStore {
	s := &memStore{
		users:  map[string]Identity{},
		roles:  map[string]Role{},
		perms:  map[string]Permission{},
		grants: map[string]map[string]struct{}{},
	}
	for _, p := range BuiltinPermissions {
		p.ID = "perm-" + p.Key
		s.perms[p.Key] = p
	}
	s.roles["role-admin"] = Role{ID: "role-admin", Name: RoleAdmin, DisplayName: "Administrator", IsSystemRole: true}
	s.roles["role-instructor"] = Role{ID: "role-instructor", Name: RoleInstructor, DisplayName: "Instructor", IsSystemRole: true}
	s.roles["role-learner"] = Role{ID: "role-learner", Name: RoleLearner, DisplayName: "Learner", IsSystemRole: true}
	all := map[string]struct{}{}
	for k := range s.perms {
		all[k] = struct{}{}
	}
	s.grants["role-admin"] = all
	s.grants["role-instructor"] = map[string]struct{}{
		string(CapContentUpload): {}, string(CapContentEdit): {}, string(CapCourseManage): {}, string(CapReportView): {},
	}
	s.grants["role-learner"] = map[string]struct{}{string(CapCourseEnroll): {}}
	return s
}

func (s *memStore) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, s.seq.Add(1))
}

func (s *memStore) addUser(email, password, role string) Identity {
	hash, err := testHasher.Hash(password)
	if err != nil {
		panic(err)
	}
	r, err := s.FindRoleByName(context.Background(), role)
	if err != nil {
		panic(err)
	}
	u, err := s.CreateUser(context.Background(), Identity{Email: email, PasswordHash: hash, RoleID: r.ID})
	if err != nil {
		panic(err)
	}
	return u
}

func (s *memStore) deleteUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

func (s *memStore) withRole(u Identity) Identity {
	u.RoleName = s.roles[u.RoleID].Name
	return u
}

func (s *memStore) FindUserByEmail(_ context.Context, email string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return s.withRole(u), nil
		}
	}
	return Identity{}, ErrNotFound
}

func (s *memStore) FindUserByID(_ context.Context, id string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return s.withRole(u), nil
}

func (s *memStore) CreateUser(_ context.Context, u Identity) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return Identity{}, ErrDuplicateResource
		}
	}
	if _, ok := s.roles[u.RoleID]; !ok {
		return Identity{}, ErrNotFound
	}
	u.ID = s.nextID("user")
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = u
	return u, nil
}

func (s *memStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	s.users[userID] = u
	return nil
}

func (s *memStore) UpdateUserRole(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	u.RoleID = roleID
	s.users[userID] = u
	return nil
}

func (s *memStore) FindRoleByName(_ context.Context, name string) (Role, error) {
	s.roleLookups.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (s *memStore) FindRoleByID(_ context.Context, id string) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (s *memStore) ListRoles(context.Context) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) CreateRole(_ context.Context, role Role) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == role.Name {
			return Role{}, ErrDuplicateResource
		}
	}
	role.ID = s.nextID("role")
	s.roles[role.ID] = role
	return role, nil
}

func (s *memStore) UpdateRole(_ context.Context, roleID string, upd RoleUpdate) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return Role{}, ErrNotFound
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.DisplayName != nil {
		r.DisplayName = *upd.DisplayName
	}
	s.roles[roleID] = r
	return r, nil
}

func (s *memStore) DeleteRole(_ context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	delete(s.roles, roleID)
	delete(s.grants, roleID)
	return nil
}

func (s *memStore) CountUsersWithRole(_ context.Context, roleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.users {
		if u.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListPermissions(context.Context) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memStore) RolePermissions(_ context.Context, roleID string) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Permission
	for k := range s.grants[roleID] {
		out = append(out, s.perms[k])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memStore) SetRolePermissions(_ context.Context, roleID string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	set := map[string]struct{}{}
	for _, k := range keys {
		if _, ok := s.perms[k]; !ok {
			return ErrNotFound
		}
		set[k] = struct{}{}
	}
	s.grants[roleID] = set
	return nil
}

func (s *memStore) InsertOTP(_ context.Context, email, code string, expiresAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Challenge{
		ID:        s.nextID("otp"),
		Email:     email,
		Code:      code,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	s.otps = append(s.otps, c)
	return c.ID, nil
}

func (s *memStore) FindLiveOTP(_ context.Context, email, code string, now time.Time) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.otps) - 1; i >= 0; i-- {
		c := s.otps[i]
		if c.Email == email && c.Code == code && c.Live(now) {
			return c, nil
		}
	}
	return Challenge{}, ErrNotFound
}

func (s *memStore) MarkOTPUsed(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.otps {
		if s.otps[i].ID == id {
			if !s.otps[i].Live(now) {
				return false, nil
			}
			s.otps[i].Used = true
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) challenges() []Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Challenge(nil), s.otps...)
}

// captureSender records delivered codes.
type captureSender struct {
	mu    sync.Mutex
	sent  map[string]string
	calls int
	err   error
}

func newCaptureSender() *captureSender {
	return &captureSender{sent: map[string]string{}}
}

func (c *captureSender) SendOTP(_ context.Context, email, code string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return c.err
	}
	c.sent[email] = code
	return nil
}

func (c *captureSender) last(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[email]
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
