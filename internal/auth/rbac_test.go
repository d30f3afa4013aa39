package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRBAC(t *testing.T, store *memStore, opts ...RBACOption) *RBACService {
	t.Helper()
	opts = append([]RBACOption{WithRBACHasher(testHasher)}, opts...)
	svc, err := NewRBACService(store, store, opts...)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	return svc
}

func TestRoleCapabilities(t *testing.T) {
	store := newMemStore()
	svc := newTestRBAC(t, store)
	ctx := context.Background()

	caps, err := svc.RoleCapabilities(ctx, "Instructor")
	if err != nil {
		t.Fatalf("RoleCapabilities: %v", err)
	}
	if !caps.Has(CapContentUpload) || caps.Has(CapRoleManage) {
		t.Fatalf("unexpected instructor capabilities: %v", caps.Keys())
	}

	unknown, err := svc.RoleCapabilities(ctx, "ghost")
	if err != nil {
		t.Fatalf("RoleCapabilities(unknown): %v", err)
	}
	if unknown.Len() != 0 {
		t.Fatalf("unknown role must grant nothing, got %v", unknown.Keys())
	}

	ok, err := svc.HasCapability(ctx, RoleLearner, CapCourseEnroll)
	if err != nil || !ok {
		t.Fatalf("expected learner to enroll, got %v %v", ok, err)
	}
}

func TestRoleCapabilitiesCachedAndInvalidated(t *testing.T) {
	store := newMemStore()
	svc := newTestRBAC(t, store, WithCapabilityCacheTTL(time.Hour))
	ctx := context.Background()

	if _, err := svc.RoleCapabilities(ctx, RoleLearner); err != nil {
		t.Fatalf("RoleCapabilities: %v", err)
	}
	before := store.roleLookups.Load()
	if _, err := svc.RoleCapabilities(ctx, RoleLearner); err != nil {
		t.Fatalf("RoleCapabilities: %v", err)
	}
	if store.roleLookups.Load() != before {
		t.Fatal("expected cached capability set to be reused")
	}

	if err := svc.SetRolePermissions(ctx, "role-learner", []string{"course.enroll", "report.view", "report.view"}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	caps, err := svc.RoleCapabilities(ctx, RoleLearner)
	if err != nil {
		t.Fatalf("RoleCapabilities: %v", err)
	}
	if !caps.Has(CapReportView) || caps.Len() != 2 {
		t.Fatalf("expected refreshed grants, got %v", caps.Keys())
	}
}

func TestSetRolePermissionsUnknownKey(t *testing.T) {
	svc := newTestRBAC(t, newMemStore())
	err := svc.SetRolePermissions(context.Background(), "role-learner", []string{"does.not.exist"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRole(t *testing.T) {
	svc := newTestRBAC(t, newMemStore())
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, " Mentor ", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.Name != "mentor" || role.DisplayName != "mentor" || role.IsSystemRole {
		t.Fatalf("unexpected role: %+v", role)
	}
	if _, err := svc.CreateRole(ctx, "mentor", "Mentor"); !errors.Is(err, ErrDuplicateResource) {
		t.Fatalf("expected ErrDuplicateResource, got %v", err)
	}
	if _, err := svc.CreateRole(ctx, "9bad name", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeleteRoleRules(t *testing.T) {
	store := newMemStore()
	svc := newTestRBAC(t, store)
	ctx := context.Background()

	if err := svc.DeleteRole(ctx, "role-learner"); !errors.Is(err, ErrSystemRoleProtected) {
		t.Fatalf("expected ErrSystemRoleProtected, got %v", err)
	}

	inUse, err := svc.CreateRole(ctx, "assistant", "Assistant")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, err := svc.CreateUser(ctx, NewUser{Email: "ta@example.com", Password: "assistant-pass", Role: "assistant"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := svc.DeleteRole(ctx, inUse.ID); !errors.Is(err, ErrRoleInUse) {
		t.Fatalf("expected ErrRoleInUse, got %v", err)
	}

	unused, err := svc.CreateRole(ctx, "observer", "Observer")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := svc.DeleteRole(ctx, unused.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if _, err := svc.GetRole(ctx, unused.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted role to be gone, got %v", err)
	}
}

func TestUpdateRole(t *testing.T) {
	svc := newTestRBAC(t, newMemStore())
	ctx := context.Background()

	rename := "tutor"
	if _, err := svc.UpdateRole(ctx, "role-instructor", RoleUpdate{Name: &rename}); !errors.Is(err, ErrSystemRoleProtected) {
		t.Fatalf("expected ErrSystemRoleProtected, got %v", err)
	}
	display := "Course Instructor"
	role, err := svc.UpdateRole(ctx, "role-instructor", RoleUpdate{DisplayName: &display})
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if role.DisplayName != display || role.Name != RoleInstructor {
		t.Fatalf("unexpected role: %+v", role)
	}

	custom, err := svc.CreateRole(ctx, "grader", "")
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	newName := "Reviewer"
	role, err = svc.UpdateRole(ctx, custom.ID, RoleUpdate{Name: &newName})
	if err != nil {
		t.Fatalf("UpdateRole rename: %v", err)
	}
	if role.Name != "reviewer" {
		t.Fatalf("expected normalized rename, got %q", role.Name)
	}
}

func TestCreateUserAndAssignRole(t *testing.T) {
	store := newMemStore()
	svc := newTestRBAC(t, store)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, NewUser{Email: "nope", Password: "long-enough", Role: RoleLearner}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad email, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, NewUser{Email: "a@example.com", Password: "short", Role: RoleLearner}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, NewUser{Email: "a@example.com", Password: "long-enough", Role: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown role, got %v", err)
	}

	user, err := svc.CreateUser(ctx, NewUser{Email: "Bea@Example.com", Password: "long-enough", Name: "Bea", Role: RoleLearner})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Email != "bea@example.com" || user.RoleName != RoleLearner {
		t.Fatalf("unexpected user: %+v", user)
	}
	if _, err := svc.CreateUser(ctx, NewUser{Email: "bea@example.com", Password: "long-enough", Role: RoleLearner}); !errors.Is(err, ErrDuplicateResource) {
		t.Fatalf("expected ErrDuplicateResource, got %v", err)
	}

	updated, err := svc.AssignRole(ctx, user.ID, RoleInstructor)
	if err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if updated.RoleName != RoleInstructor {
		t.Fatalf("expected instructor, got %q", updated.RoleName)
	}
}
