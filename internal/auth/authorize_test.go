package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSelectTokenPrefersHeader(t *testing.T) {
	if got := SelectToken("header", "query"); got != "header" {
		t.Fatalf("expected header token, got %q", got)
	}
	if got := SelectToken("  ", "query"); got != "query" {
		t.Fatalf("expected query token, got %q", got)
	}
	if got := SelectToken("", ""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestAuthorize(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	tokens := newTestTokens(t, clock, time.Hour)
	instructor, _, err := tokens.Issue("user-7", "i@example.com", RoleInstructor)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := []struct {
		name   string
		header string
		query  string
		roles  []string
		want   error
	}{
		{name: "missing", want: ErrUnauthenticated},
		{name: "garbage", header: "not-a-token", want: ErrInvalidToken},
		{name: "any role", header: instructor},
		{name: "allowed role", header: instructor, roles: []string{RoleAdmin, RoleInstructor}},
		{name: "role case folded", header: instructor, roles: []string{"INSTRUCTOR"}},
		{name: "denied role", header: instructor, roles: []string{RoleAdmin}, want: ErrInsufficientRole},
		{name: "query token", query: instructor, roles: []string{RoleInstructor}},
		{name: "header wins over query", header: "bad", query: instructor, want: ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Authorize(tokens, tc.header, tc.query, tc.roles...)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if p.IdentityID != "user-7" || p.Role != RoleInstructor {
					t.Fatalf("unexpected principal: %+v", p)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAuthorizeCollapsesExpiry(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	tokens := newTestTokens(t, clock, time.Minute)
	token, _, err := tokens.Issue("user-1", "a@example.com", RoleLearner)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock.Advance(2 * time.Minute)
	_, err = Authorize(tokens, token, "")
	if err != ErrInvalidToken {
		t.Fatalf("expected bare ErrInvalidToken, got %v", err)
	}
}

func TestCapabilitySet(t *testing.T) {
	set := NewCapabilitySet("content.upload", "", "content.upload", "report.view")
	if set.Len() != 2 {
		t.Fatalf("expected 2 capabilities, got %d", set.Len())
	}
	if !set.Has(CapContentUpload) || set.Has(CapRoleManage) {
		t.Fatalf("unexpected membership: %v", set.Keys())
	}
	keys := set.Keys()
	if keys[0] != "content.upload" || keys[1] != "report.view" {
		t.Fatalf("expected sorted keys, got %v", keys)
	}
	var zero CapabilitySet
	if zero.Has(CapContentUpload) {
		t.Fatal("zero set must grant nothing")
	}
}
