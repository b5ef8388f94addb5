package auth

import (
	"context"
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{"admin": RoleAdmin, " Team ": RoleTeam, "CLIENT": RoleClient} {
		got, ok := ParseRole(in)
		if !ok || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseRole("owner"); ok {
		t.Fatal("unknown role parsed")
	}
	if Role("Admin").Valid() {
		t.Fatal("Valid must be exact")
	}
}

func TestAuthorize(t *testing.T) {
	team := Principal{ID: "u1", Role: RoleTeam}
	if err := Authorize(team, AdminOrTeam); err != nil {
		t.Fatalf("team should pass AdminOrTeam: %v", err)
	}
	if err := Authorize(team, AdminOnly); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := Authorize(Principal{ID: "u2"}, AdminOrTeam); !errors.Is(err, ErrForbidden) {
		t.Fatalf("empty role must be forbidden, got %v", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFrom(ctx); ok {
		t.Fatal("unexpected principal")
	}
	if _, err := RequirePrincipal(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	ctx = WithPrincipal(ctx, Principal{ID: "u1", Role: RoleAdmin})
	p, err := RequirePrincipal(ctx)
	if err != nil || p.ID != "u1" {
		t.Fatalf("unexpected principal %+v, %v", p, err)
	}
}
