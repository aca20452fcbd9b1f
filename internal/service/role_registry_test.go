package service

import (
	"context"
	"testing"

	"github.com/deskline/support-bot/internal/config"
	"github.com/deskline/support-bot/internal/domain"
	apperrors "github.com/deskline/support-bot/pkg/util/errorutil"
)

func TestResolveRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addHandler(t, 1, true)
	f.addHandler(t, 2, false)

	cases := map[domain.PartyID]domain.Role{
		1: domain.RoleSuperAdmin,
		2: domain.RoleHandler,
		3: domain.RoleRequester,
	}
	for id, want := range cases {
		got, err := f.registry.Resolve(ctx, id)
		if err != nil || got != want {
			t.Fatalf("party %d: got %s err=%v, want %s", id, got, err, want)
		}
	}
}

func TestAddHandlerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	added, err := f.registry.AddHandler(ctx, 5, "Olena")
	if err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}
	added, err = f.registry.AddHandler(ctx, 5, "Olena again")
	if err != nil || added {
		t.Fatalf("second add: added=%v err=%v", added, err)
	}
	if ok, _ := f.registry.IsSuperAdmin(ctx, 5); ok {
		t.Fatal("added handlers are never super-admins")
	}
	if _, err := f.registry.AddHandler(ctx, 0, "nobody"); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRemoveHandler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addHandler(t, 1, true)
	f.addHandler(t, 2, false)

	if err := f.registry.RemoveHandler(ctx, 9); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if err := f.registry.RemoveHandler(ctx, 1); !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT for the last super-admin, got %v", err)
	}
	removable, _ := f.registry.RemovableHandlers(ctx)
	if len(removable) != 1 || removable[0].ID != 2 {
		t.Fatalf("unexpected removable list %+v", removable)
	}
	if err := f.registry.RemoveHandler(ctx, 2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := f.registry.IsHandler(ctx, 2); ok {
		t.Fatal("removed handler still on roster")
	}
}

func TestSeedOnlyFillsEmptyRoster(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entries := []config.RosterEntry{{ID: 1, SuperAdmin: true}, {ID: 2, Name: "Olena"}}

	n, err := f.registry.Seed(ctx, entries)
	if err != nil || n != 2 {
		t.Fatalf("seed: n=%d err=%v", n, err)
	}
	handlers, _ := f.registry.Handlers(ctx)
	if len(handlers) != 2 || handlers[0].Name != "id1" {
		t.Fatalf("unexpected roster %+v", handlers)
	}

	n, err = f.registry.Seed(ctx, []config.RosterEntry{{ID: 3}})
	if err != nil || n != 0 {
		t.Fatalf("second seed: n=%d err=%v", n, err)
	}
	if ok, _ := f.registry.IsHandler(ctx, 3); ok {
		t.Fatal("seed must not touch a non-empty roster")
	}
}
