package access

import (
	"testing"

	"github.com/mkowalczyk/sheethub/internal/domain/user"
)

func strPtr(s string) *string { return &s }

func TestCanListAll(t *testing.T) {
	if !CanListAll(Actor{ID: "gm", Role: user.RoleGM}) {
		t.Error("GM should see the full roster")
	}
	if CanListAll(Actor{ID: "p", Role: user.RolePlayer}) {
		t.Error("player should not see the full roster")
	}
}

func TestCanAccess(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		owner *string
		want  bool
	}{
		{"gm any character", Actor{ID: "gm", Role: user.RoleGM}, strPtr("someone"), true},
		{"gm unowned character", Actor{ID: "gm", Role: user.RoleGM}, nil, true},
		{"player own character", Actor{ID: "p1", Role: user.RolePlayer}, strPtr("p1"), true},
		{"player foreign character", Actor{ID: "p1", Role: user.RolePlayer}, strPtr("p2"), false},
		{"player unowned character", Actor{ID: "p1", Role: user.RolePlayer}, nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanAccess(tc.actor, tc.owner); got != tc.want {
				t.Errorf("CanAccess = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestForcedOwner(t *testing.T) {
	player := Actor{ID: "p1", Role: user.RolePlayer}
	gm := Actor{ID: "gm", Role: user.RoleGM}

	// a player can never assign away from themselves
	if got := ForcedOwner(player, strPtr("p2")); got == nil || *got != "p1" {
		t.Errorf("player reassign: got %v, want p1", got)
	}
	if got := ForcedOwner(player, nil); got == nil || *got != "p1" {
		t.Errorf("player blank owner: got %v, want p1", got)
	}

	// GMs assign freely, including nobody
	if got := ForcedOwner(gm, strPtr("p2")); got == nil || *got != "p2" {
		t.Errorf("gm assign: got %v, want p2", got)
	}
	if got := ForcedOwner(gm, nil); got != nil {
		t.Errorf("gm unassigned: got %v, want nil", got)
	}
}
