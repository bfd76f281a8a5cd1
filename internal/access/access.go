// Package access is the single place where PLAYER/GM authorization
// decisions live, so route handlers never inline ownership checks.
package access

import (
	"github.com/mkowalczyk/sheethub/internal/domain/user"
)

type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsGM() bool {
	return a.Role == user.RoleGM
}

// CanListAll gates the full character roster.
func CanListAll(a Actor) bool {
	return a.IsGM()
}

// CanAccess covers read, update, delete, version listing and restore of
// one character: GMs always, players only on characters they own.
func CanAccess(a Actor, ownerID *string) bool {
	if a.IsGM() {
		return true
	}

	return ownerID != nil && *ownerID == a.ID
}

// ForcedOwner applies the ownership-hijack rule on create and update: a
// PLAYER's submissions always land on their own account no matter what
// owner the payload names. GMs may assign freely (including nobody).
func ForcedOwner(a Actor, requested *string) *string {
	if a.Role == user.RolePlayer {
		id := a.ID
		return &id
	}

	return requested
}
