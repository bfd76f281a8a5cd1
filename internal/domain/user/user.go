package user

import (
	"errors"
	"time"
)

const (
	RolePlayer = "PLAYER"
	RoleGM     = "GM"
)

var ErrNotFound = errors.New("user not found")

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never expose hash in JSON
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	ResetToken   *string    `json:"-"`
	ResetExpiry  *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// PlayerRef is the slim shape GM views embed next to a character.
type PlayerRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func ValidRole(role string) bool {
	return role == RolePlayer || role == RoleGM
}
