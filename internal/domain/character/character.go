package character

import (
	"errors"
	"time"

	"github.com/mkowalczyk/sheethub/internal/domain/user"
)

var (
	ErrNotFound        = errors.New("character not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrInvalidPlayer   = errors.New("invalid player id")
	ErrAvatarTooLarge  = errors.New("avatar image is too large")
	ErrMissingName     = errors.New("character name is required")
)

// StateDoc is the full character-sheet document. The core treats it as
// an opaque blob apart from the handful of fields pulled into list
// summaries; sheets saved under older schemas pass through unchanged.
type StateDoc map[string]any

func (d StateDoc) Name() string {
	return d.stringField("name")
}

func (d StateDoc) Occupation() string {
	return d.stringField("occupation")
}

func (d StateDoc) Avatar() string {
	return d.stringField("avatar")
}

// PlayerID pulls the owner hint out of a submitted document; nil when
// absent or blank.
func (d StateDoc) PlayerID() *string {
	id := d.stringField("playerId")

	if id == "" {
		return nil
	}

	return &id
}

func (d StateDoc) stringField(key string) string {
	if d == nil {
		return ""
	}

	v, ok := d[key].(string)

	if !ok {
		return ""
	}

	return v
}

type Character struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PlayerID  *string   `json:"playerId"`
	Data      StateDoc  `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Version is one ledger entry. Ordinary saves overwrite the newest
// entry's Data in place; only restores append, so distinct rows mark
// restore baselines rather than every edit.
type Version struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"characterId"`
	Data        StateDoc  `json:"data"`
	Notes       *string   `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary is the flattened list shape for dashboards.
type Summary struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Occupation  string          `json:"occupation"`
	Avatar      string          `json:"avatar,omitempty"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Player      *user.PlayerRef `json:"player,omitempty"`
}
