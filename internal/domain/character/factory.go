package character

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func New(playerID *string, doc StateDoc) Character {
	now := time.Now().UTC()

	return Character{
		ID:        uuid.NewString(),
		Name:      doc.Name(),
		PlayerID:  playerID,
		Data:      doc,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NewVersion(characterID string, doc StateDoc, notes *string) Version {
	return Version{
		ID:          uuid.NewString(),
		CharacterID: characterID,
		Data:        doc,
		Notes:       notes,
		CreatedAt:   time.Now().UTC(),
	}
}

// RestoreNote documents provenance on the ledger entry a restore appends.
func RestoreNote(original time.Time) string {
	return fmt.Sprintf("Restored from version created at %s", original.UTC().Format(time.RFC3339))
}
