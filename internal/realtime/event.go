package realtime

import "github.com/mkowalczyk/sheethub/internal/domain/character"

const TypeCharacterUpdate = "character:update"

// Event is the wire envelope pushed to subscribed sockets after a
// committed write. Data carries the full updated character; clients
// that miss events re-fetch through the read API, there is no replay.
type Event struct {
	Type        string              `json:"type"`
	CharacterID string              `json:"characterId"`
	Data        character.Character `json:"data"`
}

func CharacterUpdated(c character.Character) Event {
	return Event{
		Type:        TypeCharacterUpdate,
		CharacterID: c.ID,
		Data:        c,
	}
}
