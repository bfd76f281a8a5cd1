package utils

// Cache keys for character summary lists. Versioned so a shape change
// never serves stale entries after a deploy.

func BuildAllCharactersCacheKey() string {
	return "characters:list:v1:all"
}

func BuildPlayerCharactersCacheKey(playerID string) string {
	return "characters:list:v1:player=" + playerID
}
