package utils

import "strings"

// MaxAvatarBytes caps the decoded size of an embedded avatar image.
const MaxAvatarBytes = 1024 * 1024

// ValidAvatarSize reports whether a base64 avatar payload decodes to at
// most maxBytes. Data-URL prefixes ("data:image/png;base64,...") are
// stripped before measuring. An empty avatar is always valid.
func ValidAvatarSize(avatarBase64 string, maxBytes int) bool {
	if avatarBase64 == "" {
		return true
	}

	b64 := avatarBase64

	if _, rest, ok := strings.Cut(avatarBase64, ","); ok {
		b64 = rest
	}

	// decoded size without actually decoding
	size := (len(b64) * 3) / 4

	if strings.HasSuffix(b64, "==") {
		size -= 2
	} else if strings.HasSuffix(b64, "=") {
		size -= 1
	}

	return size <= maxBytes
}
