package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Slugify kebab-cases a map name: lowercase letters and digits, every other
// run of characters becomes a single "-".
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}

// NameHash is the first 8 hex characters of sha256(name).
func NameHash(name string) string {
	h := sha256.Sum256([]byte(name))
	return hex.EncodeToString(h[:])[:8]
}

// HashedSlug is the collision fallback for name.
func HashedSlug(name string) string {
	base := Slugify(name)
	if base == "" {
		return NameHash(name)
	}
	return base + "-" + NameHash(name)
}
