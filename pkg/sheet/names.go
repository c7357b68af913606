package sheet

import (
	"regexp"
	"strings"
)

// UnknownCreator is used when the first column has no "by" part.
const UnknownCreator = "Unknown"

var urlRe = regexp.MustCompile(`https?://[^\s<>"']+`)

// NormalizeName trims s and collapses whitespace runs to one space.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SplitMapCreator splits "Map Name by Creator Name" at the last standalone "by",
// case-insensitively. Without a "by" the creator is UnknownCreator.
func SplitMapCreator(s string) (mapName, creator string) {
	s = NormalizeName(s)
	if s == "" {
		return "", ""
	}
	idx := lastByIndex(s)
	if idx < 0 {
		return s, UnknownCreator
	}
	mapName = NormalizeName(s[:idx])
	creator = NormalizeName(s[idx+2:])
	if creator == "" {
		creator = UnknownCreator
	}
	return mapName, creator
}

// lastByIndex returns the byte index of the last "by" word in s, or -1.
// Only the ASCII letters are folded so the index stays valid for s.
func lastByIndex(s string) int {
	for i := len(s) - 2; i >= 0; i-- {
		if s[i]|0x20 != 'b' || s[i+1]|0x20 != 'y' {
			continue
		}
		if i > 0 && s[i-1] != ' ' {
			continue
		}
		if i+2 < len(s) && s[i+2] != ' ' {
			continue
		}
		return i
	}
	return -1
}

// ExtractURLs returns every http(s) URL in s in order of appearance.
func ExtractURLs(s string) []string {
	found := urlRe.FindAllString(s, -1)
	out := make([]string, 0, len(found))
	for _, u := range found {
		u = strings.TrimRight(u, ").,;]")
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

// StripURLs replaces every URL in s with a space.
func StripURLs(s string) string {
	return urlRe.ReplaceAllString(s, " ")
}
