package matrix

import "strings"

// LocalPart returns the lowercased localpart of a user ID:
// "@Memu_Bot:example.org" → "memu_bot". Input without a leading '@' is
// treated as a bare localpart.
func LocalPart(userID string) string {
	s := strings.TrimPrefix(strings.TrimSpace(userID), "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

// SameUser reports whether a and b name the same account, either exactly
// or by localpart. Homeservers behind different public names still map
// the bot to one localpart.
func SameUser(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || LocalPart(a) == LocalPart(b)
}

// ValidUserID reports whether id looks like "@local:server".
func ValidUserID(id string) bool {
	if !strings.HasPrefix(id, "@") {
		return false
	}
	i := strings.IndexByte(id, ':')
	return i > 1 && i < len(id)-1
}
