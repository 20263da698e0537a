// Package identity canonicalizes raw channel addresses.
//
// The same counterpart can show up under several addressing schemes:
// "4915112345678@s.whatsapp.net", the legacy "4915112345678@c.us", a bare
// "+49 151 12345678", or a device-qualified "4915112345678:17@s.whatsapp.net".
// Every lookup key in the system goes through Normalize so that all of them
// collapse into one conversation.
package identity

import "strings"

// Canonical is a normalized channel address. It is the sole key used to look
// up conversation aggregates.
type Canonical string

const (
	userSuffix   = "@s.whatsapp.net"
	legacySuffix = "@c.us"
	groupSuffix  = "@g.us"
)

// Normalize maps any known alias form of an address onto its canonical form.
// Returns false for empty or unusable input.
func Normalize(raw string) (Canonical, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}

	local, domain := s, ""
	if i := strings.IndexByte(s, '@'); i >= 0 {
		local, domain = s[:i], s[i:]
	}

	// Device suffix ("...:17") addresses the same account.
	if i := strings.IndexByte(local, ':'); i >= 0 {
		local = local[:i]
	}

	if domain == groupSuffix {
		if local == "" {
			return "", false
		}
		return Canonical(local + groupSuffix), true
	}

	local = stripPhoneDecoration(local)
	if local == "" {
		return "", false
	}

	switch domain {
	case "", userSuffix, legacySuffix:
		return Canonical(local + userSuffix), true
	}
	// Unknown domain: keep it, normalized casing and decoration aside, so a
	// new alias scheme degrades to a stable (if non-merged) key instead of
	// being dropped.
	return Canonical(local + domain), true
}

// stripPhoneDecoration removes "+", spaces, dots, dashes and parentheses from
// a phone-number local part.
func stripPhoneDecoration(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '+', ' ', '.', '-', '(', ')':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsGroup reports whether a canonical identity addresses a group chat.
func (c Canonical) IsGroup() bool {
	return strings.HasSuffix(string(c), groupSuffix)
}

// User returns the bare local part (phone number for private chats).
func (c Canonical) User() string {
	s := string(c)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[:i]
	}
	return s
}

// IsNumericPlaceholder reports whether a display name is just the bare number
// (or empty), i.e. carries no more information than the identity itself.
// Used to decide whether a roster-provided name may overwrite a stored one.
func IsNumericPlaceholder(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	for _, r := range name {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == ' ' || r == '-':
		default:
			return false
		}
	}
	return true
}
