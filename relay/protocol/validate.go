package protocol

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/floegence/snaprelay/internal/base64url"
)

const (
	MinSessionTokenLen = 8
	MaxSessionTokenLen = 32
	MinIdentityLen     = 6
	MaxIdentityLen     = 64
	MinSeedLen         = 8
	MaxSeedLen         = 256
	MaxMIMELen         = 63
	MaxDeviceNameRunes = 64
)

// ValidSessionToken reports whether s is 8..32 chars of [A-Za-z0-9_-].
func ValidSessionToken(s string) bool {
	return base64url.Valid(s, MinSessionTokenLen, MaxSessionTokenLen)
}

// ValidIdentity reports whether s is 6..64 chars of [A-Za-z0-9_-].
func ValidIdentity(s string) bool {
	return base64url.Valid(s, MinIdentityLen, MaxIdentityLen)
}

// ValidSeed reports whether s is an acceptable base64url seed.
func ValidSeed(s string) bool {
	return base64url.Valid(s, MinSeedLen, MaxSeedLen)
}

// ValidMIME reports whether s is a short image/* media type.
func ValidMIME(s string) bool {
	if len(s) > MaxMIMELen || !strings.HasPrefix(s, "image/") || len(s) == len("image/") {
		return false
	}
	for _, r := range s {
		if r <= ' ' || r >= unicode.MaxASCII {
			return false
		}
	}
	return true
}

// CleanDeviceName trims s, drops control characters, and caps its length.
func CleanDeviceName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		if r == utf8.RuneError || unicode.IsControl(r) {
			continue
		}
		if n == MaxDeviceNameRunes {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
