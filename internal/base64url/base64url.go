package base64url

import (
	"encoding/base64"
)

// Encode encodes bytes as base64url without padding.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode decodes base64url without padding.
//
// Trailing '=' padding is tolerated so values produced by padded encoders still decode.
func Decode(s string) ([]byte, error) {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// Valid reports whether s is made only of the base64url alphabet and its
// length lies within [minLen, maxLen]. A maxLen <= 0 disables the upper bound.
//
// Valid does not decode s; it is the cheap structural check used at the relay
// boundary where payloads are forwarded without being interpreted.
func Valid(s string, minLen int, maxLen int) bool {
	if len(s) < minLen {
		return false
	}
	if maxLen > 0 && len(s) > maxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlphabet(s[i]) {
			return false
		}
	}
	return true
}

func isAlphabet(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	default:
		return false
	}
}
