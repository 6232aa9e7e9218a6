// Package randid generates random base64url identifiers.
package randid

import (
	"crypto/rand"
	"errors"

	"github.com/floegence/snaprelay/internal/base64url"
)

var errInvalidLen = errors.New("invalid length")

// Random returns n random bytes encoded as unpadded base64url.
func Random(n int) (string, error) {
	if n <= 0 {
		return "", errInvalidLen
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64url.Encode(b), nil
}

// Must is Random for callers that cannot recover from a broken entropy source.
func Must(n int) string {
	s, err := Random(n)
	if err != nil {
		panic("randid: " + err.Error())
	}
	return s
}
