package envelope

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidDataURL signals a malformed "data:<mime>;base64,<payload>" value.
var ErrInvalidDataURL = errors.New("invalid data url")

// FromDataURL splits a base64 data URL (as produced by browser canvases) into
// its mime type and raw bytes. A missing mime falls back to DefaultMIME.
func FromDataURL(s string) (string, []byte, error) {
	head, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(head, "data:") {
		return "", nil, ErrInvalidDataURL
	}
	meta := strings.TrimPrefix(head, "data:")
	mime, enc, ok := strings.Cut(meta, ";")
	if !ok || enc != "base64" {
		return "", nil, ErrInvalidDataURL
	}
	if mime == "" {
		mime = DefaultMIME
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, ErrInvalidDataURL
	}
	return mime, b, nil
}

// ToDataURL renders bytes as a base64 data URL.
func ToDataURL(mime string, b []byte) string {
	if mime == "" {
		mime = DefaultMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}
