// Package envelope implements the client-side photo encryption envelope.
//
// A symmetric AES-256-GCM key is derived deterministically from a shareable
// seed and the session token, so two devices that hold the same seed converge
// on the same key without any key exchange through the relay. The relay only
// ever sees Envelope values.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/floegence/snaprelay/internal/base64url"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the AES-GCM nonce length in bytes.
	IVSize = 12
	// DefaultMIME is assumed when an envelope carries no mime type.
	DefaultMIME = "image/jpeg"

	kdfSeparator = ":"
	fpLabel      = "snaprelay-key-fingerprint-v1:"
)

var (
	// ErrMissingSeed signals an empty seed passed to DeriveKey.
	ErrMissingSeed = errors.New("missing seed")
	// ErrMissingSession signals an empty session token passed to DeriveKey.
	ErrMissingSession = errors.New("missing session token")
	// ErrMissingKey signals an encrypt/decrypt attempt without a derived key.
	ErrMissingKey = errors.New("missing key")
	// ErrMissingPayload signals an envelope without iv or ciphertext.
	ErrMissingPayload = errors.New("missing cipher payload")
	// ErrDecrypt indicates a wrong key, corrupted ciphertext, or tag mismatch.
	ErrDecrypt = errors.New("envelope decrypt failed")
)

// Key is a derived, non-exportable AES-256-GCM key.
type Key struct {
	aead cipher.AEAD
	fp   string
}

// Envelope is the relay-visible encrypted unit.
type Envelope struct {
	IV         string `json:"iv"`         // base64url(12-byte nonce), unpadded.
	Ciphertext string `json:"ciphertext"` // base64url(ciphertext||tag), unpadded.
	MIME       string `json:"mime,omitempty"`
}

// DeriveKey derives the session key as SHA-256(seed || ":" || sessionToken).
//
// The construction matches the browser client (WebCrypto digest + raw import),
// so keys agree across implementations.
func DeriveKey(seed string, sessionToken string) (*Key, error) {
	if seed == "" {
		return nil, ErrMissingSeed
	}
	if sessionToken == "" {
		return nil, ErrMissingSession
	}
	h := sha256.New()
	_, _ = io.WriteString(h, seed)
	_, _ = io.WriteString(h, kdfSeparator)
	_, _ = io.WriteString(h, sessionToken)
	var raw [KeySize]byte
	copy(raw[:], h.Sum(nil))
	defer clear(raw[:])
	return newKey(raw)
}

func newKey(raw [KeySize]byte) (*Key, error) {
	b, err := aes.NewCipher(raw[:])
	if err != nil {
		return nil, err
	}
	a, err := cipher.NewGCM(b)
	if err != nil {
		return nil, err
	}
	if a.NonceSize() != IVSize {
		return nil, fmt.Errorf("unexpected gcm nonce size: %d", a.NonceSize())
	}
	fp := sha256.Sum256(append([]byte(fpLabel), raw[:]...))
	return &Key{aead: a, fp: base64url.Encode(fp[:8])}, nil
}

// Fingerprint returns a short, non-reversible identifier of the key, suitable
// for showing two users that their devices derived the same key.
func (k *Key) Fingerprint() string {
	if k == nil {
		return ""
	}
	return k.fp
}

// Encrypt seals plaintext under key with a fresh random IV.
func Encrypt(plaintext []byte, mime string, key *Key) (Envelope, error) {
	return encrypt(rand.Reader, plaintext, mime, key)
}

func encrypt(r io.Reader, plaintext []byte, mime string, key *Key) (Envelope, error) {
	if key == nil || key.aead == nil {
		return Envelope{}, ErrMissingKey
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(r, iv); err != nil {
		return Envelope{}, fmt.Errorf("read iv: %w", err)
	}
	ct := key.aead.Seal(nil, iv, plaintext, nil)
	return Envelope{
		IV:         base64url.Encode(iv),
		Ciphertext: base64url.Encode(ct),
		MIME:       mime,
	}, nil
}

// Decrypt opens env under key and returns the plaintext and its mime type.
//
// Any decoding or authentication failure is reported as ErrDecrypt; callers
// treat it as "this photo is unreadable" and carry on.
func Decrypt(env Envelope, key *Key) ([]byte, string, error) {
	if key == nil || key.aead == nil {
		return nil, "", ErrMissingKey
	}
	if env.IV == "" || env.Ciphertext == "" {
		return nil, "", ErrMissingPayload
	}
	iv, err := base64url.Decode(env.IV)
	if err != nil || len(iv) != IVSize {
		return nil, "", ErrDecrypt
	}
	ct, err := base64url.Decode(env.Ciphertext)
	if err != nil {
		return nil, "", ErrDecrypt
	}
	plain, err := key.aead.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, "", ErrDecrypt
	}
	mime := env.MIME
	if mime == "" {
		mime = DefaultMIME
	}
	return plain, mime, nil
}
