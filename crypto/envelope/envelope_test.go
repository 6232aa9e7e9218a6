package envelope

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/floegence/snaprelay/internal/base64url"
)

func TestDeriveKeyIsDeterministic(t *testing.T) {
	require := require.New(t)

	k1, err := DeriveKey("c2VlZHNlZWRzZWVk", "abc12345")
	require.NoError(err)
	k2, err := DeriveKey("c2VlZHNlZWRzZWVk", "abc12345")
	require.NoError(err)
	require.Equal(k1.Fingerprint(), k2.Fingerprint())

	env, err := Encrypt([]byte("jpeg bytes"), "image/jpeg", k1)
	require.NoError(err)
	plain, mime, err := Decrypt(env, k2)
	require.NoError(err)
	require.Equal([]byte("jpeg bytes"), plain)
	require.Equal("image/jpeg", mime)
}

func TestDeriveKeyBindsSessionToken(t *testing.T) {
	require := require.New(t)

	k1, err := DeriveKey("c2VlZHNlZWRzZWVk", "abc12345")
	require.NoError(err)
	k2, err := DeriveKey("c2VlZHNlZWRzZWVk", "abc12346")
	require.NoError(err)
	require.NotEqual(k1.Fingerprint(), k2.Fingerprint())

	env, err := Encrypt([]byte("x"), "", k1)
	require.NoError(err)
	_, _, err = Decrypt(env, k2)
	require.ErrorIs(err, ErrDecrypt)
}

func TestDeriveKeyRejectsEmptyInputs(t *testing.T) {
	_, err := DeriveKey("", "abc12345")
	require.ErrorIs(t, err, ErrMissingSeed)
	_, err = DeriveKey("seedseed", "")
	require.ErrorIs(t, err, ErrMissingSession)
}

func TestRoundTrip(t *testing.T) {
	require := require.New(t)
	key, err := DeriveKey("seed-value", "session_1")
	require.NoError(err)

	for _, size := range []int{0, 1, 15, 16, 17, 4096, 1 << 16} {
		img := make([]byte, size)
		_, err := rand.Read(img)
		require.NoError(err)

		env, err := Encrypt(img, "image/png", key)
		require.NoError(err)
		require.True(base64url.Valid(env.IV, 16, 16), "iv %q", env.IV)

		plain, mime, err := Decrypt(env, key)
		require.NoError(err)
		require.True(bytes.Equal(img, plain))
		require.Equal("image/png", mime)
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	key, err := DeriveKey("seed-value", "session_1")
	require.NoError(t, err)
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		env, err := Encrypt([]byte("same"), "image/jpeg", key)
		require.NoError(t, err)
		_, dup := seen[env.IV]
		require.False(t, dup, "iv reused: %s", env.IV)
		seen[env.IV] = struct{}{}
	}
}

func TestDecryptDefaultsMime(t *testing.T) {
	key, err := DeriveKey("seed-value", "session_1")
	require.NoError(t, err)
	env, err := Encrypt([]byte("a"), "", key)
	require.NoError(t, err)
	_, mime, err := Decrypt(env, key)
	require.NoError(t, err)
	require.Equal(t, DefaultMIME, mime)
}

func TestTamperedCiphertextIsRejected(t *testing.T) {
	require := require.New(t)
	key, err := DeriveKey("seed-value", "session_1")
	require.NoError(err)
	env, err := Encrypt([]byte("photo payload"), "image/jpeg", key)
	require.NoError(err)

	ct, err := base64url.Decode(env.Ciphertext)
	require.NoError(err)
	for i := 0; i < len(ct)*8; i++ {
		mut := append([]byte(nil), ct...)
		mut[i/8] ^= 1 << (i % 8)
		bad := env
		bad.Ciphertext = base64url.Encode(mut)
		_, _, err := Decrypt(bad, key)
		require.ErrorIs(err, ErrDecrypt, "bit %d", i)
	}
}

func TestDecryptRejectsMalformedEnvelope(t *testing.T) {
	key, err := DeriveKey("seed-value", "session_1")
	require.NoError(t, err)

	_, _, err = Decrypt(Envelope{}, key)
	require.ErrorIs(t, err, ErrMissingPayload)

	_, _, err = Decrypt(Envelope{IV: "!!", Ciphertext: "AAAAAAAAAAAAAAAAAAAAAA"}, key)
	require.ErrorIs(t, err, ErrDecrypt)

	_, _, err = Decrypt(Envelope{IV: base64url.Encode(make([]byte, 8)), Ciphertext: "AAAAAAAAAAAAAAAAAAAAAA"}, key)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestMissingKey(t *testing.T) {
	_, err := Encrypt([]byte("a"), "image/jpeg", nil)
	require.ErrorIs(t, err, ErrMissingKey)
	_, _, err = Decrypt(Envelope{IV: "a", Ciphertext: "b"}, nil)
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestDataURL(t *testing.T) {
	require := require.New(t)
	u := ToDataURL("image/png", []byte{1, 2, 3})
	require.Equal("data:image/png;base64,AQID", u)

	mime, b, err := FromDataURL(u)
	require.NoError(err)
	require.Equal("image/png", mime)
	require.Equal([]byte{1, 2, 3}, b)

	_, _, err = FromDataURL("not a data url")
	require.ErrorIs(err, ErrInvalidDataURL)
	_, _, err = FromDataURL("data:image/png,AQID")
	require.ErrorIs(err, ErrInvalidDataURL)
}
