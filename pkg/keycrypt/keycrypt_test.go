package keycrypt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/walletd/pkg/keycrypt"
)

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	c := keycrypt.NewLightCipher()
	passphrase := []byte("correct horse battery staple")
	plaintext := []byte("0123456789abcdef0123456789abcdef")

	blob, err := c.Seal(passphrase, plaintext)
	require.NoError(t, err)
	require.NotContains(t, string(blob), string(plaintext))

	opened, err := c.Open(passphrase, blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealIsRandomized(t *testing.T) {
	t.Parallel()

	c := keycrypt.NewLightCipher()
	passphrase := []byte("pass")
	plaintext := []byte("secret key bytes")

	first, err := c.Seal(passphrase, plaintext)
	require.NoError(t, err)
	second, err := c.Seal(passphrase, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestOpenRejectsWrongPassphrase(t *testing.T) {
	t.Parallel()

	c := keycrypt.NewLightCipher()
	blob, err := c.Seal([]byte("right"), []byte("payload"))
	require.NoError(t, err)

	_, err = c.Open([]byte("wrong"), blob)
	assert.ErrorIs(t, err, keycrypt.ErrDecryptionFailed)
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	t.Parallel()

	c := keycrypt.NewLightCipher()
	passphrase := []byte("pass")
	blob, err := c.Seal(passphrase, []byte("payload"))
	require.NoError(t, err)

	// Flip one ciphertext bit.
	tampered := make([]byte, len(blob))
	copy(tampered, blob)
	tampered[len(tampered)-1] ^= 0x01
	_, err = c.Open(passphrase, tampered)
	assert.ErrorIs(t, err, keycrypt.ErrDecryptionFailed)

	// Downgrade the cost parameters in the header.
	tampered = make([]byte, len(blob))
	copy(tampered, blob)
	tampered[4] = 0x01
	_, err = c.Open(passphrase, tampered)
	assert.ErrorIs(t, err, keycrypt.ErrDecryptionFailed)
}

func TestOpenRejectsMalformedBlob(t *testing.T) {
	t.Parallel()

	c := keycrypt.NewLightCipher()
	_, err := c.Open([]byte("pass"), []byte("short"))
	assert.ErrorIs(t, err, keycrypt.ErrMalformedBlob)

	blob, err := c.Seal([]byte("pass"), []byte("payload"))
	require.NoError(t, err)
	blob[0] = 99 // unknown version
	_, err = c.Open([]byte("pass"), blob)
	assert.ErrorIs(t, err, keycrypt.ErrMalformedBlob)
}

func TestZero(t *testing.T) {
	t.Parallel()

	b := []byte{1, 2, 3}
	keycrypt.Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
