// Package keycrypt encrypts wallet key material at rest. Blobs are sealed
// with AES-256-GCM under a key derived from the owner's passphrase via
// scrypt, so a stolen database row is useless without the passphrase and
// any tampering is detected on open.
package keycrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// blobVersion identifies the sealed blob layout.
	blobVersion = 1

	saltLen = 32
	keyLen  = 32

	// Standard scrypt cost parameters, matching the values commonly used
	// for wallet keystores.
	StandardScryptN = 1 << 18
	StandardScryptP = 1

	// Light parameters for tests and low-stakes environments.
	LightScryptN = 1 << 12
	LightScryptP = 6

	scryptR = 8
)

var (
	// ErrMalformedBlob is returned when a sealed blob is too short or has
	// an unknown version.
	ErrMalformedBlob = errors.New("malformed key blob")
	// ErrDecryptionFailed is returned when the passphrase is wrong or the
	// blob has been tampered with. The two cases are indistinguishable.
	ErrDecryptionFailed = errors.New("key blob decryption failed")
)

// Cipher seals and opens key blobs with fixed scrypt cost parameters.
type Cipher struct {
	scryptN int
	scryptP int
}

// NewCipher creates a Cipher with the standard scrypt parameters.
func NewCipher() *Cipher {
	return &Cipher{scryptN: StandardScryptN, scryptP: StandardScryptP}
}

// NewLightCipher creates a Cipher with reduced scrypt cost, for tests.
func NewLightCipher() *Cipher {
	return &Cipher{scryptN: LightScryptN, scryptP: LightScryptP}
}

// Seal encrypts plaintext under the passphrase. Each call draws a fresh
// salt and nonce, so sealing the same plaintext twice yields different
// blobs. The blob layout is:
//
//	version(1) | scryptN(4) | scryptP(4) | salt(32) | nonce(12) | ciphertext
func (c *Cipher) Seal(passphrase, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to draw salt: %w", err)
	}

	aead, err := c.newAEAD(passphrase, salt, c.scryptN, c.scryptP)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to draw nonce: %w", err)
	}

	header := make([]byte, 9)
	header[0] = blobVersion
	binary.BigEndian.PutUint32(header[1:5], uint32(c.scryptN))
	binary.BigEndian.PutUint32(header[5:9], uint32(c.scryptP))

	blob := append(header, salt...)
	blob = append(blob, nonce...)
	// The header is bound as additional data so cost parameters cannot be
	// downgraded without failing authentication.
	blob = aead.Seal(blob, nonce, plaintext, header)
	return blob, nil
}

// Open decrypts a blob produced by Seal. Wrong passphrases and tampered
// blobs both fail with ErrDecryptionFailed.
func (c *Cipher) Open(passphrase, blob []byte) ([]byte, error) {
	if len(blob) < 9+saltLen+12 {
		return nil, ErrMalformedBlob
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrMalformedBlob, blob[0])
	}

	scryptN := int(binary.BigEndian.Uint32(blob[1:5]))
	scryptP := int(binary.BigEndian.Uint32(blob[5:9]))
	header := blob[:9]
	salt := blob[9 : 9+saltLen]

	aead, err := c.newAEAD(passphrase, salt, scryptN, scryptP)
	if err != nil {
		return nil, err
	}

	nonceEnd := 9 + saltLen + aead.NonceSize()
	if len(blob) < nonceEnd {
		return nil, ErrMalformedBlob
	}
	nonce := blob[9+saltLen : nonceEnd]
	ciphertext := blob[nonceEnd:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func (c *Cipher) newAEAD(passphrase, salt []byte, scryptN, scryptP int) (cipher.AEAD, error) {
	key, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Zero overwrites b in place. Callers use it to drop plaintext key
// material as soon as it is no longer needed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
