package sign

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// uncompressedPointMarker prefixes a 65-byte uncompressed secp256k1
	// public key encoding.
	uncompressedPointMarker = 0x04

	rawPublicKeyLen = 64
)

// DeriveAddress derives the account address from a raw public key: the
// keccak-256 digest of the 64-byte point encoding, truncated to its low
// 20 bytes. The input may carry the 0x04 uncompressed-point marker.
//
// The function is pure; the same key always yields the same address, and
// the result agrees with go-ethereum's PubkeyToAddress.
func DeriveAddress(pubKeyBytes []byte) (EthereumAddress, error) {
	if len(pubKeyBytes) == rawPublicKeyLen+1 && pubKeyBytes[0] == uncompressedPointMarker {
		pubKeyBytes = pubKeyBytes[1:]
	}
	if len(pubKeyBytes) != rawPublicKeyLen {
		return EthereumAddress{}, fmt.Errorf("malformed public key: expected %d bytes, got %d", rawPublicKeyLen, len(pubKeyBytes))
	}

	digest := keccak256(pubKeyBytes)
	return NewEthereumAddressFromHex(hex.EncodeToString(digest[12:])), nil
}

// ChecksumHex applies the EIP-55 mixed-case checksum to a 40-character hex
// address (without the 0x prefix): a nibble of the keccak digest of the
// lowercase address decides the case of each letter.
func ChecksumHex(address string) string {
	address = strings.ToLower(strings.TrimPrefix(address, "0x"))
	hashHex := hex.EncodeToString(keccak256([]byte(address)))

	var sb strings.Builder
	sb.Grow(len(address))
	for i := 0; i < len(address); i++ {
		c := address[i]
		if c >= 'a' && c <= 'f' && hexNibble(hashHex[i]) >= 8 {
			c = c - 'a' + 'A'
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// IsHexAddress reports whether s is a well-formed 20-byte hex address.
func IsHexAddress(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 2*20 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func hexNibble(c byte) byte {
	if c >= '0' && c <= '9' {
		return c - '0'
	}
	return c - 'a' + 10
}
