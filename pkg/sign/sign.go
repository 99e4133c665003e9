package sign

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Signer produces signatures over pre-computed hashes. Implementations must
// never expose private key material.
type Signer interface {
	// PublicKey returns the public key associated with this signer.
	PublicKey() PublicKey
	// Sign generates a signature for the given data. Ethereum signers
	// expect data to be a 32-byte hash.
	Sign(data []byte) (Signature, error)
}

// AddressRecoverer recovers the signing address from a message and signature.
type AddressRecoverer interface {
	RecoverAddress(message []byte, signature Signature) (Address, error)
}

// PublicKey is a blockchain-agnostic public key.
type PublicKey interface {
	Address() Address
	Bytes() []byte
}

// Address is a blockchain-specific account address.
type Address interface {
	fmt.Stringer

	// Equals returns true if this address equals the other address.
	Equals(other Address) bool
}

// Signature is a raw cryptographic signature.
// Ethereum signatures are 65 bytes: r (32) || s (32) || v (1).
type Signature []byte

// Type identifies the signature scheme a Signature belongs to.
type Type uint8

const (
	TypeEthereum Type = iota
	TypeUnknown       = 255
)

// String returns the human-readable name of the signature type.
func (t Type) String() string {
	switch t {
	case TypeEthereum:
		return "Ethereum"
	default:
		return "Unknown"
	}
}

// Type infers the signature scheme from the signature's structure.
func (s Signature) Type() Type {
	if len(s) == 65 {
		return TypeEthereum
	}
	return TypeUnknown
}

// MarshalJSON encodes the signature as a 0x-prefixed hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a 0x-prefixed hex string.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	decoded, err := hexutil.Decode(hexStr)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// String implements fmt.Stringer.
func (s Signature) String() string {
	return hexutil.Encode(s)
}

// NewAddressRecoverer returns the AddressRecoverer for the given scheme.
func NewAddressRecoverer(sigType Type) (AddressRecoverer, error) {
	switch sigType {
	case TypeEthereum:
		return &EthereumAddressRecoverer{}, nil
	default:
		return nil, fmt.Errorf("unsupported signature type: %s", sigType.String())
	}
}

// NewAddressRecovererFromSignature picks a recoverer based on the
// signature's detected scheme.
func NewAddressRecovererFromSignature(signature Signature) (AddressRecoverer, error) {
	return NewAddressRecoverer(signature.Type())
}
