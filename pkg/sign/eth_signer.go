package sign

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var _ Signer = (*EthereumSigner)(nil)
var _ AddressRecoverer = (*EthereumAddressRecoverer)(nil)
var _ PublicKey = (*EthereumPublicKey)(nil)
var _ Address = (*EthereumAddress)(nil)

// EthereumAddress implements Address for Ethereum accounts.
type EthereumAddress struct{ common.Address }

// String returns the EIP-55 checksummed hex form.
func (a EthereumAddress) String() string { return a.Address.Hex() }

// NewEthereumAddress wraps a common.Address.
func NewEthereumAddress(addr common.Address) EthereumAddress {
	return EthereumAddress{addr}
}

// NewEthereumAddressFromHex parses a hex address string.
func NewEthereumAddressFromHex(hexAddr string) EthereumAddress {
	return EthereumAddress{common.HexToAddress(hexAddr)}
}

// Equals returns true if this address equals the other address.
func (a EthereumAddress) Equals(other Address) bool {
	if otherAddr, ok := other.(EthereumAddress); ok {
		return a.Address == otherAddr.Address
	}
	// Cross-implementation comparison falls back to the string form.
	return a.String() == other.String()
}

// EthereumPublicKey implements PublicKey over an ECDSA secp256k1 key.
type EthereumPublicKey struct{ *ecdsa.PublicKey }

// Address derives the account address from the public key.
func (p EthereumPublicKey) Address() Address {
	return EthereumAddress{ethcrypto.PubkeyToAddress(*p.PublicKey)}
}

// Bytes returns the uncompressed 65-byte encoding (0x04 prefix).
func (p EthereumPublicKey) Bytes() []byte { return ethcrypto.FromECDSAPub(p.PublicKey) }

// NewEthereumPublicKey wraps an ECDSA public key.
func NewEthereumPublicKey(pub *ecdsa.PublicKey) EthereumPublicKey {
	return EthereumPublicKey{pub}
}

// NewEthereumPublicKeyFromBytes parses an uncompressed public key encoding.
func NewEthereumPublicKeyFromBytes(pubBytes []byte) (EthereumPublicKey, error) {
	pub, err := ethcrypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return EthereumPublicKey{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	return EthereumPublicKey{pub}, nil
}

// EthereumSigner signs hashes with an in-process secp256k1 private key.
type EthereumSigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  EthereumPublicKey
}

func (s *EthereumSigner) PublicKey() PublicKey { return s.publicKey }

// Sign expects the input to be a 32-byte hash (e.g. keccak-256 output).
func (s *EthereumSigner) Sign(hash []byte) (Signature, error) {
	sig, err := ethcrypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, err
	}
	// Normalize V from 0/1 to the conventional 27/28.
	if sig[64] < VOffset {
		sig[64] += VOffset
	}
	return Signature(sig), nil
}

// NewEthereumSigner creates a signer from a hex-encoded private key.
func NewEthereumSigner(privateKeyHex string) (Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	key, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("could not parse ethereum private key: %w", err)
	}
	return NewEthereumSignerFromKey(key), nil
}

// NewEthereumSignerFromKey creates a signer from an existing private key.
func NewEthereumSignerFromKey(key *ecdsa.PrivateKey) Signer {
	return &EthereumSigner{
		privateKey: key,
		publicKey:  EthereumPublicKey{key.Public().(*ecdsa.PublicKey)},
	}
}

// EthereumAddressRecoverer implements AddressRecoverer for Ethereum.
type EthereumAddressRecoverer struct{}

// RecoverAddress hashes the raw message with keccak-256 and recovers the
// signing address from the signature.
func (r *EthereumAddressRecoverer) RecoverAddress(message []byte, signature Signature) (Address, error) {
	hash := ethcrypto.Keccak256Hash(message)
	return RecoverAddressFromHash(hash.Bytes(), signature)
}

// RecoverAddressFromHash recovers the signing address from a pre-computed
// hash and a 65-byte signature with V in either 0/1 or 27/28 form.
func RecoverAddressFromHash(hash []byte, sig Signature) (Address, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("invalid signature length")
	}
	localSig := make([]byte, 65)
	copy(localSig, sig)
	if localSig[64] >= VOffset {
		localSig[64] -= VOffset
	}
	pubKey, err := ethcrypto.SigToPub(hash, localSig)
	if err != nil {
		return nil, fmt.Errorf("signature recovery failed: %w", err)
	}
	return EthereumAddress{ethcrypto.PubkeyToAddress(*pubKey)}, nil
}
