package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/keyfold/walletd/pkg/sign"
)

// Kind identifies which backend holds an account's key material.
type Kind uint8

const (
	KindHardware Kind = iota
	KindSoftware
	KindExternal
)

// String returns the human-readable backend name.
func (k Kind) String() string {
	switch k {
	case KindHardware:
		return "hardware"
	case KindSoftware:
		return "software"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Account is a located wallet account. Exactly one account is active per
// node at a time; existence is derived by probing the backends, not read
// from a stored record.
type Account struct {
	Address common.Address  `json:"address"`
	Kind    Kind            `json:"kind"`
	Balance decimal.Decimal `json:"balance"`
}

// UnsignedTx is a canonical unsigned legacy transaction. It is immutable
// once built; a fresh instance is constructed for every signing attempt
// because nonce and fee data may change between attempts.
type UnsignedTx struct {
	To       common.Address
	Value    *big.Int
	Nonce    uint64
	GasLimit uint64
	GasPrice *big.Int
	Data     []byte
	ChainID  *big.Int
}

// EthTx materializes the go-ethereum transaction object. Each call
// returns a fresh instance so signing never mutates shared state.
func (u *UnsignedTx) EthTx() *types.Transaction {
	to := u.To
	return types.NewTx(&types.LegacyTx{
		Nonce:    u.Nonce,
		GasPrice: new(big.Int).Set(u.GasPrice),
		Gas:      u.GasLimit,
		To:       &to,
		Value:    new(big.Int).Set(u.Value),
		Data:     u.Data,
	})
}

// SignaturePayload is what a secure element returns for a signed hash:
// the raw (r, s) pair, its claimed recovery identifier and the public
// key of the key actually used. Produced only by signers, never
// assembled by the orchestration layer.
type SignaturePayload struct {
	R               []byte
	S               []byte
	V               byte
	SignerPublicKey []byte
}

// SignedTx is a fully signed transaction ready for broadcast, together
// with the sender address the signature resolves to.
type SignedTx struct {
	Tx     *types.Transaction
	Sender common.Address
	Raw    []byte
	Hash   common.Hash
}

// SignResult is the outcome of a backend signing a transaction. Local
// backends fill Signed and leave broadcasting to the dispatcher; the
// external backend broadcasts through the remote wallet and reports only
// the transaction hash it returned.
type SignResult struct {
	Signed          *SignedTx
	TxHash          common.Hash
	RemoteBroadcast bool
}

// CreateOptions parameterizes wallet creation.
type CreateOptions struct {
	// RequireBiometric gates hardware key usage behind a biometric check.
	RequireBiometric bool
}

// Backend is the uniform signer contract all three variants implement.
// The dispatcher and selector never branch on Kind outside of detection.
type Backend interface {
	// Kind reports which backend variant this is.
	Kind() Kind
	// Locate returns the account this backend holds a key for, or nil
	// when it holds none. Errors indicate the backend itself failed, not
	// the absence of a key.
	Locate(ctx context.Context) (*Account, error)
	// Create generates new key material and returns the resulting account.
	Create(ctx context.Context, opts CreateOptions) (*Account, error)
	// SignTransaction signs the given unsigned transaction.
	SignTransaction(ctx context.Context, tx *UnsignedTx) (*SignResult, error)
	// SignMessage signs an arbitrary message in the EIP-191 personal form.
	SignMessage(ctx context.Context, message []byte) (sign.Signature, error)
	// Delete destroys this backend's key material.
	Delete(ctx context.Context) error
}

// personalSignHash computes the EIP-191 "personal sign" digest:
// keccak256("\x19Ethereum Signed Message:\n" || len(message) || message).
func personalSignHash(message []byte) common.Hash {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return ethcrypto.Keccak256Hash([]byte(prefixed))
}
