package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/keyfold/walletd/pkg/keycrypt"
	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/sign"
)

// KeyStore persists encrypted software key blobs. The blobs it holds are
// opaque; encryption and decryption happen inside the backend.
type KeyStore interface {
	// Store persists a sealed key blob under id.
	Store(ctx context.Context, id string, blob []byte) error
	// Load returns the sealed blob for id, or nil when none exists.
	Load(ctx context.Context, id string) ([]byte, error)
	// Erase removes the blob for id.
	Erase(ctx context.Context, id string) error
}

// DefaultSoftwareKeyID is the key-store record a node's single software
// wallet lives under.
const DefaultSoftwareKeyID = "software-wallet"

// SoftwareBackend signs with a secp256k1 key held encrypted at rest.
// The key is decrypted for each operation and the plaintext is zeroized
// immediately after use; no hybrid reconciliation is needed because the
// one-pass signer derives (r, s, v) itself.
type SoftwareBackend struct {
	store      KeyStore
	cipher     *keycrypt.Cipher
	passphrase []byte
	keyID      string
	chainID    *big.Int
	logger     log.Logger
}

// NewSoftwareBackend creates the software signing backend. The
// passphrase comes from the app-lock layer that unlocked the node.
func NewSoftwareBackend(store KeyStore, cipher *keycrypt.Cipher, passphrase []byte, chainID *big.Int, logger log.Logger) *SoftwareBackend {
	return &SoftwareBackend{
		store:      store,
		cipher:     cipher,
		passphrase: passphrase,
		keyID:      DefaultSoftwareKeyID,
		chainID:    new(big.Int).Set(chainID),
		logger:     logger.WithName("software-backend"),
	}
}

func (b *SoftwareBackend) Kind() Kind { return KindSoftware }

// Locate decrypts the stored key just long enough to derive its address.
func (b *SoftwareBackend) Locate(ctx context.Context) (*Account, error) {
	blob, err := b.store.Load(ctx, b.keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: key store load failed: %v", ErrBackendUnavailable, err)
	}
	if blob == nil {
		return nil, nil
	}
	key, plain, err := b.decryptKey(blob)
	if err != nil {
		return nil, err
	}
	defer keycrypt.Zero(plain)
	defer key.D.SetInt64(0)

	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	return &Account{Address: addr, Kind: KindSoftware}, nil
}

// Create generates a fresh key, seals it and persists the blob. The
// plaintext never leaves this call.
func (b *SoftwareBackend) Create(ctx context.Context, _ CreateOptions) (*Account, error) {
	existing, err := b.store.Load(ctx, b.keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: key store load failed: %v", ErrBackendUnavailable, err)
	}
	if existing != nil {
		return nil, ErrWalletExists
	}

	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	plain := ethcrypto.FromECDSA(key)
	defer keycrypt.Zero(plain)
	defer key.D.SetInt64(0)

	blob, err := b.cipher.Seal(b.passphrase, plain)
	if err != nil {
		return nil, fmt.Errorf("key encryption failed: %w", err)
	}
	if err := b.store.Store(ctx, b.keyID, blob); err != nil {
		return nil, fmt.Errorf("%w: key store write failed: %v", ErrBackendUnavailable, err)
	}

	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	b.logger.Info("software wallet created", "address", addr.Hex())
	return &Account{Address: addr, Kind: KindSoftware}, nil
}

// SignTransaction signs in one pass with the replay-protected signer.
func (b *SoftwareBackend) SignTransaction(ctx context.Context, tx *UnsignedTx) (*SignResult, error) {
	key, plain, err := b.loadKey(ctx)
	if err != nil {
		return nil, err
	}
	defer keycrypt.Zero(plain)
	defer key.D.SetInt64(0)

	signer := types.NewEIP155Signer(b.chainID)
	signedTx, err := types.SignTx(tx.EthTx(), signer, key)
	if err != nil {
		return nil, fmt.Errorf("transaction signing failed: %w", err)
	}
	sender, err := types.Sender(signer, signedTx)
	if err != nil {
		return nil, fmt.Errorf("%w: sender recovery failed: %v", ErrSignatureVerification, err)
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signed transaction: %w", err)
	}
	return &SignResult{Signed: &SignedTx{
		Tx:     signedTx,
		Sender: sender,
		Raw:    raw,
		Hash:   signedTx.Hash(),
	}}, nil
}

// SignMessage signs the EIP-191 personal digest of message.
func (b *SoftwareBackend) SignMessage(ctx context.Context, message []byte) (sign.Signature, error) {
	key, plain, err := b.loadKey(ctx)
	if err != nil {
		return nil, err
	}
	defer keycrypt.Zero(plain)
	defer key.D.SetInt64(0)

	digest := personalSignHash(message)
	return sign.NewEthereumSignerFromKey(key).Sign(digest.Bytes())
}

// Delete erases the sealed blob.
func (b *SoftwareBackend) Delete(ctx context.Context) error {
	if err := b.store.Erase(ctx, b.keyID); err != nil {
		return fmt.Errorf("%w: key store erase failed: %v", ErrBackendUnavailable, err)
	}
	b.logger.Info("software wallet deleted")
	return nil
}

func (b *SoftwareBackend) loadKey(ctx context.Context) (*ecdsa.PrivateKey, []byte, error) {
	blob, err := b.store.Load(ctx, b.keyID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: key store load failed: %v", ErrBackendUnavailable, err)
	}
	if blob == nil {
		return nil, nil, ErrNoWallet
	}
	return b.decryptKey(blob)
}

func (b *SoftwareBackend) decryptKey(blob []byte) (*ecdsa.PrivateKey, []byte, error) {
	plain, err := b.cipher.Open(b.passphrase, blob)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: key decryption failed: %v", ErrBackendUnavailable, err)
	}
	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		keycrypt.Zero(plain)
		return nil, nil, fmt.Errorf("%w: stored key is corrupt: %v", ErrBackendUnavailable, err)
	}
	return key, plain, nil
}
