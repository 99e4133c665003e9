package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/sign"
)

// SecureElement is the isolated key module the hardware backend drives.
// The private key never crosses this boundary in either direction; the
// element exposes only a hash-signing primitive.
type SecureElement interface {
	// Available reports whether the element is present and usable.
	Available(ctx context.Context) bool
	// LocateKey returns the stored public key, or nil when none exists.
	// The stored key is advisory only; see HardwareBackend.Locate.
	LocateKey(ctx context.Context) ([]byte, error)
	// GenerateKey creates a key inside the element and returns its
	// public key, optionally gated behind a biometric check at use time.
	GenerateKey(ctx context.Context, requireBiometric bool) ([]byte, error)
	// SignHash signs a 32-byte digest with the element's key.
	SignHash(ctx context.Context, hash []byte) (*SignaturePayload, error)
	// DeleteKey destroys the element's key material.
	DeleteKey(ctx context.Context) error
}

// DefaultSignTimeout bounds a secure element round trip. Biometric
// prompts make signing slow, but it must never hang indefinitely.
const DefaultSignTimeout = 30 * time.Second

// addressProbeMessage is the fixed message whose hash is signed when
// re-deriving the element's true signing address.
var addressProbeMessage = []byte("walletd address probe v1")

// HardwareBackend signs through a secure element using the hybrid
// protocol: hash locally, sign the hash inside the element, reconcile
// the recovery identifier locally.
type HardwareBackend struct {
	element     SecureElement
	reconciler  *Reconciler
	signTimeout time.Duration
	logger      log.Logger
}

// NewHardwareBackend creates the hardware signing backend.
func NewHardwareBackend(element SecureElement, reconciler *Reconciler, logger log.Logger) *HardwareBackend {
	return &HardwareBackend{
		element:     element,
		reconciler:  reconciler,
		signTimeout: DefaultSignTimeout,
		logger:      logger.WithName("hardware-backend"),
	}
}

// WithSignTimeout overrides the secure element round-trip budget.
func (b *HardwareBackend) WithSignTimeout(d time.Duration) *HardwareBackend {
	b.signTimeout = d
	return b
}

func (b *HardwareBackend) Kind() Kind { return KindHardware }

// Locate reports the account the element will actually sign for.
//
// The element's stored public key can disagree with the key used at sign
// time (key identity drift in the underlying module), so the stored key
// is only treated as an existence check. The signing address is
// re-derived by issuing a throwaway hash-signing request and deriving
// the address from the public key that request returns. Callers must
// never trust a cached address for this backend without this probe.
func (b *HardwareBackend) Locate(ctx context.Context) (*Account, error) {
	if !b.element.Available(ctx) {
		return nil, nil
	}
	stored, err := b.element.LocateKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: secure element key lookup failed: %v", ErrBackendUnavailable, err)
	}
	if stored == nil {
		return nil, nil
	}

	addr, err := b.probeSigningAddress(ctx)
	if err != nil {
		return nil, err
	}
	if storedAddr, derr := sign.DeriveAddress(stored); derr == nil && !storedAddr.Equals(addr) {
		b.logger.Warn("stored public key drifted from signing key",
			"storedAddress", storedAddr.String(),
			"signingAddress", addr.String(),
		)
	}
	return &Account{Address: addr.Address, Kind: KindHardware}, nil
}

// Create generates a key inside the element. The returned address comes
// from a post-generation signing probe, not from the generation result.
func (b *HardwareBackend) Create(ctx context.Context, opts CreateOptions) (*Account, error) {
	if !b.element.Available(ctx) {
		return nil, fmt.Errorf("%w: secure element not present", ErrBackendUnavailable)
	}
	existing, err := b.element.LocateKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: secure element key lookup failed: %v", ErrBackendUnavailable, err)
	}
	if existing != nil {
		return nil, ErrWalletExists
	}
	if _, err := b.element.GenerateKey(ctx, opts.RequireBiometric); err != nil {
		return nil, fmt.Errorf("%w: key generation failed: %v", ErrBackendUnavailable, err)
	}

	addr, err := b.probeSigningAddress(ctx)
	if err != nil {
		return nil, err
	}
	b.logger.Info("hardware wallet created",
		"address", addr.String(), "requireBiometric", opts.RequireBiometric)
	return &Account{Address: addr.Address, Kind: KindHardware}, nil
}

// SignTransaction runs the hybrid protocol: only the transaction hash
// crosses into the element, and the returned payload is reconciled into
// a verified SignedTx.
func (b *HardwareBackend) SignTransaction(ctx context.Context, tx *UnsignedTx) (*SignResult, error) {
	txHash, _ := b.reconciler.Hash(tx)
	payload, err := b.signHash(ctx, txHash.Bytes())
	if err != nil {
		return nil, err
	}
	signed, err := b.reconciler.Reconcile(tx, payload)
	if err != nil {
		return nil, err
	}
	return &SignResult{Signed: signed}, nil
}

// SignMessage signs the EIP-191 personal digest of message and resolves
// the recovery identifier the same way transaction signing does.
func (b *HardwareBackend) SignMessage(ctx context.Context, message []byte) (sign.Signature, error) {
	digest := personalSignHash(message)
	payload, err := b.signHash(ctx, digest.Bytes())
	if err != nil {
		return nil, err
	}
	addr, err := sign.DeriveAddress(payload.SignerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signer public key rejected: %v", ErrSignatureVerification, err)
	}
	v, err := sign.FindRecoveryID(digest.Bytes(), payload.R, payload.S, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	sig := make(sign.Signature, 65)
	copy(sig[0:32], payload.R)
	copy(sig[32:64], payload.S)
	sig[64] = v
	return sig, nil
}

// Delete destroys the element's key material.
func (b *HardwareBackend) Delete(ctx context.Context) error {
	if err := b.element.DeleteKey(ctx); err != nil {
		return fmt.Errorf("%w: key deletion failed: %v", ErrBackendUnavailable, err)
	}
	b.logger.Info("hardware wallet deleted")
	return nil
}

func (b *HardwareBackend) probeSigningAddress(ctx context.Context) (sign.EthereumAddress, error) {
	digest := personalSignHash(addressProbeMessage)
	payload, err := b.signHash(ctx, digest.Bytes())
	if err != nil {
		return sign.EthereumAddress{}, err
	}
	addr, err := sign.DeriveAddress(payload.SignerPublicKey)
	if err != nil {
		return sign.EthereumAddress{}, fmt.Errorf("%w: probe returned malformed public key: %v", ErrSignatureVerification, err)
	}
	return addr, nil
}

// signHash performs one element round trip under the signing timeout.
// Timeouts surface as ErrSignerUnavailable rather than hanging.
func (b *HardwareBackend) signHash(ctx context.Context, hash []byte) (*SignaturePayload, error) {
	ctx, cancel := context.WithTimeout(ctx, b.signTimeout)
	defer cancel()

	payload, err := b.element.SignHash(ctx, hash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: secure element signing timed out after %s", ErrSignerUnavailable, b.signTimeout)
		}
		return nil, fmt.Errorf("%w: secure element signing failed: %v", ErrBackendUnavailable, err)
	}
	return payload, nil
}
