package wallet

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/sign"
)

// Reconciler turns a secure element's (r, s, publicKey) answer into a
// fully signed transaction. The element signs only a hash and reports
// its own recovery identifier unreliably, so the correct identifier is
// re-derived here by a bounded search and the result is cross-checked
// against the address the element's public key resolves to.
type Reconciler struct {
	chainID *big.Int
	logger  log.Logger
}

// NewReconciler creates a Reconciler for the given chain.
func NewReconciler(chainID *big.Int, logger log.Logger) *Reconciler {
	return &Reconciler{
		chainID: new(big.Int).Set(chainID),
		logger:  logger.WithName("reconciler"),
	}
}

// Hash computes the canonical signing digest for an unsigned transaction
// under the replay-protected (EIP-155) scheme. This is the only value
// that crosses into the secure element.
func (r *Reconciler) Hash(tx *UnsignedTx) (common.Hash, *types.Transaction) {
	ethTx := tx.EthTx()
	signer := types.NewEIP155Signer(r.chainID)
	return signer.Hash(ethTx), ethTx
}

// Reconcile validates a signature payload against the unsigned
// transaction it claims to sign and assembles the final SignedTx.
//
// The payload's own V is ignored: the authoritative recovery identifier
// is found by recovering a candidate address for each v in {27, 28} and
// keeping the one that equals the address derived from the signer's
// public key. If neither matches, the element returned an unusable
// signature and the attempt fails; the mismatch is never coerced.
//
// Before returning, the sender is re-derived from the final signed
// transaction and asserted equal to the expected address, so every
// SignedTx leaving this function satisfies
//
//	senderOf(serialized) == addressOf(signerPublicKey) == recover(txHash, r, s, v)
func (r *Reconciler) Reconcile(tx *UnsignedTx, payload *SignaturePayload) (*SignedTx, error) {
	txHash, ethTx := r.Hash(tx)

	expected, err := sign.DeriveAddress(payload.SignerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signer public key rejected: %v", ErrSignatureVerification, err)
	}

	v, err := sign.FindRecoveryID(txHash.Bytes(), payload.R, payload.S, expected)
	if err != nil {
		r.logger.Error("recovery identifier search exhausted",
			"expectedAddress", expected.String(),
			"reportedV", payload.V,
			"r", hexutil.Encode(payload.R),
			"s", hexutil.Encode(payload.S),
			"txHash", txHash.Hex(),
		)
		return nil, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	if payload.V != 0 && payload.V != v {
		// Known element inconsistency: the reported identifier loses to
		// the derived one.
		r.logger.Warn("signer reported a different recovery identifier",
			"reportedV", payload.V, "derivedV", v)
	}

	sig := make([]byte, 65)
	copy(sig[0:32], payload.R)
	copy(sig[32:64], payload.S)
	sig[64] = v - sign.VOffset

	signer := types.NewEIP155Signer(r.chainID)
	signedTx, err := ethTx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: signature attach failed: %v", ErrSignatureVerification, err)
	}

	sender, err := types.Sender(signer, signedTx)
	if err != nil {
		return nil, fmt.Errorf("%w: sender recovery from signed transaction failed: %v", ErrSignatureVerification, err)
	}
	if sender != expected.Address {
		r.logger.Error("signed transaction sender mismatch",
			"expectedAddress", expected.String(),
			"serializedSender", sender.Hex(),
			"txHash", txHash.Hex(),
		)
		return nil, fmt.Errorf("%w: serialized sender %s does not match signer address %s",
			ErrSignatureVerification, sender.Hex(), expected.String())
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signed transaction: %w", err)
	}
	return &SignedTx{
		Tx:     signedTx,
		Sender: sender,
		Raw:    raw,
		Hash:   signedTx.Hash(),
	}, nil
}
