package sign

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// VOffset is the conventional offset distinguishing the raw recovery bit
// (0/1) from the Ethereum wire form (27/28).
const VOffset = 27

// recoveryCandidates is the closed set of recovery identifiers a
// well-formed secp256k1 signature can carry.
var recoveryCandidates = [2]byte{VOffset, VOffset + 1}

// ErrNoRecoveryMatch is returned when neither recovery identifier yields
// the expected signing address.
var ErrNoRecoveryMatch = errors.New("no recovery identifier matches the expected address")

// FindRecoveryID resolves the recovery identifier for a signature produced
// by a signer that reports only (r, s). It tries each candidate v in
// {27, 28}, recovers the would-be signing address from (hash, r, s, v),
// and returns the v whose recovered address equals expected.
//
// Exactly one candidate matches for a well-formed signature; if neither
// does, the signature does not belong to the expected key and
// ErrNoRecoveryMatch is returned. The search is bounded and pure: no
// retries, no mutation of its inputs.
func FindRecoveryID(hash []byte, r, s []byte, expected Address) (byte, error) {
	if len(r) != 32 || len(s) != 32 {
		return 0, errors.New("r and s must be 32 bytes each")
	}

	sig := make([]byte, 65)
	copy(sig[0:32], r)
	copy(sig[32:64], s)

	for _, v := range recoveryCandidates {
		sig[64] = v - VOffset
		pubKey, err := ethcrypto.SigToPub(hash, sig)
		if err != nil {
			continue
		}
		candidate := EthereumAddress{ethcrypto.PubkeyToAddress(*pubKey)}
		if candidate.Equals(expected) {
			return v, nil
		}
	}
	return 0, ErrNoRecoveryMatch
}
