package wallet

import "errors"

// Failure taxonomy for the signing and broadcast engine. Callers classify
// with errors.Is; every error returned by this package wraps exactly one
// of these sentinels or is a plain internal error.
var (
	// ErrInvalidInput marks a malformed recipient, amount or ceiling
	// violation. Rejected before any I/O is performed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBackendUnavailable means the secure element, key store or pairing
	// session backing the active wallet is not reachable. Never retried.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrSignatureVerification means the recovery-identifier search was
	// exhausted without a match, or the reassembled transaction's sender
	// does not equal the signer's address. Fatal for the attempt.
	ErrSignatureVerification = errors.New("signature verification failed")

	// ErrNonceConflict classifies a broadcast rejection caused by a stale
	// nonce. The one condition the dispatcher retries, exactly once.
	ErrNonceConflict = errors.New("nonce conflict")

	// ErrBroadcastRejected is any other broadcast rejection. Terminal.
	ErrBroadcastRejected = errors.New("broadcast rejected")

	// ErrSignerUnavailable means a signing round trip timed out.
	ErrSignerUnavailable = errors.New("signer unavailable")

	// ErrNoWallet means no backend holds key material.
	ErrNoWallet = errors.New("no wallet found")

	// ErrWalletExists means the target backend already holds key material.
	ErrWalletExists = errors.New("wallet already exists")
)
