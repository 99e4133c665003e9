// Package sign provides the cryptographic signing primitives walletd is
// built on: blockchain-agnostic Signer, PublicKey and Address abstractions,
// an Ethereum implementation over secp256k1, and the address helpers the
// wallet engine needs: raw-public-key address derivation with EIP-55
// checksumming, and recovery-identifier resolution for signatures produced
// by hash-only signers.
//
// The interfaces deliberately expose no private key material. A Signer can
// be backed by an in-process key, a hardware secure element, or a remote
// service; callers only ever see public keys, addresses and signatures.
//
// Usage:
//
//	signer, err := sign.NewEthereumSigner(privateKeyHex)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	hash := ethcrypto.Keccak256Hash([]byte("hello world"))
//	signature, err := signer.Sign(hash.Bytes())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	address := signer.PublicKey().Address()
package sign
