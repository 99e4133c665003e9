package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/sign"
)

// Remote pairing session methods. The remote wallet holds its own key,
// performs its own broadcast and returns only the resulting hash.
const (
	pairingGetAccountMethod  = "get_account"
	pairingSendTxMethod      = "send_transaction"
	pairingSignMessageMethod = "sign_message"
)

// PairingSession is the transport to a remotely paired external wallet.
// The production implementation runs over the node's WebSocket dialer.
type PairingSession interface {
	// Connected reports whether a paired session is live.
	Connected() bool
	// Request performs one remote call, decoding the reply into result.
	Request(ctx context.Context, method string, params any, result any) error
	// Disconnect tears the session down.
	Disconnect() error
}

// pairingTxParams is the unsigned transaction as sent to the remote
// wallet. Integers travel as 0x-hex so precision survives JSON.
type pairingTxParams struct {
	To       string `json:"to"`
	Value    string `json:"value"`
	Nonce    uint64 `json:"nonce"`
	Gas      uint64 `json:"gas"`
	GasPrice string `json:"gas_price"`
	Data     string `json:"data"`
	ChainID  uint64 `json:"chain_id"`
}

// ExternalBackend routes signing to a remotely paired wallet. Responses
// are treated as opaque: the remote party broadcasts itself, so no local
// reconstruction or verification of its transaction is possible.
type ExternalBackend struct {
	session PairingSession
	logger  log.Logger
}

// NewExternalBackend creates the external signing backend.
func NewExternalBackend(session PairingSession, logger log.Logger) *ExternalBackend {
	return &ExternalBackend{
		session: session,
		logger:  logger.WithName("external-backend"),
	}
}

func (b *ExternalBackend) Kind() Kind { return KindExternal }

// Locate asks the paired wallet for its account address.
func (b *ExternalBackend) Locate(ctx context.Context) (*Account, error) {
	if !b.session.Connected() {
		return nil, nil
	}
	var res struct {
		Address string `json:"address"`
	}
	if err := b.session.Request(ctx, pairingGetAccountMethod, nil, &res); err != nil {
		return nil, fmt.Errorf("%w: pairing session request failed: %v", ErrBackendUnavailable, err)
	}
	if !sign.IsHexAddress(res.Address) {
		return nil, fmt.Errorf("%w: paired wallet reported malformed address %q", ErrBackendUnavailable, res.Address)
	}
	return &Account{Address: common.HexToAddress(res.Address), Kind: KindExternal}, nil
}

// Create is a pairing handshake, not local key generation; the account
// is whatever the already-paired wallet reports.
func (b *ExternalBackend) Create(ctx context.Context, _ CreateOptions) (*Account, error) {
	account, err := b.Locate(ctx)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: no paired session", ErrBackendUnavailable)
	}
	return account, nil
}

// SignTransaction forwards the unsigned transaction to the remote wallet
// and reports the hash of the transaction it broadcast.
func (b *ExternalBackend) SignTransaction(ctx context.Context, tx *UnsignedTx) (*SignResult, error) {
	if !b.session.Connected() {
		return nil, fmt.Errorf("%w: no paired session", ErrBackendUnavailable)
	}
	params := pairingTxParams{
		To:       tx.To.Hex(),
		Value:    hexutil.EncodeBig(tx.Value),
		Nonce:    tx.Nonce,
		Gas:      tx.GasLimit,
		GasPrice: hexutil.EncodeBig(tx.GasPrice),
		Data:     hexutil.Encode(tx.Data),
		ChainID:  tx.ChainID.Uint64(),
	}
	var res struct {
		TxHash string `json:"tx_hash"`
	}
	if err := b.session.Request(ctx, pairingSendTxMethod, params, &res); err != nil {
		return nil, fmt.Errorf("%w: remote signing failed: %v", ErrBroadcastRejected, err)
	}
	b.logger.Info("remote wallet broadcast transaction", "txHash", res.TxHash)
	return &SignResult{
		TxHash:          common.HexToHash(res.TxHash),
		RemoteBroadcast: true,
	}, nil
}

// SignMessage forwards an EIP-191 personal-sign request.
func (b *ExternalBackend) SignMessage(ctx context.Context, message []byte) (sign.Signature, error) {
	if !b.session.Connected() {
		return nil, fmt.Errorf("%w: no paired session", ErrBackendUnavailable)
	}
	params := map[string]string{"message": hexutil.Encode(message)}
	var res struct {
		Signature string `json:"signature"`
	}
	if err := b.session.Request(ctx, pairingSignMessageMethod, params, &res); err != nil {
		return nil, fmt.Errorf("%w: remote signing failed: %v", ErrBackendUnavailable, err)
	}
	sig, err := hexutil.Decode(res.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: paired wallet returned malformed signature: %v", ErrSignatureVerification, err)
	}
	return sign.Signature(sig), nil
}

// Delete disconnects the pairing session. The remote wallet keeps its
// own key; only the local session is affected.
func (b *ExternalBackend) Delete(context.Context) error {
	if err := b.session.Disconnect(); err != nil {
		return fmt.Errorf("%w: disconnect failed: %v", ErrBackendUnavailable, err)
	}
	b.logger.Info("pairing session disconnected")
	return nil
}
