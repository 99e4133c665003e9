package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/keyfold/walletd/pkg/log"
)

// State is a dispatcher phase. A send moves
// Building → Signing → Broadcasting → Confirmed, or to Failed from any
// phase.
type State uint8

const (
	StateBuilding State = iota
	StateSigning
	StateBroadcasting
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateSigning:
		return "signing"
	case StateBroadcasting:
		return "broadcasting"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Recorder receives dispatcher lifecycle events. The node wires a
// Prometheus-backed implementation; a nil Recorder is replaced with a
// noop.
type Recorder interface {
	RecordSend(kind Kind, outcome string)
	RecordNonceRetry()
	RecordSignatureFailure()
}

type noopRecorder struct{}

func (noopRecorder) RecordSend(Kind, string) {}
func (noopRecorder) RecordNonceRetry()       {}
func (noopRecorder) RecordSignatureFailure() {}

// SendResult reports a successfully submitted transaction.
type SendResult struct {
	TxHash       common.Hash
	Backend      Kind
	NonceRetried bool
}

// Dispatcher orchestrates build → sign → broadcast for one chain. It
// serializes signing attempts per sender address: the nonce-fetch-then-
// sign window is a read-then-act race, so a per-address lock is held
// from Building through Broadcasting.
type Dispatcher struct {
	chain    ChainClient
	builder  *Builder
	recorder Recorder
	logger   log.Logger

	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(chain ChainClient, builder *Builder, recorder Recorder, logger log.Logger) *Dispatcher {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Dispatcher{
		chain:    chain,
		builder:  builder,
		recorder: recorder,
		logger:   logger.WithName("dispatcher"),
		locks:    make(map[common.Address]*sync.Mutex),
	}
}

// Send turns a (recipient, amount) intent into a broadcast transaction
// signed by the given backend.
//
// Input validation happens before any I/O. Nonce and fee data are
// fetched as late as possible, immediately before hashing, and a fresh
// UnsignedTx is built for every attempt. A broadcast rejected for a
// nonce conflict is retried exactly once with re-fetched nonce and fee;
// every other failure is terminal. Cancelling ctx before broadcast
// abandons the send with no side effects; once the transaction has been
// submitted the network has it and cancellation is no longer possible.
func (d *Dispatcher) Send(ctx context.Context, backend Backend, account *Account, to, amount string) (*SendResult, error) {
	if err := d.builder.Validate(to, amount); err != nil {
		d.recorder.RecordSend(backend.Kind(), "invalid_input")
		return nil, err
	}

	lock := d.lockFor(account.Address)
	lock.Lock()
	defer lock.Unlock()

	logger := d.logger.WithKV("from", account.Address.Hex(), "to", to, "backend", backend.Kind().String())

	result, err := d.send(ctx, backend, account, to, amount, logger)
	if err != nil {
		logger.Error("send failed", "error", err)
		d.recorder.RecordSend(backend.Kind(), outcomeLabel(err))
		return nil, err
	}
	d.recorder.RecordSend(backend.Kind(), "sent")
	return result, nil
}

func (d *Dispatcher) send(ctx context.Context, backend Backend, account *Account, to, amount string, logger log.Logger) (*SendResult, error) {
	const retryBudget = 1

	for attempt := 0; ; attempt++ {
		// Building: nonce and fee are read here, under the per-address
		// lock, so they are as fresh as possible when the hash is taken.
		unsigned, err := d.buildAttempt(ctx, account, to, amount)
		if err != nil {
			return nil, err
		}
		logger.Debug("transaction built",
			"nonce", unsigned.Nonce, "gasPrice", unsigned.GasPrice.String(), "gasLimit", unsigned.GasLimit, "attempt", attempt)

		// Signing.
		res, err := backend.SignTransaction(ctx, unsigned)
		if err != nil {
			if errors.Is(err, ErrSignatureVerification) {
				d.recorder.RecordSignatureFailure()
			}
			return nil, err
		}
		if res.RemoteBroadcast {
			// The remote wallet already broadcast; nothing local to do.
			return &SendResult{TxHash: res.TxHash, Backend: backend.Kind()}, nil
		}

		// Broadcasting. Last cancellation point: past SendTransaction
		// the network owns the transaction.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err = d.chain.SendTransaction(ctx, res.Signed.Tx)
		if err == nil {
			logger.Info("transaction broadcast",
				"txHash", res.Signed.Hash.Hex(), "nonce", unsigned.Nonce, "retried", attempt > 0)
			return &SendResult{
				TxHash:       res.Signed.Hash,
				Backend:      backend.Kind(),
				NonceRetried: attempt > 0,
			}, nil
		}

		if !IsNonceConflict(err) {
			return nil, fmt.Errorf("%w: %v", ErrBroadcastRejected, err)
		}
		if attempt >= retryBudget {
			return nil, fmt.Errorf("%w: %w persisted after retry: %v", ErrBroadcastRejected, ErrNonceConflict, err)
		}
		d.recorder.RecordNonceRetry()
		logger.Warn("nonce conflict, rebuilding transaction", "nonce", unsigned.Nonce, "error", err)
	}
}

// buildAttempt fetches fresh nonce and fee data and constructs a new
// UnsignedTx. Records from a failed attempt are never reused.
func (d *Dispatcher) buildAttempt(ctx context.Context, account *Account, to, amount string) (*UnsignedTx, error) {
	nonce, err := d.chain.PendingNonceAt(ctx, account.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := d.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}

	// The amount is validated before this point, so a throwaway build is
	// safe for shaping the gas estimation call.
	probe, err := d.builder.Build(to, amount, nonce, gasPrice, 1)
	if err != nil {
		return nil, err
	}
	gasLimit, err := d.chain.EstimateGas(ctx, ethereum.CallMsg{
		From:     account.Address,
		To:       &probe.To,
		Value:    probe.Value,
		GasPrice: gasPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("gas estimation failed: %w", err)
	}
	return d.builder.Build(to, amount, nonce, gasPrice, gasLimit)
}

// AwaitConfirmation polls for a receipt until the transaction has been
// mined. Confirmation is advisory: a send is complete once broadcast
// succeeds, and callers poll only when they want inclusion feedback.
func (d *Dispatcher) AwaitConfirmation(ctx context.Context, txHash common.Hash, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := d.chain.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == 0 {
				return fmt.Errorf("transaction %s reverted", txHash.Hex())
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) lockFor(addr common.Address) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[addr]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[addr] = lock
	}
	return lock
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrNonceConflict):
		return "nonce_conflict"
	case errors.Is(err, ErrBroadcastRejected):
		return "broadcast_rejected"
	case errors.Is(err, ErrSignatureVerification):
		return "signature_verification_failed"
	case errors.Is(err, ErrSignerUnavailable):
		return "signer_unavailable"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
