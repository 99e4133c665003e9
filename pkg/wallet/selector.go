package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"

	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/sign"
)

// Selector detects which backend currently holds a usable key and routes
// wallet-level operations to it. Detection order is fixed (hardware,
// then software, then external) and the first backend reporting a
// located account wins for the session. Switching backends re-runs
// detection rather than mutating the previous account in place.
type Selector struct {
	backends   []Backend
	chain      ChainClient
	builder    *Builder
	dispatcher *Dispatcher
	decimals   int32
	logger     log.Logger

	mu      sync.Mutex
	active  Backend
	account *Account
}

// SelectorConfig wires a Selector.
type SelectorConfig struct {
	Chain      ChainClient
	Builder    *Builder
	Dispatcher *Dispatcher
	// Decimals is the chain-native token precision for presentation.
	Decimals int32
	// Backends in detection priority order.
	Backends []Backend
}

// NewSelector creates a Selector.
func NewSelector(cfg SelectorConfig, logger log.Logger) *Selector {
	decimals := cfg.Decimals
	if decimals == 0 {
		decimals = 18
	}
	return &Selector{
		backends:   cfg.Backends,
		chain:      cfg.Chain,
		builder:    cfg.Builder,
		dispatcher: cfg.Dispatcher,
		decimals:   decimals,
		logger:     logger.WithName("selector"),
	}
}

// NewDefaultBackendOrder returns the fixed detection order.
func NewDefaultBackendOrder(hardware, software, external Backend) []Backend {
	return []Backend{hardware, software, external}
}

// GetActiveAccount returns the session's active account, running
// detection if none is cached. It returns nil when no backend holds a
// key.
func (s *Selector) GetActiveAccount(ctx context.Context) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectLocked(ctx, false)
}

// Refresh drops the cached account and re-runs detection.
func (s *Selector) Refresh(ctx context.Context) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectLocked(ctx, true)
}

func (s *Selector) detectLocked(ctx context.Context, force bool) (*Account, error) {
	if s.account != nil && !force {
		return s.account, nil
	}
	s.active, s.account = nil, nil

	for _, backend := range s.backends {
		account, err := backend.Locate(ctx)
		if err != nil {
			return nil, err
		}
		if account != nil {
			s.logger.Info("active wallet detected",
				"backend", backend.Kind().String(), "address", account.Address.Hex())
			s.active = backend
			s.account = account
			return account, nil
		}
	}
	return nil, nil
}

// CreateWallet creates key material on the backend of the given kind and
// re-runs detection, so a newly created lower-priority wallet does not
// displace an existing higher-priority one.
func (s *Selector) CreateWallet(ctx context.Context, kind Kind, opts CreateOptions) (*Account, error) {
	backend := s.backendOf(kind)
	if backend == nil {
		return nil, fmt.Errorf("%w: unsupported backend kind %s", ErrInvalidInput, kind)
	}
	created, err := backend.Create(ctx, opts)
	if err != nil {
		return nil, err
	}
	if _, err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// Balance reads the active account's balance in whole chain units.
func (s *Selector) Balance(ctx context.Context) (decimal.Decimal, error) {
	account, err := s.requireActiveAccount(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := s.chain.BalanceAt(ctx, account.Address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance query failed: %w", err)
	}
	return decimal.NewFromBigInt(wei, -s.decimals), nil
}

// EstimateFee projects the network fee for a transfer, in whole chain
// units. It validates the intent first so malformed input fails the same
// way Send would.
func (s *Selector) EstimateFee(ctx context.Context, to, amount string) (decimal.Decimal, error) {
	if err := s.builder.Validate(to, amount); err != nil {
		return decimal.Zero, err
	}
	account, err := s.requireActiveAccount(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	gasPrice, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	unsigned, err := s.builder.Build(to, amount, 0, gasPrice, 1)
	if err != nil {
		return decimal.Zero, err
	}
	gasLimit, err := s.chain.EstimateGas(ctx, callMsgFor(account, unsigned))
	if err != nil {
		return decimal.Zero, fmt.Errorf("gas estimation failed: %w", err)
	}
	feeWei := decimal.NewFromBigInt(gasPrice, 0).Mul(decimal.NewFromUint64(gasLimit))
	return feeWei.Shift(-s.decimals), nil
}

// Send dispatches a transfer through the active backend.
func (s *Selector) Send(ctx context.Context, to, amount string) (*SendResult, error) {
	backend, account, err := s.requireActive(ctx)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.Send(ctx, backend, account, to, amount)
}

// SignMessage signs an EIP-191 personal message with the active backend.
func (s *Selector) SignMessage(ctx context.Context, message []byte) (sign.Signature, error) {
	backend, _, err := s.requireActive(ctx)
	if err != nil {
		return nil, err
	}
	return backend.SignMessage(ctx, message)
}

// DeleteActiveWallet destroys the active backend's key material and
// re-runs detection, which may surface a lower-priority wallet.
func (s *Selector) DeleteActiveWallet(ctx context.Context) error {
	backend, _, err := s.requireActive(ctx)
	if err != nil {
		return err
	}
	if err := backend.Delete(ctx); err != nil {
		return err
	}
	_, err = s.Refresh(ctx)
	return err
}

func (s *Selector) requireActive(ctx context.Context) (Backend, *Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, err := s.detectLocked(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	if account == nil {
		return nil, nil, ErrNoWallet
	}
	return s.active, account, nil
}

func (s *Selector) requireActiveAccount(ctx context.Context) (*Account, error) {
	_, account, err := s.requireActive(ctx)
	return account, err
}

func (s *Selector) backendOf(kind Kind) Backend {
	for _, backend := range s.backends {
		if backend.Kind() == kind {
			return backend
		}
	}
	return nil
}

func callMsgFor(account *Account, tx *UnsignedTx) ethereum.CallMsg {
	return ethereum.CallMsg{
		From:     account.Address,
		To:       &tx.To,
		Value:    tx.Value,
		GasPrice: tx.GasPrice,
	}
}
