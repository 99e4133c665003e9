package wallet

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/keyfold/walletd/pkg/sign"
)

// DefaultSendCeiling caps a single transfer at 1000 whole units as a
// fat-finger guard. Chains override it in configuration.
var DefaultSendCeiling = decimal.NewFromInt(1000)

// BuilderConfig parameterizes the transaction builder for one chain.
type BuilderConfig struct {
	ChainID *big.Int
	// Decimals is the chain-native token precision (18 for ether).
	Decimals int32
	// SendCeiling is the per-transfer maximum in whole units. Zero means
	// DefaultSendCeiling.
	SendCeiling decimal.Decimal
}

// Builder assembles unsigned legacy transactions from user intent plus
// externally supplied nonce and fee data. It is pure: no I/O, no retries.
// The caller is responsible for supplying fresh nonce and fee values.
type Builder struct {
	chainID  *big.Int
	decimals int32
	ceiling  decimal.Decimal
}

// NewBuilder creates a Builder for the given chain.
func NewBuilder(cfg BuilderConfig) *Builder {
	ceiling := cfg.SendCeiling
	if ceiling.IsZero() {
		ceiling = DefaultSendCeiling
	}
	decimals := cfg.Decimals
	if decimals == 0 {
		decimals = 18
	}
	return &Builder{
		chainID:  new(big.Int).Set(cfg.ChainID),
		decimals: decimals,
		ceiling:  ceiling,
	}
}

// ChainID returns the chain this builder targets.
func (b *Builder) ChainID() *big.Int { return new(big.Int).Set(b.chainID) }

// Validate checks the recipient and amount without performing any I/O,
// so malformed input is rejected before a nonce or fee is ever fetched.
func (b *Builder) Validate(to, amount string) error {
	if _, _, err := b.parse(to, amount); err != nil {
		return err
	}
	return nil
}

// Build constructs an immutable UnsignedTx. The amount is a decimal
// string in whole chain-native units and is converted to an integer in
// minor units; sub-minor precision is rejected rather than truncated.
func (b *Builder) Build(to, amount string, nonce uint64, gasPrice *big.Int, gasLimit uint64) (*UnsignedTx, error) {
	recipient, value, err := b.parse(to, amount)
	if err != nil {
		return nil, err
	}
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: gas price must be positive", ErrInvalidInput)
	}
	if gasLimit == 0 {
		return nil, fmt.Errorf("%w: gas limit must be positive", ErrInvalidInput)
	}
	return &UnsignedTx{
		To:       recipient,
		Value:    value,
		Nonce:    nonce,
		GasLimit: gasLimit,
		GasPrice: new(big.Int).Set(gasPrice),
		Data:     nil,
		ChainID:  new(big.Int).Set(b.chainID),
	}, nil
}

func (b *Builder) parse(to, amount string) (common.Address, *big.Int, error) {
	if !sign.IsHexAddress(to) {
		return common.Address{}, nil, fmt.Errorf("%w: malformed recipient address %q", ErrInvalidInput, to)
	}

	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: unparseable amount %q", ErrInvalidInput, amount)
	}
	if !amt.IsPositive() {
		return common.Address{}, nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if amt.GreaterThan(b.ceiling) {
		return common.Address{}, nil, fmt.Errorf("%w: amount %s exceeds the %s-unit send ceiling", ErrInvalidInput, amt, b.ceiling)
	}

	minor := amt.Shift(b.decimals)
	if !minor.IsInteger() {
		return common.Address{}, nil, fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidInput, amt, b.decimals)
	}
	return common.HexToAddress(to), minor.BigInt(), nil
}
