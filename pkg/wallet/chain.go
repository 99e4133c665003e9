package wallet

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainClient is the chain RPC surface the engine consumes. The
// production implementation wraps go-ethereum's ethclient; tests supply
// scripted fakes.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthChainClient adapts ethclient.Client to the ChainClient contract.
type EthChainClient struct {
	*ethclient.Client
}

// DialChain connects to a chain RPC endpoint.
func DialChain(ctx context.Context, rawURL string) (*EthChainClient, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return &EthChainClient{Client: client}, nil
}

// BalanceAt reads the latest-block balance.
func (c *EthChainClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.Client.BalanceAt(ctx, account, nil)
}

// nonceConflictMarkers are the substrings chain nodes use to reject a
// transaction whose nonce is stale or already occupied. Error bodies are
// not standardized across node implementations, so classification is
// textual.
var nonceConflictMarkers = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"already known",
	"invalid nonce",
}

// IsNonceConflict reports whether a broadcast rejection was caused by a
// nonce race, the one condition the dispatcher is allowed to retry.
func IsNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range nonceConflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
