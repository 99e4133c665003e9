package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/wallet"
)

const reconcileReceiptTimeout = 15 * time.Second

// runReconcileCli re-checks every pending history entry against the
// chain and settles its final status. Pending entries accumulate when
// the node shuts down mid-confirmation.
// Example: walletd reconcile
func runReconcileCli(logger log.Logger) {
	logger = logger.WithName("reconcile")

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf, logger)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}
	store := NewStore(db)

	client, err := wallet.DialChain(context.Background(), config.chain.RPCURL)
	if err != nil {
		logger.Fatal("Failed to connect to chain RPC", "chain", config.chain.Name, "error", err)
	}

	var sender string
	if len(os.Args) > 2 {
		sender = os.Args[2]
	}

	pending, err := store.GetTransactions(context.Background(), sender, TxStatusPending, 0)
	if err != nil {
		logger.Fatal("Failed to load pending transactions", "error", err)
	}
	if len(pending) == 0 {
		logger.Info("No pending transactions to reconcile")
		return
	}

	settled := 0
	for _, record := range pending {
		status, ok := resolveReceipt(client, record.TxHash, logger)
		if !ok {
			continue
		}
		if err := store.UpdateTransactionStatus(context.Background(), record.TxHash, status); err != nil {
			logger.Error("Failed to update transaction status",
				"txHash", record.TxHash, "status", status, "error", err)
			continue
		}
		logger.Info("Reconciled transaction", "txHash", record.TxHash, "status", status)
		settled++
	}
	logger.Info("Reconciliation complete", "pending", len(pending), "settled", settled)
}

// resolveReceipt maps a receipt lookup to a final status. A transaction
// still absent from the chain stays pending.
func resolveReceipt(client wallet.ChainClient, txHash string, logger log.Logger) (TxStatus, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileReceiptTimeout)
	defer cancel()

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return "", false
	}
	if err != nil {
		logger.Error("Failed to fetch receipt", "txHash", txHash, "error", err)
		return "", false
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		return TxStatusConfirmed, true
	}
	return TxStatusFailed, true
}
