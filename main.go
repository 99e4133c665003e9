package main

import (
	"context"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyfold/walletd/pkg/keycrypt"
	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/rpc"
	"github.com/keyfold/walletd/pkg/sign"
	"github.com/keyfold/walletd/pkg/wallet"
)

func main() {
	logger := log.NewZapLogger(log.Config{}).WithName("root")
	if len(os.Args) > 1 {
		// If a CLI command is provided, run it and exit
		runCli(logger, os.Args[1])
		return
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	logger = log.NewZapLogger(config.Log).WithName("root")

	db, err := ConnectToDB(config.dbConf, logger)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}
	store := NewStore(db)

	nodeKey, err := ethcrypto.HexToECDSA(config.NodePrivateKey)
	if err != nil {
		logger.Fatal("failed to parse node private key", "error", err)
	}
	signer := sign.NewEthereumSignerFromKey(nodeKey)
	logger.Info("node signer initialized", "address", signer.PublicKey().Address().String())

	metrics := NewMetrics()

	authManager, err := NewAuthManager(nodeKey)
	if err != nil {
		logger.Fatal("failed to initialize auth manager", "error", err)
	}

	chainID := big.NewInt(config.chain.ChainID)
	chainClient, err := wallet.DialChain(context.Background(), config.chain.RPCURL)
	if err != nil {
		logger.Fatal("failed to connect to chain RPC", "chain", config.chain.Name, "error", err)
	}

	builder := wallet.NewBuilder(wallet.BuilderConfig{
		ChainID:     chainID,
		Decimals:    config.chain.Decimals,
		SendCeiling: config.chain.SendCeilingDecimal(),
	})
	dispatcher := wallet.NewDispatcher(chainClient, builder, metrics, logger)
	reconciler := wallet.NewReconciler(chainID, logger)

	hardware := wallet.NewHardwareBackend(UnavailableSecureElement{}, reconciler, logger)
	software := wallet.NewSoftwareBackend(
		store, keycrypt.NewCipher(), []byte(config.KeystorePassphrase), chainID, logger)

	var external *wallet.ExternalBackend
	if config.PairingURL != "" {
		session := NewDialerPairingSession(
			rpc.NewWebsocketDialer(rpc.DefaultWebsocketDialerConfig), config.PairingURL, logger)
		if err := session.Connect(context.Background()); err != nil {
			logger.Warn("external wallet pairing failed, continuing without it",
				"url", config.PairingURL, "error", err)
		}
		external = wallet.NewExternalBackend(session, logger)
	} else {
		external = wallet.NewExternalBackend(UnpairedSession{}, logger)
	}

	selector := wallet.NewSelector(wallet.SelectorConfig{
		Chain:      chainClient,
		Builder:    builder,
		Dispatcher: dispatcher,
		Decimals:   config.chain.Decimals,
		Backends:   wallet.NewDefaultBackendOrder(hardware, software, external),
	}, logger)

	rpcNode, err := rpc.NewWebsocketNode(rpc.WebsocketNodeConfig{
		Signer: signer,
		Logger: logger,
		OnConnectHandler: func(send rpc.SendResponseFunc) {
			metrics.ConnectedClients.Inc()
			metrics.ConnectionsTotal.Inc()
		},
		OnDisconnectHandler: func(userID string) {
			metrics.ConnectedClients.Dec()
		},
		OnMessageSentHandler: func([]byte) {
			metrics.MessageSent.Inc()
		},
	})
	if err != nil {
		logger.Fatal("failed to initialize RPC node", "error", err)
	}

	NewWalletRouter(rpcNode, selector, dispatcher, store, authManager, metrics, logger)

	rpcListenEndpoint := "/ws"
	metricsEndpoint := "/metrics"
	mux := http.NewServeMux()
	mux.Handle(rpcListenEndpoint, rpcNode)
	mux.Handle(metricsEndpoint, promhttp.Handler())

	server := &http.Server{
		Addr:    config.ListenAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("RPC server available",
			"listenAddr", config.ListenAddr, "endpoint", rpcListenEndpoint,
			"chain", config.chain.Name, "chainID", config.chain.ChainID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("RPC server failure", "error", err)
		}
	}()

	// Wait for shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down RPC server", "error", err)
	}

	logger.Info("shutdown complete")
}

func runCli(logger log.Logger, name string) {
	switch name {
	case "reconcile":
		runReconcileCli(logger)
	case "export-transactions":
		runExportTransactionsCli(logger)
	default:
		logger.Fatal("Unknown CLI command", "name", name)
	}
}
