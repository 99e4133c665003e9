package main

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/walletd/pkg/keycrypt"
	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/rpc"
	"github.com/keyfold/walletd/pkg/sign"
	"github.com/keyfold/walletd/pkg/wallet"
)

// fakeChain is a scripted wallet.ChainClient for handler tests.
type fakeChain struct {
	mu       sync.Mutex
	balance  *big.Int
	gasPrice *big.Int
	gasLimit uint64
	nonce    uint64
	sent     []*types.Transaction
	sendErr  error
	receipts map[common.Hash]*types.Receipt
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balance:  new(big.Int).Mul(big.NewInt(25), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)), // 2.5 units
		gasPrice: big.NewInt(2_000_000_000),
		gasLimit: 21000,
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (c *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce, nil
}

func (c *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeChain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return c.gasLimit, nil
}

func (c *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, tx)
	c.nonce++
	c.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	return nil
}

func (c *fakeChain) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return new(big.Int).Set(c.balance), nil
}

func (c *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func newTestRouter(t *testing.T) (*WalletRouter, *Store, *fakeChain) {
	t.Helper()

	db, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)
	store := NewStore(db)

	logger := log.NewNoopLogger()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := sign.NewEthereumSignerFromKey(key)

	authManager, err := NewAuthManager(key)
	require.NoError(t, err)

	metrics := NewMetricsWithRegistry(prometheus.NewRegistry())
	chain := newFakeChain()

	chainID := big.NewInt(11155111)
	builder := wallet.NewBuilder(wallet.BuilderConfig{ChainID: chainID})
	dispatcher := wallet.NewDispatcher(chain, builder, metrics, logger)
	reconciler := wallet.NewReconciler(chainID, logger)

	hardware := wallet.NewHardwareBackend(UnavailableSecureElement{}, reconciler, logger)
	software := wallet.NewSoftwareBackend(store, keycrypt.NewLightCipher(), []byte("test-passphrase"), chainID, logger)
	external := wallet.NewExternalBackend(UnpairedSession{}, logger)

	selector := wallet.NewSelector(wallet.SelectorConfig{
		Chain:      chain,
		Builder:    builder,
		Dispatcher: dispatcher,
		Backends:   wallet.NewDefaultBackendOrder(hardware, software, external),
	}, logger)

	node, err := rpc.NewWebsocketNode(rpc.WebsocketNodeConfig{Signer: signer, Logger: logger})
	require.NoError(t, err)

	router := NewWalletRouter(node, selector, dispatcher, store, authManager, metrics, logger)
	return router, store, chain
}

// newHandlerContext builds a request context the way the node does
// before running a handler chain.
func newHandlerContext(t *testing.T, method string, params any, userID string) *rpc.Context {
	t.Helper()
	reqParams, err := rpc.NewParams(params)
	require.NoError(t, err)
	return &rpc.Context{
		Context: context.Background(),
		UserID:  userID,
		Request: rpc.NewRequest(rpc.NewPayload(1, method, reqParams)),
		Storage: rpc.NewSafeStorage(),
	}
}

func requireSuccess(t *testing.T, c *rpc.Context, result any) {
	t.Helper()
	require.NotEqual(t, rpc.ErrorMethod.String(), c.Response.Res.Method,
		"handler failed: %v", c.Response.Res.Params.Error())
	if result != nil {
		require.NoError(t, c.Response.Res.Params.Translate(result))
	}
}

func requireFailure(t *testing.T, c *rpc.Context) error {
	t.Helper()
	require.Equal(t, rpc.ErrorMethod.String(), c.Response.Res.Method)
	return c.Response.Res.Params.Error()
}

func TestWalletRouterAuthFlow(t *testing.T) {
	router, _, _ := newTestRouter(t)

	clientKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	clientSigner := sign.NewEthereumSignerFromKey(clientKey)
	clientAddress := crypto.PubkeyToAddress(clientKey.PublicKey).Hex()

	// Request a challenge
	c := newHandlerContext(t, "auth_request", AuthRequestParams{
		Address:     clientAddress,
		Application: "test_app",
	}, "")
	router.HandleAuthRequest(c)

	var challengeRes AuthRequestResponse
	requireSuccess(t, c, &challengeRes)
	token, err := uuid.Parse(challengeRes.ChallengeToken)
	require.NoError(t, err)
	require.NotEqual(t, uuid.UUID{}, token)

	// Complete it with a request signed by the challenged key
	verifyParams, err := rpc.NewParams(AuthVerifyParams{ChallengeToken: challengeRes.ChallengeToken})
	require.NoError(t, err)
	payload := rpc.NewPayload(2, "auth_verify", verifyParams)
	hash, err := payload.Hash()
	require.NoError(t, err)
	sig, err := clientSigner.Sign(hash)
	require.NoError(t, err)

	verifyCtx := &rpc.Context{
		Context: context.Background(),
		Request: rpc.NewRequest(payload, sig),
		Storage: rpc.NewSafeStorage(),
	}
	router.HandleAuthVerify(verifyCtx)

	var verified AuthVerifyResponse
	requireSuccess(t, verifyCtx, &verified)
	assert.Equal(t, clientAddress, verified.Address)
	assert.NotEmpty(t, verified.JwtToken)
	assert.Equal(t, clientAddress, verifyCtx.UserID)
	assert.True(t, router.Auth.ValidateSession(clientAddress))

	// The issued token re-authenticates a fresh connection
	jwtCtx := newHandlerContext(t, "auth_jwt", AuthJWTParams{JwtToken: verified.JwtToken}, "")
	router.HandleAuthJWT(jwtCtx)

	var reAuth AuthVerifyResponse
	requireSuccess(t, jwtCtx, &reAuth)
	assert.Equal(t, clientAddress, reAuth.Address)
	assert.Equal(t, clientAddress, jwtCtx.UserID)
}

func TestWalletRouterAuthVerifyRejectsWrongSigner(t *testing.T) {
	router, _, _ := newTestRouter(t)

	challengedKey, _ := crypto.GenerateKey()
	challengedAddress := crypto.PubkeyToAddress(challengedKey.PublicKey).Hex()
	token, err := router.Auth.GenerateChallenge(challengedAddress, "test_app")
	require.NoError(t, err)

	// Signed by a different key than the challenge was issued for
	otherKey, _ := crypto.GenerateKey()
	otherSigner := sign.NewEthereumSignerFromKey(otherKey)

	verifyParams, err := rpc.NewParams(AuthVerifyParams{ChallengeToken: token.String()})
	require.NoError(t, err)
	payload := rpc.NewPayload(1, "auth_verify", verifyParams)
	hash, err := payload.Hash()
	require.NoError(t, err)
	sig, err := otherSigner.Sign(hash)
	require.NoError(t, err)

	c := &rpc.Context{
		Context: context.Background(),
		Request: rpc.NewRequest(payload, sig),
		Storage: rpc.NewSafeStorage(),
	}
	router.HandleAuthVerify(c)

	err = requireFailure(t, c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "challenge verification failed")
	assert.Empty(t, c.UserID)
}

func TestWalletRouterRequireAuth(t *testing.T) {
	router, _, _ := newTestRouter(t)

	c := newHandlerContext(t, "get_balance", nil, "")
	router.requireAuth(c)
	err := requireFailure(t, c)
	assert.EqualError(t, err, "authentication required")

	// Authenticated but with no registered session
	c = newHandlerContext(t, "get_balance", nil, "0x1234567890123456789012345678901234567890")
	router.requireAuth(c)
	err = requireFailure(t, c)
	assert.EqualError(t, err, "session expired")
}

func TestWalletRouterWalletLifecycle(t *testing.T) {
	router, store, chain := newTestRouter(t)
	userID := "0x1234567890123456789012345678901234567890"

	// No wallet exists yet
	c := newHandlerContext(t, "get_active_account", nil, userID)
	router.HandleGetActiveAccount(c)
	var accountRes struct {
		Account *AccountResponse `json:"account"`
	}
	requireSuccess(t, c, &accountRes)
	assert.Nil(t, accountRes.Account)

	// Create a software wallet
	c = newHandlerContext(t, "create_wallet", CreateWalletParams{Kind: "software"}, userID)
	router.HandleCreateWallet(c)
	var created AccountResponse
	requireSuccess(t, c, &created)
	assert.Equal(t, "software", created.Kind)
	assert.True(t, common.IsHexAddress(created.Address))

	// Detection now reports it as the active account
	c = newHandlerContext(t, "get_active_account", nil, userID)
	router.HandleGetActiveAccount(c)
	requireSuccess(t, c, &accountRes)
	require.NotNil(t, accountRes.Account)
	assert.Equal(t, created.Address, accountRes.Account.Address)

	// A second wallet on the same backend is rejected
	c = newHandlerContext(t, "create_wallet", CreateWalletParams{Kind: "software"}, userID)
	router.HandleCreateWallet(c)
	err := requireFailure(t, c)
	require.Error(t, err)

	// Balance in whole units
	c = newHandlerContext(t, "get_balance", nil, userID)
	router.HandleGetBalance(c)
	var balance BalanceResponse
	requireSuccess(t, c, &balance)
	assert.Equal(t, "2.5", balance.Balance)

	// Fee projection: gasPrice * gasLimit shifted to whole units
	recipient := "0x0987654321098765432109876543210987654321"
	c = newHandlerContext(t, "estimate_fee", TransferParams{To: recipient, Amount: "0.5"}, userID)
	router.HandleEstimateFee(c)
	var fee EstimateFeeResponse
	requireSuccess(t, c, &fee)
	assert.Equal(t, "0.000042", fee.Fee)

	// Message signing
	c = newHandlerContext(t, "sign_message", SignMessageParams{Message: "hello"}, userID)
	router.HandleSignMessage(c)
	var signed SignMessageResponse
	requireSuccess(t, c, &signed)
	assert.Regexp(t, "^0x[0-9a-f]{130}$", signed.Signature)

	// Delete and verify detection reports nothing
	c = newHandlerContext(t, "delete_wallet", nil, userID)
	router.HandleDeleteWallet(c)
	var deleted struct {
		Deleted bool `json:"deleted"`
	}
	requireSuccess(t, c, &deleted)
	assert.True(t, deleted.Deleted)

	c = newHandlerContext(t, "get_active_account", nil, userID)
	router.HandleGetActiveAccount(c)
	requireSuccess(t, c, &accountRes)
	assert.Nil(t, accountRes.Account)

	// No stray history entries were written along the way
	records, err2 := store.GetTransactions(context.Background(), "", "", 0)
	require.NoError(t, err2)
	assert.Empty(t, records)
	assert.Empty(t, chain.sent)
}

func TestWalletRouterSend(t *testing.T) {
	router, store, chain := newTestRouter(t)
	userID := "0x1234567890123456789012345678901234567890"

	c := newHandlerContext(t, "create_wallet", CreateWalletParams{Kind: "software"}, userID)
	router.HandleCreateWallet(c)
	var created AccountResponse
	requireSuccess(t, c, &created)

	recipient := "0x0987654321098765432109876543210987654321"
	c = newHandlerContext(t, "send", TransferParams{To: recipient, Amount: "0.5"}, userID)
	router.HandleSend(c)
	var sent SendResponse
	requireSuccess(t, c, &sent)
	assert.Equal(t, "software", sent.Backend)
	assert.False(t, sent.NonceRetried)
	assert.NotEmpty(t, sent.TxHash)

	chain.mu.Lock()
	require.Len(t, chain.sent, 1)
	assert.Equal(t, sent.TxHash, chain.sent[0].Hash().Hex())
	chain.mu.Unlock()

	// Confirmation polling settles the history record in the background
	require.Eventually(t, func() bool {
		records, err := store.GetTransactions(context.Background(), created.Address, TxStatusConfirmed, 0)
		return err == nil && len(records) == 1
	}, 5*time.Second, 50*time.Millisecond)

	records, err := store.GetTransactions(context.Background(), created.Address, "", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, sent.TxHash, records[0].TxHash)
	assert.Equal(t, recipient, records[0].Recipient)
	assert.Equal(t, "0.5", records[0].Amount)

	// And the RPC surface serves the same history
	c = newHandlerContext(t, "get_transactions", GetTransactionsParams{Status: "confirmed"}, userID)
	router.HandleGetTransactions(c)
	var history GetTransactionsResponse
	requireSuccess(t, c, &history)
	require.Len(t, history.Transactions, 1)
	assert.Equal(t, sent.TxHash, history.Transactions[0].TxHash)
}

func TestWalletRouterSendValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)
	userID := "0x1234567890123456789012345678901234567890"

	// Missing recipient fails validation before touching the engine
	c := newHandlerContext(t, "send", TransferParams{Amount: "0.5"}, userID)
	router.HandleSend(c)
	err := requireFailure(t, c)
	assert.EqualError(t, err, "invalid parameters")

	// No wallet exists, so a well-formed send still fails
	c = newHandlerContext(t, "send", TransferParams{
		To:     "0x0987654321098765432109876543210987654321",
		Amount: "0.5",
	}, userID)
	router.HandleSend(c)
	err = requireFailure(t, c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no wallet found")
}

func TestWalletRouterCreateWalletRejectsUnknownKind(t *testing.T) {
	router, _, _ := newTestRouter(t)

	c := newHandlerContext(t, "create_wallet", map[string]string{"kind": "paper"}, "0xabc")
	router.HandleCreateWallet(c)
	err := requireFailure(t, c)
	require.Error(t, err)
}
