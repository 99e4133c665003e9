package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/rpc"
	"github.com/keyfold/walletd/pkg/wallet"
)

func getValidator() *validator.Validate {
	validate := validator.New()

	if err := validate.RegisterValidation("bigint", func(fl validator.FieldLevel) bool {
		n := new(big.Int)
		_, ok := n.SetString(fmt.Sprint(fl.Field()), 10)
		return ok
	}); err != nil {
		panic(fmt.Sprintf("failed to register bigint validation: %v", err))
	}
	return validate
}

var validate = getValidator()

const (
	balanceUpdateMethod     = "bu"
	confirmationPollPeriod  = 2 * time.Second
	confirmationPollTimeout = 5 * time.Minute
)

// WalletRouter registers the node's RPC surface and routes each method
// to the wallet engine. Public methods handle the challenge/JWT
// handshake; everything touching key material or funds sits behind the
// private group's auth middleware.
type WalletRouter struct {
	Node       *rpc.WebsocketNode
	Selector   *wallet.Selector
	Dispatcher *wallet.Dispatcher
	Store      *Store
	Auth       *AuthManager
	Metrics    *Metrics

	lg log.Logger
}

// NewWalletRouter creates the router and registers all routes on the
// node.
func NewWalletRouter(
	node *rpc.WebsocketNode,
	selector *wallet.Selector,
	dispatcher *wallet.Dispatcher,
	store *Store,
	auth *AuthManager,
	metrics *Metrics,
	logger log.Logger,
) *WalletRouter {
	r := &WalletRouter{
		Node:       node,
		Selector:   selector,
		Dispatcher: dispatcher,
		Store:      store,
		Auth:       auth,
		Metrics:    metrics,
		lg:         logger.WithName("wallet-router"),
	}
	r.registerRoutes()
	return r
}

func (r *WalletRouter) registerRoutes() {
	r.Node.Use(r.recordRequestMetrics)

	r.Node.Handle("auth_request", r.HandleAuthRequest)
	r.Node.Handle("auth_verify", r.HandleAuthVerify)
	r.Node.Handle("auth_jwt", r.HandleAuthJWT)

	private := r.Node.NewGroup("private")
	private.Use(r.requireAuth)
	private.Handle("create_wallet", r.HandleCreateWallet)
	private.Handle("get_active_account", r.HandleGetActiveAccount)
	private.Handle("get_balance", r.HandleGetBalance)
	private.Handle("estimate_fee", r.HandleEstimateFee)
	private.Handle("send", r.HandleSend)
	private.Handle("sign_message", r.HandleSignMessage)
	private.Handle("delete_wallet", r.HandleDeleteWallet)
	private.Handle("get_transactions", r.HandleGetTransactions)
}

// recordRequestMetrics counts every request and its final status.
func (r *WalletRouter) recordRequestMetrics(c *rpc.Context) {
	r.Metrics.MessageReceived.Inc()
	method := c.Request.Req.Method

	c.Next()

	status := "success"
	if c.Response.Res.Method == rpc.ErrorMethod.String() {
		status = "error"
	}
	r.Metrics.RPCRequests.WithLabelValues(method, status).Inc()
}

// requireAuth gates the private group on an authenticated connection.
func (r *WalletRouter) requireAuth(c *rpc.Context) {
	if c.UserID == "" {
		c.Fail(nil, "authentication required")
		return
	}
	if !r.Auth.ValidateSession(c.UserID) {
		c.Fail(nil, "session expired")
		return
	}
	r.Auth.UpdateSession(c.UserID)
	c.Next()
}

type AuthRequestParams struct {
	Address     string `json:"address" validate:"required"`
	Application string `json:"application"`
}

type AuthRequestResponse struct {
	ChallengeToken string `json:"challenge_token"`
}

// HandleAuthRequest issues a challenge token for an address.
func (r *WalletRouter) HandleAuthRequest(c *rpc.Context) {
	r.Metrics.AuthRequests.Inc()

	var params AuthRequestParams
	if err := c.Request.Req.Params.Translate(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}
	if err := validate.Struct(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}

	token, err := r.Auth.GenerateChallenge(params.Address, params.Application)
	if err != nil {
		c.Fail(err, "failed to generate challenge")
		return
	}

	r.respond(c, AuthRequestResponse{ChallengeToken: token.String()})
}

type AuthVerifyParams struct {
	ChallengeToken string `json:"challenge_token" validate:"required,uuid"`
}

type AuthVerifyResponse struct {
	Address  string `json:"address"`
	JwtToken string `json:"jwt_token"`
}

// HandleAuthVerify completes the handshake: the request must be signed
// by the challenged address, proven by recovering the signer from the
// request signature.
func (r *WalletRouter) HandleAuthVerify(c *rpc.Context) {
	r.Metrics.AuthAttemptsTotal.WithLabelValues("challenge").Inc()

	var params AuthVerifyParams
	if err := c.Request.Req.Params.Translate(&params); err != nil {
		r.Metrics.AuthAttempsFail.WithLabelValues("challenge").Inc()
		c.Fail(err, "invalid parameters")
		return
	}
	if err := validate.Struct(&params); err != nil {
		r.Metrics.AuthAttempsFail.WithLabelValues("challenge").Inc()
		c.Fail(err, "invalid parameters")
		return
	}

	token, err := uuid.Parse(params.ChallengeToken)
	if err != nil {
		r.Metrics.AuthAttempsFail.WithLabelValues("challenge").Inc()
		c.Fail(err, "invalid challenge token")
		return
	}

	signers, err := c.Request.GetSigners()
	if err != nil || len(signers) == 0 {
		r.Metrics.AuthAttempsFail.WithLabelValues("challenge").Inc()
		c.Fail(err, "request must be signed")
		return
	}
	signerAddress := signers[0].String()

	if err := r.Auth.ValidateChallenge(token, signerAddress); err != nil {
		r.Metrics.AuthAttempsFail.WithLabelValues("challenge").Inc()
		c.Fail(rpc.Errorf("challenge verification failed: %v", err), "")
		return
	}

	challenge, err := r.Auth.GetChallenge(token)
	if err != nil {
		r.Metrics.AuthAttempsFail.WithLabelValues("challenge").Inc()
		c.Fail(err, "challenge verification failed")
		return
	}

	_, jwtToken, err := r.Auth.GenerateJWT(signerAddress, challenge.Application)
	if err != nil {
		r.Metrics.AuthAttempsFail.WithLabelValues("challenge").Inc()
		c.Fail(err, "failed to issue session token")
		return
	}

	c.UserID = signerAddress
	r.Metrics.AuthAttempsSuccess.WithLabelValues("challenge").Inc()
	r.respond(c, AuthVerifyResponse{Address: signerAddress, JwtToken: jwtToken})
}

type AuthJWTParams struct {
	JwtToken string `json:"jwt_token" validate:"required"`
}

// HandleAuthJWT re-authenticates a connection with a previously issued
// session token.
func (r *WalletRouter) HandleAuthJWT(c *rpc.Context) {
	r.Metrics.AuthAttemptsTotal.WithLabelValues("jwt").Inc()

	var params AuthJWTParams
	if err := c.Request.Req.Params.Translate(&params); err != nil {
		r.Metrics.AuthAttempsFail.WithLabelValues("jwt").Inc()
		c.Fail(err, "invalid parameters")
		return
	}
	if err := validate.Struct(&params); err != nil {
		r.Metrics.AuthAttempsFail.WithLabelValues("jwt").Inc()
		c.Fail(err, "invalid parameters")
		return
	}

	claims, err := r.Auth.VerifyJWT(params.JwtToken)
	if err != nil {
		r.Metrics.AuthAttempsFail.WithLabelValues("jwt").Inc()
		c.Fail(rpc.Errorf("invalid session token: %v", err), "")
		return
	}

	c.UserID = claims.Policy.Wallet
	r.Metrics.AuthAttempsSuccess.WithLabelValues("jwt").Inc()
	r.respond(c, AuthVerifyResponse{Address: claims.Policy.Wallet})
}

type CreateWalletParams struct {
	Kind             string `json:"kind" validate:"required,oneof=hardware software external"`
	RequireBiometric bool   `json:"require_biometric"`
}

type AccountResponse struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
}

// HandleCreateWallet creates key material on the requested backend.
func (r *WalletRouter) HandleCreateWallet(c *rpc.Context) {
	var params CreateWalletParams
	if err := c.Request.Req.Params.Translate(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}
	if err := validate.Struct(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}

	kind, err := parseKind(params.Kind)
	if err != nil {
		c.Fail(rpc.Errorf("%v", err), "")
		return
	}

	account, err := r.Selector.CreateWallet(c.Context, kind, wallet.CreateOptions{
		RequireBiometric: params.RequireBiometric,
	})
	if err != nil {
		r.failWallet(c, err, "failed to create wallet")
		return
	}

	r.updateActiveBackendMetric(c.Context)
	r.respond(c, AccountResponse{Address: account.Address.Hex(), Kind: account.Kind.String()})
}

// HandleGetActiveAccount reports the active account, or an explicit
// null account when no backend holds a key.
func (r *WalletRouter) HandleGetActiveAccount(c *rpc.Context) {
	account, err := r.Selector.GetActiveAccount(c.Context)
	if err != nil {
		r.failWallet(c, err, "failed to detect wallet")
		return
	}
	if account == nil {
		r.Metrics.ClearActiveBackend()
		r.respond(c, struct {
			Account *AccountResponse `json:"account"`
		}{})
		return
	}

	r.Metrics.SetActiveBackend(account.Kind)
	r.respond(c, struct {
		Account *AccountResponse `json:"account"`
	}{Account: &AccountResponse{Address: account.Address.Hex(), Kind: account.Kind.String()}})
}

type BalanceResponse struct {
	Balance string `json:"balance"`
}

// HandleGetBalance reads the active account's balance in whole chain
// units.
func (r *WalletRouter) HandleGetBalance(c *rpc.Context) {
	balance, err := r.Selector.Balance(c.Context)
	if err != nil {
		r.failWallet(c, err, "failed to read balance")
		return
	}
	r.respond(c, BalanceResponse{Balance: balance.String()})
}

type TransferParams struct {
	To     string `json:"to" validate:"required"`
	Amount string `json:"amount" validate:"required"`
}

type EstimateFeeResponse struct {
	Fee string `json:"fee"`
}

// HandleEstimateFee projects the network fee for a transfer.
func (r *WalletRouter) HandleEstimateFee(c *rpc.Context) {
	var params TransferParams
	if err := c.Request.Req.Params.Translate(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}
	if err := validate.Struct(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}

	fee, err := r.Selector.EstimateFee(c.Context, params.To, params.Amount)
	if err != nil {
		r.failWallet(c, err, "failed to estimate fee")
		return
	}
	r.respond(c, EstimateFeeResponse{Fee: fee.String()})
}

type SendResponse struct {
	TxHash       string `json:"tx_hash"`
	Backend      string `json:"backend"`
	NonceRetried bool   `json:"nonce_retried"`
}

// HandleSend dispatches a transfer, records it in the history, and
// spawns confirmation polling that later notifies the user.
func (r *WalletRouter) HandleSend(c *rpc.Context) {
	var params TransferParams
	if err := c.Request.Req.Params.Translate(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}
	if err := validate.Struct(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}

	account, err := r.Selector.GetActiveAccount(c.Context)
	if err != nil {
		r.failWallet(c, err, "failed to detect wallet")
		return
	}
	if account == nil {
		r.failWallet(c, wallet.ErrNoWallet, "no active wallet")
		return
	}

	result, err := r.Selector.Send(c.Context, params.To, params.Amount)
	if err != nil {
		r.failWallet(c, err, "failed to send transaction")
		return
	}

	record := &TransactionRecord{
		TxHash:    result.TxHash.Hex(),
		Sender:    account.Address.Hex(),
		Recipient: params.To,
		Amount:    params.Amount,
		Backend:   result.Backend.String(),
		Status:    TxStatusPending,
		Metadata:  datatypes.JSON(fmt.Sprintf(`{"nonce_retried":%t}`, result.NonceRetried)),
	}
	if err := r.Store.RecordTransaction(c.Context, record); err != nil {
		r.lg.Error("failed to record transaction", "txHash", record.TxHash, "error", err)
	}

	go r.trackConfirmation(c.UserID, record.TxHash, result)

	r.respond(c, SendResponse{
		TxHash:       result.TxHash.Hex(),
		Backend:      result.Backend.String(),
		NonceRetried: result.NonceRetried,
	})
}

// trackConfirmation polls until the transaction resolves, updates the
// history record, and pushes a balance update to the user's sessions.
func (r *WalletRouter) trackConfirmation(userID, txHash string, result *wallet.SendResult) {
	ctx, cancel := context.WithTimeout(context.Background(), confirmationPollTimeout)
	defer cancel()

	status := TxStatusConfirmed
	outcome := "confirmed"
	if err := r.Dispatcher.AwaitConfirmation(ctx, result.TxHash, confirmationPollPeriod); err != nil {
		status = TxStatusFailed
		outcome = "failed"
		r.lg.Warn("transaction did not confirm", "txHash", txHash, "error", err)
	}
	r.Metrics.RecordConfirmation(outcome)

	if err := r.Store.UpdateTransactionStatus(ctx, txHash, status); err != nil {
		r.lg.Error("failed to update transaction status", "txHash", txHash, "error", err)
	}

	balance, err := r.Selector.Balance(ctx)
	if err != nil {
		r.lg.Warn("failed to read balance for notification", "error", err)
		return
	}

	params, err := rpc.NewParams(struct {
		TxHash  string `json:"tx_hash"`
		Status  string `json:"status"`
		Balance string `json:"balance"`
	}{TxHash: txHash, Status: string(status), Balance: balance.String()})
	if err != nil {
		r.lg.Error("failed to build balance update params", "error", err)
		return
	}
	r.Node.Notify(userID, balanceUpdateMethod, params)
}

type SignMessageParams struct {
	Message string `json:"message" validate:"required"`
}

type SignMessageResponse struct {
	Signature string `json:"signature"`
}

// HandleSignMessage signs an EIP-191 personal message with the active
// backend.
func (r *WalletRouter) HandleSignMessage(c *rpc.Context) {
	var params SignMessageParams
	if err := c.Request.Req.Params.Translate(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}
	if err := validate.Struct(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}

	sig, err := r.Selector.SignMessage(c.Context, []byte(params.Message))
	if err != nil {
		r.failWallet(c, err, "failed to sign message")
		return
	}
	r.respond(c, SignMessageResponse{Signature: sig.String()})
}

// HandleDeleteWallet destroys the active wallet's key material.
func (r *WalletRouter) HandleDeleteWallet(c *rpc.Context) {
	if err := r.Selector.DeleteActiveWallet(c.Context); err != nil {
		r.failWallet(c, err, "failed to delete wallet")
		return
	}
	r.updateActiveBackendMetric(c.Context)
	r.respond(c, struct {
		Deleted bool `json:"deleted"`
	}{Deleted: true})
}

type GetTransactionsParams struct {
	Status string `json:"status" validate:"omitempty,oneof=pending confirmed failed"`
	Limit  int    `json:"limit" validate:"omitempty,min=1,max=1000"`
}

type TransactionResponse struct {
	TxHash    string    `json:"tx_hash"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    string    `json:"amount"`
	Backend   string    `json:"backend"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type GetTransactionsResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
}

// HandleGetTransactions returns the active account's send history.
func (r *WalletRouter) HandleGetTransactions(c *rpc.Context) {
	var params GetTransactionsParams
	if err := c.Request.Req.Params.Translate(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}
	if err := validate.Struct(&params); err != nil {
		c.Fail(err, "invalid parameters")
		return
	}

	account, err := r.Selector.GetActiveAccount(c.Context)
	if err != nil {
		r.failWallet(c, err, "failed to detect wallet")
		return
	}
	if account == nil {
		r.failWallet(c, wallet.ErrNoWallet, "no active wallet")
		return
	}

	records, err := r.Store.GetTransactions(c.Context, account.Address.Hex(), TxStatus(params.Status), params.Limit)
	if err != nil {
		c.Fail(err, "failed to load transactions")
		return
	}

	res := GetTransactionsResponse{Transactions: make([]TransactionResponse, 0, len(records))}
	for _, record := range records {
		res.Transactions = append(res.Transactions, TransactionResponse{
			TxHash:    record.TxHash,
			Sender:    record.Sender,
			Recipient: record.Recipient,
			Amount:    record.Amount,
			Backend:   record.Backend,
			Status:    string(record.Status),
			CreatedAt: record.CreatedAt,
		})
	}
	r.respond(c, res)
}

// respond marshals a success payload, failing the request when the
// value cannot be encoded.
func (r *WalletRouter) respond(c *rpc.Context, v any) {
	params, err := rpc.NewParams(v)
	if err != nil {
		c.Fail(err, "failed to encode response")
		return
	}
	c.Succeed(c.Request.Req.Method, params)
}

// failWallet maps engine sentinels to client-facing messages; anything
// unclassified gets the generic fallback.
func (r *WalletRouter) failWallet(c *rpc.Context, err error, fallback string) {
	switch {
	case errors.Is(err, wallet.ErrInvalidInput),
		errors.Is(err, wallet.ErrNoWallet),
		errors.Is(err, wallet.ErrWalletExists),
		errors.Is(err, wallet.ErrSignerUnavailable),
		errors.Is(err, wallet.ErrBackendUnavailable),
		errors.Is(err, wallet.ErrNonceConflict),
		errors.Is(err, wallet.ErrBroadcastRejected):
		c.Fail(rpc.Errorf("%v", err), "")
	case errors.Is(err, wallet.ErrSignatureVerification):
		// Never leak signature internals to the client.
		c.Fail(err, "signature verification failed")
	default:
		c.Fail(err, fallback)
	}
}

func (r *WalletRouter) updateActiveBackendMetric(ctx context.Context) {
	account, err := r.Selector.GetActiveAccount(ctx)
	if err != nil || account == nil {
		r.Metrics.ClearActiveBackend()
		return
	}
	r.Metrics.SetActiveBackend(account.Kind)
}

func parseKind(kind string) (wallet.Kind, error) {
	switch kind {
	case "hardware":
		return wallet.KindHardware, nil
	case "software":
		return wallet.KindSoftware, nil
	case "external":
		return wallet.KindExternal, nil
	default:
		return 0, fmt.Errorf("%w: unknown backend kind %q", wallet.ErrInvalidInput, kind)
	}
}
