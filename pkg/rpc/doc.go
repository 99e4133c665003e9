// Package rpc implements the signed message protocol walletd speaks
// with its frontends and with externally paired wallet apps.
//
// # Protocol Overview
//
// The protocol is request-response with cryptographic signatures on
// both sides:
//
//   - Requests wrap a payload and one or more signatures
//   - Responses mirror that structure with the node's signature
//   - Payloads use a compact array-based JSON encoding
//   - Every message carries a unix-millisecond timestamp
//
// A payload like
//
//	Payload{
//	    RequestID: 12345,
//	    Method: "send",
//	    Params: {"to": "0xabc", "amount": "0.5"},
//	    Timestamp: 1634567890123,
//	}
//
// encodes to
//
//	[12345, "send", {"to": "0xabc", "amount": "0.5"}, 1634567890123]
//
// Signatures are made over the keccak-256 hash of that encoding, and
// GetSigners recovers the signing addresses from it.
//
// # Error Handling
//
// Handlers distinguish client-facing errors from internal ones:
//
//	// Client-facing error: the message is sent verbatim
//	if amount.IsNegative() {
//	    return rpc.Errorf("invalid amount: cannot be negative")
//	}
//
//	// Internal error: the client sees a generic message
//	if err := store.Save(); err != nil {
//	    return fmt.Errorf("database error: %w", err)
//	}
//
// # Server
//
// WebsocketNode is a complete server: it upgrades HTTP requests,
// routes methods to handlers, runs middleware chains, signs every
// response, and can push notifications to authenticated users.
//
//	node, err := rpc.NewWebsocketNode(rpc.WebsocketNodeConfig{
//	    Signer: signer,
//	    Logger: logger,
//	})
//
//	node.Use(loggingMiddleware)
//	node.Handle("get_active_account", handleGetActiveAccount)
//
//	privateGroup := node.NewGroup("private")
//	privateGroup.Use(requireAuthMiddleware)
//	privateGroup.Handle("send", handleSend)
//
//	http.Handle("/ws", node)
//
// Handlers receive a *Context and either Succeed or Fail:
//
//	func handleGetBalance(c *rpc.Context) {
//	    var req GetBalanceRequest
//	    if err := c.Request.Req.Params.Translate(&req); err != nil {
//	        c.Fail(err, "invalid parameters")
//	        return
//	    }
//	    c.Succeed(c.Request.Req.Method, BalanceResponse{...})
//	}
//
// # Client
//
// WebsocketDialer is the client side: it dials the server, keeps the
// connection alive with periodic pings, matches responses to requests
// by RequestID, and surfaces unsolicited notifications on EventCh.
//
//	dialer := rpc.NewWebsocketDialer(rpc.DefaultWebsocketDialerConfig)
//	go dialer.Dial(ctx, "ws://localhost:8080/ws", handleClosure)
//
//	params, _ := rpc.NewParams(map[string]string{"key": "value"})
//	payload := rpc.NewPayload(1, "method_name", params)
//	request := rpc.NewRequest(payload)
//	response, err := dialer.Call(ctx, &request)
package rpc
