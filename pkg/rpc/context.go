package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/keyfold/walletd/pkg/sign"
)

// Handler processes one request. Handlers form a chain: middleware calls
// ctx.Next() to pass control on, terminal handlers set the response with
// ctx.Succeed or ctx.Fail.
type Handler func(c *Context)

// SendResponseFunc pushes a server-initiated notification down one
// connection.
type SendResponseFunc func(method string, params Params)

// Context carries one request through its handler chain. It embeds the
// connection's context.Context for cancellation and deadline propagation.
type Context struct {
	context.Context

	// UserID is the authenticated identity of the connection, empty
	// until authentication succeeds. A handler that authenticates the
	// connection updates it; the node applies the change after the
	// chain finishes.
	UserID string
	// Signer signs the outgoing response.
	Signer sign.Signer
	// Request is the incoming message.
	Request Request
	// Response is set by Succeed or Fail.
	Response Response
	// Storage is shared across all requests on the same connection.
	Storage *SafeStorage

	handlers []Handler
}

// Next invokes the next handler in the chain, if any. A middleware that
// does not call Next stops the chain.
func (c *Context) Next() {
	if len(c.handlers) == 0 {
		return
	}
	next := c.handlers[0]
	c.handlers = c.handlers[1:]
	next(c)
}

// Succeed sets a successful response reusing the request's ID.
func (c *Context) Succeed(method string, params Params) {
	c.Response = NewResponse(NewPayload(c.Request.Req.RequestID, method, params))
}

// Fail sets an error response. If err is a client-facing rpc.Error its
// message is sent verbatim; otherwise fallbackMessage is used so
// internal error details stay on the server.
func (c *Context) Fail(err error, fallbackMessage string) {
	message := fallbackMessage
	var rpcErr Error
	if errors.As(err, &rpcErr) {
		message = rpcErr.Error()
	}
	if message == "" {
		message = defaultNodeErrorMessage
	}
	c.Response = NewErrorResponse(c.Request.Req.RequestID, message)
}

// GetRawResponse signs the response payload and returns the wire bytes.
func (c *Context) GetRawResponse() ([]byte, error) {
	return prepareRawResponse(c.Signer, c.Response.Res)
}

// prepareRawResponse signs a payload and marshals the enclosing
// response message.
func prepareRawResponse(signer sign.Signer, payload Payload) ([]byte, error) {
	hash, err := payload.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(hash)
	if err != nil {
		return nil, err
	}
	res := NewResponse(payload, sig)
	return json.Marshal(res)
}

// SafeStorage is a concurrency-safe key-value store scoped to one
// connection, letting middleware stash state between requests.
type SafeStorage struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewSafeStorage creates an empty SafeStorage.
func NewSafeStorage() *SafeStorage {
	return &SafeStorage{data: make(map[string]any)}
}

// Set stores a value under key.
func (s *SafeStorage) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Get returns the value under key and whether it exists.
func (s *SafeStorage) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	return value, ok
}
