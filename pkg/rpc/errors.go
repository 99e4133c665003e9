package rpc

import (
	"errors"
	"fmt"
)

// Error is a client-facing RPC error. Handlers return it (via Errorf)
// when the message is safe to show to the caller; any other error type
// is replaced by a fallback message so internal details never leak.
type Error struct {
	message string
}

// Errorf creates a client-facing Error with a formatted message.
func Errorf(format string, args ...any) Error {
	return Error{message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e Error) Error() string { return e.message }

// Dialer failure sentinels, wrapped with %w and matched with errors.Is.
var (
	ErrAlreadyConnected  = errors.New("dialer is already connected")
	ErrNotConnected      = errors.New("dialer is not connected")
	ErrDialingWebsocket  = errors.New("failed to dial websocket")
	ErrConnectionTimeout = errors.New("websocket connection timeout")
	ErrReadingMessage    = errors.New("failed to read websocket message")
	ErrMarshalingRequest = errors.New("failed to marshal request")
	ErrSendingRequest    = errors.New("failed to send request")
	ErrSendingPing       = errors.New("failed to send ping")
	ErrNoResponse        = errors.New("no response received")
	ErrNilRequest        = errors.New("request cannot be nil")
)
