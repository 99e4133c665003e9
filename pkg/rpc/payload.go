package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Method names a protocol-level RPC operation. Application methods are
// plain strings registered on a Node; only the built-in protocol
// methods are declared here.
type Method string

const (
	// PingMethod / PongMethod implement the keepalive exchange.
	PingMethod Method = "ping"
	PongMethod Method = "pong"
	// ErrorMethod marks a response payload that carries an error.
	ErrorMethod Method = "error"
)

// String returns the wire form of the method name.
func (m Method) String() string { return string(m) }

// Params holds a payload's named parameters as raw JSON values, so each
// handler decodes only the fields it cares about.
type Params map[string]json.RawMessage

// errorParamsKey is where error messages travel inside Params.
const errorParamsKey = "error"

// NewParams converts any JSON-object-shaped value into Params.
func NewParams(v any) (Params, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error marshalling params: %w", err)
	}

	var params Params
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("error unmarshalling params: %w", err)
	}
	return params, nil
}

// NewErrorParams builds the params object for an error response.
func NewErrorParams(errMsg string) Params {
	raw, _ := json.Marshal(errMsg)
	return Params{errorParamsKey: raw}
}

// Translate decodes the params into dst, which should be a pointer to a
// struct or map shaped like the expected parameters.
func (p Params) Translate(dst any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error marshalling params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("error unmarshalling params: %w", err)
	}
	return nil
}

// Error extracts the error message carried under the "error" key, or
// nil when the params carry none (or the value is not a string).
func (p Params) Error() error {
	raw, ok := p[errorParamsKey]
	if !ok {
		return nil
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

// Payload is the unit of exchange: a request or response body with its
// routing metadata. On the wire it is a compact four-element JSON array
//
//	[request_id, method, params, timestamp]
//
// which keeps messages small without losing readability.
type Payload struct {
	// RequestID correlates a response with its request. Notifications
	// use RequestID 0.
	RequestID uint64
	// Method is the RPC operation name.
	Method string
	// Params carries the operation's named parameters.
	Params Params
	// Timestamp is the creation time in Unix milliseconds.
	Timestamp uint64
}

// NewPayload creates a Payload stamped with the current time.
func NewPayload(requestID uint64, method string, params Params) Payload {
	return Payload{
		RequestID: requestID,
		Method:    method,
		Params:    params,
		Timestamp: uint64(time.Now().UnixMilli()),
	}
}

// MarshalJSON encodes the payload in its compact array form.
func (p Payload) MarshalJSON() ([]byte, error) {
	params := p.Params
	if params == nil {
		params = Params{}
	}
	return json.Marshal([]any{p.RequestID, p.Method, params, p.Timestamp})
}

// UnmarshalJSON decodes the compact array form, validating each element.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return fmt.Errorf("invalid RPCData: %w", err)
	}
	if len(elements) != 4 {
		return fmt.Errorf("invalid RPCData: expected 4 elements in array, got %d", len(elements))
	}

	if err := json.Unmarshal(elements[0], &p.RequestID); err != nil {
		return fmt.Errorf("invalid request_id: %w", err)
	}
	if err := json.Unmarshal(elements[1], &p.Method); err != nil {
		return fmt.Errorf("invalid method: %w", err)
	}
	if err := json.Unmarshal(elements[2], &p.Params); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	if err := json.Unmarshal(elements[3], &p.Timestamp); err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	return nil
}

// Hash returns the keccak-256 digest of the payload's wire form. This
// is the value signatures are made over.
func (p Payload) Hash() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("error marshalling payload: %w", err)
	}
	return ethcrypto.Keccak256(data), nil
}
