package rpc

import (
	"github.com/keyfold/walletd/pkg/sign"
)

// Request is an RPC request: a payload plus the signatures authorizing
// it. The wire form is:
//
//	{"req": [requestId, method, params, timestamp], "sig": [...]}
//
// Signatures are produced over the keccak-256 hash of the compactly
// encoded payload, so any party can verify who authorized the call.
type Request struct {
	// Req contains the request payload with method, parameters, and metadata.
	Req Payload `json:"req"`
	// Sig contains one or more signatures authorizing this request.
	Sig []sign.Signature `json:"sig"`
}

// NewRequest creates a Request with the given payload and optional
// signatures. With no signatures the Sig field is an empty slice,
// meaning the transport layer will sign it later.
func NewRequest(payload Payload, sig ...sign.Signature) Request {
	return Request{
		Req: payload,
		Sig: sig,
	}
}

// GetSigners recovers the addresses of all parties that signed this
// request. Handlers use the result to authorize the call.
func (r Request) GetSigners() ([]sign.Address, error) {
	return recoverPayloadSigners(r.Req, r.Sig)
}

// Response is an RPC response: a payload plus the signatures
// authenticating it. The wire form mirrors Request:
//
//	{"res": [requestId, method, params, timestamp], "sig": [...]}
//
// The response payload carries the RequestID of the originating
// request so clients can match responses to in-flight calls.
type Response struct {
	// Res contains the response payload with results or error information.
	Res Payload `json:"res"`
	// Sig contains one or more signatures authenticating this response.
	Sig []sign.Signature `json:"sig"`
}

// NewResponse creates a Response with the given payload and optional
// signatures. The payload should reuse the RequestID of the original
// request.
func NewResponse(payload Payload, sig ...sign.Signature) Response {
	return Response{
		Res: payload,
		Sig: sig,
	}
}

// GetSigners recovers the addresses of all parties that signed this
// response. Clients use the result to verify the response came from
// the node they trust.
func (r Response) GetSigners() ([]sign.Address, error) {
	return recoverPayloadSigners(r.Res, r.Sig)
}

// NewErrorResponse creates a Response carrying an error message under
// the standard "error" params key, with the ErrorMethod method so
// clients can detect failures uniformly.
func NewErrorResponse(requestID uint64, errMsg string, sig ...sign.Signature) Response {
	errParams := NewErrorParams(errMsg)
	errPayload := NewPayload(requestID, ErrorMethod.String(), errParams)
	return NewResponse(errPayload, sig...)
}

// Error returns the error carried by the response, or nil when the
// response represents a successful operation. It pairs with
// NewErrorResponse and any response built via NewErrorParams.
func (r Response) Error() error {
	if r.Res.Method != ErrorMethod.String() {
		return nil
	}

	return r.Res.Params.Error()
}

// recoverPayloadSigners recovers one address per signature from the
// payload hash. Signatures are made over the hash itself (see
// prepareRawResponse), so recovery works from the hash directly
// without re-hashing.
func recoverPayloadSigners(payload Payload, sigs []sign.Signature) ([]sign.Address, error) {
	payloadHash, err := payload.Hash()
	if err != nil {
		return nil, err
	}

	var addrs []sign.Address
	for _, s := range sigs {
		addr, err := sign.RecoverAddressFromHash(payloadHash, s)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}

	return addrs, nil
}
