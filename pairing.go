package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/rpc"
	"github.com/keyfold/walletd/pkg/wallet"
)

// DialerPairingSession implements wallet.PairingSession over the RPC
// dialer: each Request becomes one signed-payload call to the paired
// wallet's WebSocket endpoint.
type DialerPairingSession struct {
	dialer rpc.Dialer
	url    string
	logger log.Logger

	requestID atomic.Uint64
	cancelMu  sync.Mutex
	cancel    context.CancelFunc
}

var _ wallet.PairingSession = (*DialerPairingSession)(nil)

// NewDialerPairingSession creates a session that will connect to the
// given pairing URL on Connect.
func NewDialerPairingSession(dialer rpc.Dialer, url string, logger log.Logger) *DialerPairingSession {
	session := &DialerPairingSession{
		dialer: dialer,
		url:    url,
		logger: logger.WithName("pairing"),
	}
	// Request IDs start above the dialer's reserved ping ID.
	session.requestID.Store(1000)
	return session
}

// Connect dials the paired wallet. It returns once the connection is
// established; the session then stays live until Disconnect or a
// transport failure.
func (s *DialerPairingSession) Connect(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)

	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()

	err := s.dialer.Dial(connCtx, s.url, func(err error) {
		if err != nil {
			s.logger.Error("pairing session closed", "error", err)
			return
		}
		s.logger.Info("pairing session closed")
	})
	if err != nil {
		cancel()
		return err
	}

	s.logger.Info("pairing session established", "url", s.url)
	return nil
}

// Connected reports whether a paired session is live.
func (s *DialerPairingSession) Connected() bool {
	return s.dialer.IsConnected()
}

// Request performs one remote call, decoding the reply params into
// result when result is non-nil.
func (s *DialerPairingSession) Request(ctx context.Context, method string, params any, result any) error {
	reqParams, err := rpc.NewParams(params)
	if err != nil {
		return err
	}

	payload := rpc.NewPayload(s.requestID.Add(1), method, reqParams)
	req := rpc.NewRequest(payload)

	res, err := s.dialer.Call(ctx, &req)
	if err != nil {
		return err
	}
	if err := res.Error(); err != nil {
		return err
	}

	if result == nil {
		return nil
	}
	return res.Res.Params.Translate(result)
}

// Disconnect tears the session down.
func (s *DialerPairingSession) Disconnect() error {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

// UnpairedSession is the external backend's session on nodes with no
// pairing configured. Detection skips the backend cleanly.
type UnpairedSession struct{}

var _ wallet.PairingSession = UnpairedSession{}

func (UnpairedSession) Connected() bool { return false }

func (UnpairedSession) Request(ctx context.Context, method string, params any, result any) error {
	return errors.New("no external wallet paired")
}

func (UnpairedSession) Disconnect() error { return nil }
