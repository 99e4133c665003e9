package main

import (
	"context"
	"fmt"

	"github.com/keyfold/walletd/pkg/wallet"
)

// UnavailableSecureElement stands in for the hardware key module on
// hosts without one. Detection skips the hardware backend cleanly and
// any direct use reports the backend as unavailable.
type UnavailableSecureElement struct{}

var _ wallet.SecureElement = (*UnavailableSecureElement)(nil)

func (UnavailableSecureElement) Available(ctx context.Context) bool { return false }

func (UnavailableSecureElement) LocateKey(ctx context.Context) ([]byte, error) {
	return nil, nil
}

func (UnavailableSecureElement) GenerateKey(ctx context.Context, requireBiometric bool) ([]byte, error) {
	return nil, fmt.Errorf("%w: no secure element on this host", wallet.ErrBackendUnavailable)
}

func (UnavailableSecureElement) SignHash(ctx context.Context, hash []byte) (*wallet.SignaturePayload, error) {
	return nil, fmt.Errorf("%w: no secure element on this host", wallet.ErrBackendUnavailable)
}

func (UnavailableSecureElement) DeleteKey(ctx context.Context) error {
	return fmt.Errorf("%w: no secure element on this host", wallet.ErrBackendUnavailable)
}
