package wallet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/wallet"
)

type selectorFixture struct {
	selector *wallet.Selector
	chain    *fakeChain
	element  *fakeSecureElement
	hardware *wallet.HardwareBackend
	software *wallet.SoftwareBackend
	session  *fakePairingSession
}

// newSelectorFixture wires a selector over all three backends. None of
// them holds a key initially.
func newSelectorFixture(t *testing.T) *selectorFixture {
	t.Helper()

	chain := newFakeChain()
	builder := testBuilder(t)
	dispatcher := wallet.NewDispatcher(chain, builder, nil, log.NewNoopLogger())

	element := newFakeSecureElement(t)
	element.signingKey = nil
	element.storedPub = nil
	hardware := newHardwareBackend(t, element)
	software := newSoftwareBackend(newMemoryKeyStore(), "passphrase")
	session := &fakePairingSession{}
	external := newExternalBackend(session)

	selector := wallet.NewSelector(wallet.SelectorConfig{
		Chain:      chain,
		Builder:    builder,
		Dispatcher: dispatcher,
		Backends:   wallet.NewDefaultBackendOrder(hardware, software, external),
	}, log.NewNoopLogger())

	return &selectorFixture{
		selector: selector,
		chain:    chain,
		element:  element,
		hardware: hardware,
		software: software,
		session:  session,
	}
}

func TestSelectorNoWallet(t *testing.T) {
	t.Parallel()

	f := newSelectorFixture(t)
	account, err := f.selector.GetActiveAccount(context.Background())
	require.NoError(t, err)
	assert.Nil(t, account)

	_, err = f.selector.Send(context.Background(), testRecipient, "1")
	assert.ErrorIs(t, err, wallet.ErrNoWallet)
	_, err = f.selector.Balance(context.Background())
	assert.ErrorIs(t, err, wallet.ErrNoWallet)
}

func TestSelectorHardwareBeatsSoftware(t *testing.T) {
	t.Parallel()

	f := newSelectorFixture(t)
	_, err := f.selector.CreateWallet(context.Background(), wallet.KindSoftware, wallet.CreateOptions{})
	require.NoError(t, err)
	hardwareAccount, err := f.selector.CreateWallet(context.Background(), wallet.KindHardware, wallet.CreateOptions{})
	require.NoError(t, err)

	// Both backends hold keys; detection order makes hardware win.
	active, err := f.selector.GetActiveAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, wallet.KindHardware, active.Kind)
	assert.Equal(t, hardwareAccount.Address, active.Address)
}

func TestSelectorDetectsSoftware(t *testing.T) {
	t.Parallel()

	f := newSelectorFixture(t)
	created, err := f.selector.CreateWallet(context.Background(), wallet.KindSoftware, wallet.CreateOptions{})
	require.NoError(t, err)

	active, err := f.selector.GetActiveAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, wallet.KindSoftware, active.Kind)
	assert.Equal(t, created.Address, active.Address)
}

func TestSelectorDetectsExternal(t *testing.T) {
	t.Parallel()

	f := newSelectorFixture(t)
	f.session.connected = true
	f.session.address = testRecipient

	active, err := f.selector.GetActiveAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, wallet.KindExternal, active.Kind)
}

func TestSelectorDeleteFallsThrough(t *testing.T) {
	t.Parallel()

	f := newSelectorFixture(t)
	_, err := f.selector.CreateWallet(context.Background(), wallet.KindSoftware, wallet.CreateOptions{})
	require.NoError(t, err)
	_, err = f.selector.CreateWallet(context.Background(), wallet.KindHardware, wallet.CreateOptions{})
	require.NoError(t, err)

	// Deleting the active hardware wallet re-runs detection and the
	// software wallet surfaces.
	require.NoError(t, f.selector.DeleteActiveWallet(context.Background()))
	active, err := f.selector.GetActiveAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, wallet.KindSoftware, active.Kind)
}

func TestSelectorRefreshAfterDisconnect(t *testing.T) {
	t.Parallel()

	f := newSelectorFixture(t)
	f.session.connected = true
	f.session.address = testRecipient

	active, err := f.selector.GetActiveAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)

	// Disconnecting the session does not mutate the cached account;
	// a refresh re-runs detection and finds nothing.
	f.session.connected = false
	active, err = f.selector.GetActiveAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)

	active, err = f.selector.Refresh(context.Background())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSelectorSend(t *testing.T) {
	t.Parallel()

	f := newSelectorFixture(t)
	_, err := f.selector.CreateWallet(context.Background(), wallet.KindSoftware, wallet.CreateOptions{})
	require.NoError(t, err)

	res, err := f.selector.Send(context.Background(), testRecipient, "0.25")
	require.NoError(t, err)
	assert.Equal(t, wallet.KindSoftware, res.Backend)
	assert.Len(t, f.chain.sent, 1)
}

func TestSelectorBalance(t *testing.T) {
	t.Parallel()

	f := newSelectorFixture(t)
	_, err := f.selector.CreateWallet(context.Background(), wallet.KindSoftware, wallet.CreateOptions{})
	require.NoError(t, err)

	balance, err := f.selector.Balance(context.Background())
	require.NoError(t, err)
	// fakeChain reports exactly 1 whole unit.
	assert.Equal(t, "1", balance.String())
}

func TestSelectorEstimateFee(t *testing.T) {
	t.Parallel()

	f := newSelectorFixture(t)
	_, err := f.selector.CreateWallet(context.Background(), wallet.KindSoftware, wallet.CreateOptions{})
	require.NoError(t, err)

	fee, err := f.selector.EstimateFee(context.Background(), testRecipient, "0.5")
	require.NoError(t, err)
	// 21000 gas at 20 gwei.
	assert.Equal(t, "0.00042", fee.String())

	_, err = f.selector.EstimateFee(context.Background(), testRecipient, "0")
	assert.ErrorIs(t, err, wallet.ErrInvalidInput)
}

func TestSelectorSignMessage(t *testing.T) {
	t.Parallel()

	f := newSelectorFixture(t)
	_, err := f.selector.CreateWallet(context.Background(), wallet.KindSoftware, wallet.CreateOptions{})
	require.NoError(t, err)

	sig, err := f.selector.SignMessage(context.Background(), []byte("challenge"))
	require.NoError(t, err)
	assert.Len(t, []byte(sig), 65)
}

func TestSelectorCreateUnknownKind(t *testing.T) {
	t.Parallel()

	f := newSelectorFixture(t)
	_, err := f.selector.CreateWallet(context.Background(), wallet.Kind(9), wallet.CreateOptions{})
	assert.ErrorIs(t, err, wallet.ErrInvalidInput)
}
