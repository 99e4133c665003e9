package wallet_test

import (
	"context"
	"errors"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/wallet"
)

func newHardwareBackend(t *testing.T, element *fakeSecureElement) *wallet.HardwareBackend {
	t.Helper()
	return wallet.NewHardwareBackend(element, testReconciler(t), log.NewNoopLogger())
}

func TestHardwareLocate(t *testing.T) {
	t.Parallel()

	element := newFakeSecureElement(t)
	backend := newHardwareBackend(t, element)

	account, err := backend.Locate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, wallet.KindHardware, account.Kind)
	assert.Equal(t, ethcrypto.PubkeyToAddress(element.signingKey.PublicKey), account.Address)
	// The address comes from a signing probe, not the stored key.
	assert.Equal(t, 1, element.signCalls)
}

func TestHardwareLocateWithKeyDrift(t *testing.T) {
	t.Parallel()

	// The stored public key belongs to a different key than the one the
	// element signs with. Locate must report the signing key's address.
	element := newFakeSecureElement(t)
	driftedKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	element.storedPub = ethcrypto.FromECDSAPub(&driftedKey.PublicKey)

	backend := newHardwareBackend(t, element)
	account, err := backend.Locate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, ethcrypto.PubkeyToAddress(element.signingKey.PublicKey), account.Address)
	assert.NotEqual(t, ethcrypto.PubkeyToAddress(driftedKey.PublicKey), account.Address)
}

func TestHardwareLocateAbsent(t *testing.T) {
	t.Parallel()

	element := newFakeSecureElement(t)
	element.signingKey = nil
	backend := newHardwareBackend(t, element)

	account, err := backend.Locate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, account)

	element = newFakeSecureElement(t)
	element.available = false
	backend = newHardwareBackend(t, element)
	account, err = backend.Locate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, account)
}

func TestHardwareCreate(t *testing.T) {
	t.Parallel()

	element := newFakeSecureElement(t)
	element.signingKey = nil
	element.storedPub = nil
	backend := newHardwareBackend(t, element)

	account, err := backend.Create(context.Background(), wallet.CreateOptions{RequireBiometric: true})
	require.NoError(t, err)
	assert.Equal(t, wallet.KindHardware, account.Kind)
	assert.Equal(t, ethcrypto.PubkeyToAddress(element.signingKey.PublicKey), account.Address)
}

func TestHardwareCreateWhenKeyExists(t *testing.T) {
	t.Parallel()

	backend := newHardwareBackend(t, newFakeSecureElement(t))
	_, err := backend.Create(context.Background(), wallet.CreateOptions{})
	assert.ErrorIs(t, err, wallet.ErrWalletExists)
}

func TestHardwareCreateWhenUnavailable(t *testing.T) {
	t.Parallel()

	element := newFakeSecureElement(t)
	element.available = false
	backend := newHardwareBackend(t, element)

	_, err := backend.Create(context.Background(), wallet.CreateOptions{})
	assert.ErrorIs(t, err, wallet.ErrBackendUnavailable)
}

func TestHardwareSignTransaction(t *testing.T) {
	t.Parallel()

	element := newFakeSecureElement(t)
	backend := newHardwareBackend(t, element)
	tx := testUnsignedTx(t)

	res, err := backend.SignTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, res.Signed)
	assert.False(t, res.RemoteBroadcast)
	assert.Equal(t, ethcrypto.PubkeyToAddress(element.signingKey.PublicKey), res.Signed.Sender)
	assert.NotEmpty(t, res.Signed.Raw)
}

func TestHardwareSignTimeout(t *testing.T) {
	t.Parallel()

	element := newFakeSecureElement(t)
	element.signDelay = time.Second
	backend := newHardwareBackend(t, element).WithSignTimeout(10 * time.Millisecond)

	_, err := backend.SignTransaction(context.Background(), testUnsignedTx(t))
	assert.ErrorIs(t, err, wallet.ErrSignerUnavailable)
}

func TestHardwareSignElementFailure(t *testing.T) {
	t.Parallel()

	element := newFakeSecureElement(t)
	element.signErr = errors.New("secure element busy")
	backend := newHardwareBackend(t, element)

	_, err := backend.SignTransaction(context.Background(), testUnsignedTx(t))
	assert.ErrorIs(t, err, wallet.ErrBackendUnavailable)
}

func TestHardwareSignMessage(t *testing.T) {
	t.Parallel()

	element := newFakeSecureElement(t)
	backend := newHardwareBackend(t, element)

	sig, err := backend.SignMessage(context.Background(), []byte("hello"))
	require.NoError(t, err)
	require.Len(t, []byte(sig), 65)
	assert.Contains(t, []byte{27, 28}, sig[64])
}

func TestHardwareDelete(t *testing.T) {
	t.Parallel()

	element := newFakeSecureElement(t)
	backend := newHardwareBackend(t, element)

	require.NoError(t, backend.Delete(context.Background()))
	assert.True(t, element.deleted)

	account, err := backend.Locate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, account)
}
