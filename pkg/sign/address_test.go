package sign_test

import (
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/walletd/pkg/sign"
)

func TestDeriveAddress(t *testing.T) {
	t.Parallel()

	t.Run("agrees with go-ethereum for random keys", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			key, err := ethcrypto.GenerateKey()
			require.NoError(t, err)

			want := ethcrypto.PubkeyToAddress(key.PublicKey)
			pubBytes := ethcrypto.FromECDSAPub(&key.PublicKey)

			got, err := sign.DeriveAddress(pubBytes)
			require.NoError(t, err)
			assert.Equal(t, want, got.Address)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		key, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		pubBytes := ethcrypto.FromECDSAPub(&key.PublicKey)

		first, err := sign.DeriveAddress(pubBytes)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := sign.DeriveAddress(pubBytes)
			require.NoError(t, err)
			assert.True(t, first.Equals(again))
		}
	})

	t.Run("accepts key without marker byte", func(t *testing.T) {
		key, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		pubBytes := ethcrypto.FromECDSAPub(&key.PublicKey)

		withMarker, err := sign.DeriveAddress(pubBytes)
		require.NoError(t, err)
		withoutMarker, err := sign.DeriveAddress(pubBytes[1:])
		require.NoError(t, err)
		assert.True(t, withMarker.Equals(withoutMarker))
	})

	t.Run("rejects malformed key lengths", func(t *testing.T) {
		for _, n := range []int{0, 20, 33, 63, 66, 128} {
			_, err := sign.DeriveAddress(make([]byte, n))
			assert.Error(t, err, "length %d should be rejected", n)
		}
	})
}

func TestChecksumHex(t *testing.T) {
	t.Parallel()

	// Reference vectors from EIP-55.
	tcs := []string{
		"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"fB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"dbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"D1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}

	for _, want := range tcs {
		got := sign.ChecksumHex(want)
		assert.Equal(t, want, got)
	}
}

func TestIsHexAddress(t *testing.T) {
	t.Parallel()

	assert.True(t, sign.IsHexAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	assert.True(t, sign.IsHexAddress("5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.False(t, sign.IsHexAddress("0x5aAeb6"))
	assert.False(t, sign.IsHexAddress(""))
	assert.False(t, sign.IsHexAddress("0xZZZZb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
}
