package sign

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType(t *testing.T) {
	tests := []struct {
		sigType  Type
		expected string
	}{
		{TypeEthereum, "Ethereum"},
		{TypeUnknown, "Unknown"},
		{Type(99), "Unknown"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.sigType.String())
	}
}

func TestSignature(t *testing.T) {
	t.Run("Type detection", func(t *testing.T) {
		tests := []struct {
			name     string
			sig      Signature
			expected Type
		}{
			{"Ethereum signature (65 bytes)", make(Signature, 65), TypeEthereum},
			{"Short signature", make(Signature, 32), TypeUnknown},
			{"Long signature", make(Signature, 128), TypeUnknown},
			{"Empty signature", Signature{}, TypeUnknown},
		}

		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				assert.Equal(t, test.expected, test.sig.Type())
			})
		}
	})

	t.Run("JSON round trip", func(t *testing.T) {
		sig := Signature{0x01, 0x02, 0x03}

		jsonData, err := json.Marshal(sig)
		require.NoError(t, err)
		assert.Equal(t, `"0x010203"`, string(jsonData))

		var unmarshaled Signature
		require.NoError(t, json.Unmarshal(jsonData, &unmarshaled))
		assert.Equal(t, sig, unmarshaled)
	})

	t.Run("JSON unmarshaling errors", func(t *testing.T) {
		for _, input := range []string{`{invalid}`, `"0xinvalidhex"`, `123`} {
			var sig Signature
			assert.Error(t, json.Unmarshal([]byte(input), &sig))
		}
	})
}

func TestAddressRecovererFactory(t *testing.T) {
	recoverer, err := NewAddressRecoverer(TypeEthereum)
	require.NoError(t, err)
	_, ok := recoverer.(*EthereumAddressRecoverer)
	assert.True(t, ok)

	_, err = NewAddressRecoverer(Type(99))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported signature type: Unknown")

	_, err = NewAddressRecovererFromSignature(make(Signature, 65))
	assert.NoError(t, err)
	_, err = NewAddressRecovererFromSignature(make(Signature, 32))
	assert.Error(t, err)
}
