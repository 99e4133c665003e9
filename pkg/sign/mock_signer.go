package sign

import (
	"fmt"
)

var _ Signer = (*MockSigner)(nil)

// MockSigner is a Signer stub for tests. It produces predictable,
// non-cryptographic signatures by appending a suffix to the input.
type MockSigner struct {
	publicKey PublicKey
}

// NewMockSigner creates a MockSigner whose identity is the given ID.
func NewMockSigner(id string) *MockSigner {
	return &MockSigner{publicKey: NewMockPublicKey(id)}
}

// Sign appends a "-signed-by-<address>" suffix to the data.
func (m *MockSigner) Sign(data []byte) (Signature, error) {
	sigBytes := append(data, []byte(
		fmt.Sprintf("-signed-by-%s", m.publicKey.Address().String()),
	)...)
	return Signature(sigBytes), nil
}

// PublicKey returns the mock public key.
func (m *MockSigner) PublicKey() PublicKey {
	return m.publicKey
}

var _ PublicKey = (*MockPublicKey)(nil)

// MockPublicKey is a PublicKey stub whose ID doubles as key data and address.
type MockPublicKey struct {
	id string
}

// NewMockPublicKey creates a MockPublicKey with the given ID.
func NewMockPublicKey(id string) *MockPublicKey {
	return &MockPublicKey{id: id}
}

// Address returns a mock address based on the ID.
func (m *MockPublicKey) Address() Address {
	return NewMockAddress(m.id)
}

// Bytes returns the ID as bytes.
func (m *MockPublicKey) Bytes() []byte {
	return []byte(m.id)
}

var _ Address = (*MockAddress)(nil)

// MockAddress is an Address stub backed by a plain string.
type MockAddress struct {
	id string
}

// NewMockAddress creates a MockAddress with the given ID.
func NewMockAddress(id string) *MockAddress {
	return &MockAddress{id: id}
}

// String returns the ID.
func (m *MockAddress) String() string {
	return m.id
}

// Equals compares addresses by their string form.
func (m *MockAddress) Equals(other Address) bool {
	return m.id == other.String()
}
