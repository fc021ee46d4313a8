package block

import (
	"testing"

	"github.com/cuemby/doughnut/pkg/address"
)

// testModel is a minimal Model that resolves a fixed set of addresses to
// their owning public keys, mirroring how the facade resolves owners via
// the keychain/overlay during validation.
type testModel struct {
	self  PublicKey
	known map[address.Address]PublicKey
}

func newTestModel(self PublicKey) *testModel {
	return &testModel{self: self, known: map[address.Address]PublicKey{}}
}

func (m *testModel) Self() PublicKey { return m.self }

func (m *testModel) ResolveKey(addr address.Address) (PublicKey, bool) {
	k, ok := m.known[addr]
	return k, ok
}

func (m *testModel) register(addr address.Address, key PublicKey) {
	m.known[addr] = key
}

func mustKeyPair(t *testing.T) (PublicKey, PrivateKey) {
	t.Helper()
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return pub, priv
}
