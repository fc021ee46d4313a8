package block

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// PublicKey is the Doughnut wire representation of an Ed25519 public key.
type PublicKey []byte

// PrivateKey is the Doughnut wire representation of an Ed25519 private key.
// It is never sent over the wire; only PublicKey crosses a trust boundary.
type PrivateKey []byte

// ShortHashSize is the length, in bytes, of a key's short hash.
const ShortHashSize = 8

// GenerateKeyPair creates a fresh Ed25519 key pair.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("block: generate key pair: %w", err)
	}
	return PublicKey(pub), PrivateKey(priv), nil
}

// Sign produces a detached signature over data using priv. The actual
// Ed25519 computation runs on the package's bounded signing pool so a
// burst of concurrent signers (ACB grants, NB publishes, UB
// registrations) don't serialize behind one caller.
func Sign(priv PrivateKey, data []byte) []byte {
	var sig []byte
	globalSignPool.submit(func() {
		sig = ed25519.Sign(ed25519.PrivateKey(priv), data)
	})
	return sig
}

// Verify reports whether sig is a valid signature over data under pub,
// dispatched to the same signing pool as Sign.
func Verify(pub PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	var ok bool
	globalSignPool.submit(func() {
		ok = ed25519.Verify(ed25519.PublicKey(pub), data, sig)
	})
	return ok
}

// ShortHash truncates the SHA-256 hash of a public key to ShortHashSize
// bytes, for use as a compact over-the-wire handle resolved via the
// keychain.
func ShortHash(pub PublicKey) [ShortHashSize]byte {
	sum := sha256.Sum256(pub)
	var out [ShortHashSize]byte
	copy(out[:], sum[:ShortHashSize])
	return out
}

// derivePublic extracts the public half of an Ed25519 private key, used
// when a signer needs to stamp its own key alongside a signature.
func derivePublic(priv PrivateKey) PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// Equal reports whether two public keys are byte-identical.
func (k PublicKey) Equal(other PublicKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}
