package block

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
)

// IdentityBoxPublicKey derives the X25519 public key that corresponds to an
// Ed25519 identity public key, using the standard birational map between
// the Edwards and Montgomery curves. This lets an ACB grant read access
// directly to a node's identity key (the only key type identity issuance
// produces) instead of requiring every grantee to also hold a dedicated
// NaCl box key pair, matching the X25519 convention wrapKey already
// expects and GenerateGroupKeyPair already produces natively.
func IdentityBoxPublicKey(pub PublicKey) ([32]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return [32]byte{}, fmt.Errorf("block: identity box public key: invalid ed25519 public key size")
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return [32]byte{}, fmt.Errorf("block: identity box public key: %w", err)
	}
	var out [32]byte
	copy(out[:], p.BytesMontgomery())
	return out, nil
}

// IdentityBoxPrivateKey derives the X25519 private scalar that corresponds
// to an Ed25519 identity private key, mirroring IdentityBoxPublicKey. A
// grantee derives its own box key pair this way to decrypt a token wrapped
// under IdentityBoxPublicKey(itsIdentityPub).
func IdentityBoxPrivateKey(priv PrivateKey) [32]byte {
	h := sha512.Sum512(ed25519.PrivateKey(priv).Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	var out [32]byte
	copy(out[:], h[:32])
	return out
}
