package block

import (
	"bytes"
	"testing"
)

// acbFixture builds an ACB owned by a node's ordinary Ed25519 identity
// key pair (the same key type identity issuance produces) and grants a
// separate Ed25519 signer full access so it can act as editor without
// relying on the owner-equals-editor shortcut, which only applies when
// both identities are literally the same key. ownerBoxPub/ownerBoxPriv
// are the X25519 box keys IdentityBoxPublicKey/IdentityBoxPrivateKey
// derive from the owner's identity key pair, computed once here since
// every test that decrypts as owner needs them.
type acbFixture struct {
	ownerPub, ownerPriv       PublicKey
	ownerBoxPub, ownerBoxPriv PublicKey
	signerPub                 PublicKey
	signerPriv                PrivateKey
}

func newACBFixture(t *testing.T) acbFixture {
	t.Helper()
	ownerPub, ownerPriv := mustKeyPair(t)
	boxPub, err := IdentityBoxPublicKey(ownerPub)
	if err != nil {
		t.Fatalf("IdentityBoxPublicKey: %v", err)
	}
	boxPriv := IdentityBoxPrivateKey(ownerPriv)
	signerPub, signerPriv := mustKeyPair(t)
	return acbFixture{
		ownerPub: ownerPub, ownerPriv: ownerPriv,
		ownerBoxPub: PublicKey(boxPub[:]), ownerBoxPriv: PublicKey(boxPriv[:]),
		signerPub: signerPub, signerPriv: signerPriv,
	}
}

func (f acbFixture) newGranted(t *testing.T, plaintext string) *ACB {
	t.Helper()
	b := NewACB(f.ownerPub, []byte("salt"))
	b.Grant(f.signerPub, true, true)
	b.SetPlaintext([]byte(plaintext))
	if err := b.SealAs(f.signerPriv, f.signerPub); err != nil {
		t.Fatalf("SealAs: %v", err)
	}
	return b
}

func TestACBGrantSealDecrypt(t *testing.T) {
	f := newACBFixture(t)
	readerPub, readerPriv := mustKeyPair(t)

	b := NewACB(f.ownerPub, []byte("salt"))
	b.Grant(f.signerPub, true, true)
	b.Grant(readerPub, true, false)
	b.SetPlaintext([]byte("top secret"))
	if err := b.SealAs(f.signerPriv, f.signerPub); err != nil {
		t.Fatalf("SealAs: %v", err)
	}

	m := newTestModel(f.signerPub)
	if err := b.Validate(m, true); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	readerBoxPubArr, err := IdentityBoxPublicKey(readerPub)
	if err != nil {
		t.Fatalf("IdentityBoxPublicKey (reader): %v", err)
	}
	readerBoxPrivArr := IdentityBoxPrivateKey(readerPriv)

	var ownerBP, ownerBS, readerBP, readerBS [32]byte
	copy(ownerBP[:], f.ownerBoxPub)
	copy(ownerBS[:], f.ownerBoxPriv)
	readerBP, readerBS = readerBoxPubArr, readerBoxPrivArr

	plaintext, err := b.DecryptAs(f.ownerPub, ownerBP, ownerBS)
	if err != nil {
		t.Fatalf("DecryptAs owner: %v", err)
	}
	if string(plaintext) != "top secret" {
		t.Fatalf("owner decrypt = %q, want %q", plaintext, "top secret")
	}

	plaintext, err = b.DecryptAs(readerPub, readerBP, readerBS)
	if err != nil {
		t.Fatalf("DecryptAs reader: %v", err)
	}
	if string(plaintext) != "top secret" {
		t.Fatalf("reader decrypt = %q, want %q", plaintext, "top secret")
	}
}

func TestACBNonReaderCannotDecrypt(t *testing.T) {
	f := newACBFixture(t)
	b := f.newGranted(t, "private")

	strangerBoxPub, strangerBoxPriv, err := GenerateGroupKeyPair()
	if err != nil {
		t.Fatalf("GenerateGroupKeyPair: %v", err)
	}
	var strangerBP, strangerBS [32]byte
	copy(strangerBP[:], strangerBoxPub)
	copy(strangerBS[:], strangerBoxPriv)

	if _, err := b.DecryptAs(strangerBoxPub, strangerBP, strangerBS); err == nil {
		t.Fatal("expected stranger without a wrapped token to be rejected")
	}
}

func TestACBWritePermissionEnforced(t *testing.T) {
	f := newACBFixture(t)
	b := f.newGranted(t, "v0")

	outsiderPub, outsiderPriv := mustKeyPair(t)
	m := newTestModel(f.signerPub)

	unauthorized := b.Clone().(*ACB)
	unauthorized.SetPlaintext([]byte("v1 by outsider"))
	if err := unauthorized.SealAs(outsiderPriv, outsiderPub); err != nil {
		t.Fatalf("SealAs: %v", err)
	}
	if err := b.ValidateReplace(m, unauthorized); err == nil {
		t.Fatal("expected replace by an editor without write permission to be rejected")
	}

	b.Grant(outsiderPub, true, true)
	b.SetPlaintext([]byte("v0 reseal after grant"))
	if err := b.SealAs(f.signerPriv, f.signerPub); err != nil {
		t.Fatalf("SealAs: %v", err)
	}

	authorized := b.Clone().(*ACB)
	authorized.SetPlaintext([]byte("v1 by granted outsider"))
	if err := authorized.SealAs(outsiderPriv, outsiderPub); err != nil {
		t.Fatalf("SealAs: %v", err)
	}
	if err := b.ValidateReplace(m, authorized); err != nil {
		t.Fatalf("expected replace by a granted writer to be accepted: %v", err)
	}
}

func TestACBWireRoundTripPreservesOwnerToken(t *testing.T) {
	f := newACBFixture(t)
	b := f.newGranted(t, "round trip secret")

	encoded, err := EncodeBlock(b)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	decoded, err := DecodeBlock(encoded)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	got := decoded.(*ACB)

	if bytes.Equal(got.Payload(), []byte("round trip secret")) {
		t.Fatal("payload must stay ciphertext, never equal to the plaintext")
	}

	var boxPub, boxPriv [32]byte
	copy(boxPub[:], f.ownerBoxPub)
	copy(boxPriv[:], f.ownerBoxPriv)
	plaintext, err := got.DecryptAs(f.ownerPub, boxPub, boxPriv)
	if err != nil {
		t.Fatalf("DecryptAs after round trip: %v", err)
	}
	if string(plaintext) != "round trip secret" {
		t.Fatalf("decrypted payload after round trip = %q", plaintext)
	}

	m := newTestModel(f.signerPub)
	if err := got.Validate(m, false); err != nil {
		t.Fatalf("Validate after round trip: %v", err)
	}
}

// TestACBGrantedIdentityDecrypts grants read access directly to a node's
// ordinary Ed25519 identity key — the realistic case, since
// pkg/doughnut/identity.go never produces any other key type — and
// confirms that grantee can derive a working box key pair from that same
// identity key and decrypt, closing the gap where newGranted's grantee
// was never actually exercised through DecryptAs.
func TestACBGrantedIdentityDecrypts(t *testing.T) {
	f := newACBFixture(t)
	b := f.newGranted(t, "granted secret")

	boxPub, err := IdentityBoxPublicKey(f.signerPub)
	if err != nil {
		t.Fatalf("IdentityBoxPublicKey: %v", err)
	}
	boxPriv := IdentityBoxPrivateKey(f.signerPriv)

	plaintext, err := b.DecryptAs(f.signerPub, boxPub, boxPriv)
	if err != nil {
		t.Fatalf("DecryptAs granted identity: %v", err)
	}
	if string(plaintext) != "granted secret" {
		t.Fatalf("granted identity decrypt = %q, want %q", plaintext, "granted secret")
	}
}
