package block

import "testing"

func TestOKBSealAndValidate(t *testing.T) {
	pub, priv := mustKeyPair(t)
	b := NewOKB(pub, []byte("salt"), []byte("v0 payload"))
	if err := b.SealAs(priv); err != nil {
		t.Fatalf("SealAs: %v", err)
	}
	if b.Version != 1 {
		t.Fatalf("Version = %d, want 1 after first seal", b.Version)
	}

	m := newTestModel(pub)
	if err := b.Validate(m, true); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestOKBVersionMustIncreaseByOne(t *testing.T) {
	pub, priv := mustKeyPair(t)
	b := NewOKB(pub, []byte("salt"), []byte("v0"))
	if err := b.SealAs(priv); err != nil {
		t.Fatalf("SealAs: %v", err)
	}

	m := newTestModel(pub)

	next := b.Clone().(*OKB)
	next.SetPayload([]byte("v1"))
	if err := next.SealAs(priv); err != nil {
		t.Fatalf("SealAs: %v", err)
	}
	if err := b.ValidateReplace(m, next); err != nil {
		t.Fatalf("ValidateReplace with version+1: %v", err)
	}

	skip := b.Clone().(*OKB)
	skip.SetPayload([]byte("v2"))
	skip.Version = 5
	skip.Signature = Sign(priv, skip.signedContent())
	if err := b.ValidateReplace(m, skip); err == nil {
		t.Fatal("expected version skip to be rejected")
	}
}

func TestOKBReplaceRejectsOwnerChange(t *testing.T) {
	pub, priv := mustKeyPair(t)
	otherPub, otherPriv := mustKeyPair(t)

	b := NewOKB(pub, []byte("salt"), []byte("v0"))
	if err := b.SealAs(priv); err != nil {
		t.Fatalf("SealAs: %v", err)
	}

	hijack := NewOKB(otherPub, []byte("salt"), []byte("v1"))
	hijack.Version = b.Version + 1
	if err := hijack.SealAs(otherPriv); err != nil {
		t.Fatalf("SealAs: %v", err)
	}

	m := newTestModel(pub)
	if err := b.ValidateReplace(m, hijack); err == nil {
		t.Fatal("expected owner change to be rejected")
	}
}

func TestOKBWireRoundTrip(t *testing.T) {
	pub, priv := mustKeyPair(t)
	b := NewOKB(pub, []byte("salt"), []byte("payload bytes"))
	if err := b.SealAs(priv); err != nil {
		t.Fatalf("SealAs: %v", err)
	}

	encoded, err := EncodeBlock(b)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	decoded, err := DecodeBlock(encoded)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	got := decoded.(*OKB)
	if string(got.Payload()) != "payload bytes" {
		t.Fatalf("payload lost in round trip: got %q", got.Payload())
	}
	if got.Version != b.Version {
		t.Fatalf("version mismatch after round trip: got %d want %d", got.Version, b.Version)
	}
	m := newTestModel(pub)
	if err := got.Validate(m, false); err != nil {
		t.Fatalf("Validate after round trip: %v", err)
	}
}
