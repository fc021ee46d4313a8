package block

import "testing"

func TestNBOverwriteDeniedOnPayloadChange(t *testing.T) {
	pub, priv := mustKeyPair(t)
	b := NewNB(pub, "alice", []byte("root-block-v1"))
	if err := b.SealAs(priv); err != nil {
		t.Fatalf("SealAs: %v", err)
	}

	m := newTestModel(pub)
	if err := b.Validate(m, true); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	changed := NewNB(pub, "alice", []byte("root-block-v2"))
	if err := changed.SealAs(priv); err != nil {
		t.Fatalf("SealAs: %v", err)
	}
	if err := b.ValidateReplace(m, changed); err == nil {
		t.Fatal("expected NB overwrite with changed payload to be denied")
	}

	identical := NewNB(pub, "alice", []byte("root-block-v1"))
	if err := identical.SealAs(priv); err != nil {
		t.Fatalf("SealAs: %v", err)
	}
	if err := b.ValidateReplace(m, identical); err != nil {
		t.Fatalf("expected identical NB replacement to be accepted: %v", err)
	}
}

func TestNBRemoveSentinelValidation(t *testing.T) {
	pub, priv := mustKeyPair(t)
	otherPub, otherPriv := mustKeyPair(t)
	b := NewNB(pub, "bob", []byte("data"))
	if err := b.SealAs(priv); err != nil {
		t.Fatalf("SealAs: %v", err)
	}

	m := newTestModel(pub)
	sig, err := b.SignRemove(priv)
	if err != nil {
		t.Fatalf("SignRemove: %v", err)
	}
	if err := b.ValidateRemove(m, sig); err != nil {
		t.Fatalf("ValidateRemove: %v", err)
	}

	badSig, err := b.SignRemove(otherPriv)
	if err != nil {
		t.Fatalf("SignRemove: %v", err)
	}
	if err := b.ValidateRemove(m, badSig); err == nil {
		t.Fatal("expected sentinel signed by a different owner to be rejected")
	}
	_ = otherPub
}

func TestNBWireRoundTrip(t *testing.T) {
	pub, priv := mustKeyPair(t)
	b := NewNB(pub, "carol", []byte("named payload"))
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
	got := decoded.(*NB)
	if got.Name != "carol" {
		t.Fatalf("name lost in round trip: got %q", got.Name)
	}
	if string(got.Payload()) != "named payload" {
		t.Fatalf("payload lost in round trip: got %q", got.Payload())
	}
}
