package block

import "testing"

func TestCHBAddressDerivesFromPayload(t *testing.T) {
	pub, priv := mustKeyPair(t)
	owner := OwnerAddress(pub, []byte("salt"), 0)

	b1 := NewCHB([]byte("hello"), &owner)
	b2 := NewCHB([]byte("hello"), &owner)
	if b1.Address() != b2.Address() {
		t.Fatal("identical payload+owner must yield identical address")
	}

	b3 := NewCHB([]byte("world"), &owner)
	if b1.Address() == b3.Address() {
		t.Fatal("different payload must yield different address")
	}

	m := newTestModel(pub)
	if err := b1.Validate(m, false); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := b1.ValidateReplace(m, b3); err == nil {
		t.Fatal("CHB must never accept a replacement")
	}

	_ = priv
}

func TestCHBRemoveRequiresOwnerSignature(t *testing.T) {
	pub, priv := mustKeyPair(t)
	otherPub, otherPriv := mustKeyPair(t)
	owner := OwnerAddress(pub, []byte("salt"), 0)
	b := NewCHB([]byte("data"), &owner)

	m := newTestModel(pub)
	m.register(owner, pub)

	sig, err := b.SignRemove(priv)
	if err != nil {
		t.Fatalf("SignRemove: %v", err)
	}
	if err := b.ValidateRemove(m, sig); err != nil {
		t.Fatalf("ValidateRemove by owner: %v", err)
	}

	badSig, err := b.SignRemove(otherPriv)
	if err != nil {
		t.Fatalf("SignRemove: %v", err)
	}
	if err := b.ValidateRemove(m, badSig); err == nil {
		t.Fatal("expected remove by non-owner to be rejected")
	}
	_ = otherPub
}

func TestCHBNoOwnerRemovableByAnyone(t *testing.T) {
	b := NewCHB([]byte("public"), nil)
	m := newTestModel(nil)
	sig, err := b.SignRemove(nil)
	if err != nil {
		t.Fatalf("SignRemove: %v", err)
	}
	if err := b.ValidateRemove(m, sig); err != nil {
		t.Fatalf("ValidateRemove: %v", err)
	}
}

func TestCHBWireRoundTrip(t *testing.T) {
	pub, _ := mustKeyPair(t)
	owner := OwnerAddress(pub, []byte("salt"), 0)
	b := NewCHB([]byte("round trip payload"), &owner)

	encoded, err := EncodeBlock(b)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	decoded, err := DecodeBlock(encoded)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	got, ok := decoded.(*CHB)
	if !ok {
		t.Fatalf("decoded type = %T, want *CHB", decoded)
	}
	if string(got.Payload()) != "round trip payload" {
		t.Fatalf("payload lost in round trip: got %q", got.Payload())
	}
	if got.Owner == nil || *got.Owner != owner {
		t.Fatal("owner lost in round trip")
	}
	if got.Address() != b.Address() {
		t.Fatal("address must be recomputed identically after round trip")
	}
}

func TestCHBWireRoundTripNoOwner(t *testing.T) {
	b := NewCHB([]byte("anon"), nil)
	encoded, err := EncodeBlock(b)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	decoded, err := DecodeBlock(encoded)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	got := decoded.(*CHB)
	if got.Owner != nil {
		t.Fatal("expected nil owner to survive round trip as nil")
	}
}
