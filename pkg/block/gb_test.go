package block

import "testing"

func TestGBGenerationsNeverShrink(t *testing.T) {
	f := newACBFixture(t)
	groupPub, _, err := GenerateGroupKeyPair()
	if err != nil {
		t.Fatalf("GenerateGroupKeyPair: %v", err)
	}

	g := NewGB(f.ownerPub, []byte("salt"), groupPub)
	g.Grant(f.signerPub, true, true)
	g.Admins = []PublicKey{f.signerPub}
	g.SetPlaintext([]byte("v0"))
	if err := g.SealAs(f.signerPriv, f.signerPub); err != nil {
		t.Fatalf("SealAs: %v", err)
	}

	m := newTestModel(f.signerPub)
	if err := g.Validate(m, true); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	newGroupPub, newGroupPriv, err := GenerateGroupKeyPair()
	if err != nil {
		t.Fatalf("GenerateGroupKeyPair: %v", err)
	}
	memberPub, _ := mustKeyPair(t)
	g.Grant(memberPub, true, false)

	next := g.Clone().(*GB)
	if err := next.RemoveMember(memberPub, newGroupPub, newGroupPriv, []PublicKey{f.signerPub}); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	next.SetPlaintext([]byte("v1 after rotation"))
	if err := next.SealAs(f.signerPriv, f.signerPub); err != nil {
		t.Fatalf("SealAs: %v", err)
	}
	if len(next.Generations) != len(g.Generations)+1 {
		t.Fatalf("Generations length = %d, want %d", len(next.Generations), len(g.Generations)+1)
	}
	if err := g.ValidateReplace(m, next); err != nil {
		t.Fatalf("ValidateReplace: %v", err)
	}

	shrunk := next.Clone().(*GB)
	shrunk.Generations = shrunk.Generations[:1]
	if err := next.ValidateReplace(m, shrunk); err == nil {
		t.Fatal("expected a shrinking generation sequence to be rejected")
	}
}

func TestGBWireRoundTrip(t *testing.T) {
	f := newACBFixture(t)
	groupPub, _, err := GenerateGroupKeyPair()
	if err != nil {
		t.Fatalf("GenerateGroupKeyPair: %v", err)
	}

	g := NewGB(f.ownerPub, []byte("salt"), groupPub)
	g.Grant(f.signerPub, true, true)
	g.SetPlaintext([]byte("group secret"))
	if err := g.SealAs(f.signerPriv, f.signerPub); err != nil {
		t.Fatalf("SealAs: %v", err)
	}

	encoded, err := EncodeBlock(g)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}
	decoded, err := DecodeBlock(encoded)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	got, ok := decoded.(*GB)
	if !ok {
		t.Fatalf("decoded type = %T, want *GB", decoded)
	}
	if len(got.Generations) != 1 || !got.CurrentGroupKey().Equal(groupPub) {
		t.Fatalf("group key generation lost in round trip")
	}

	var boxPub, boxPriv [32]byte
	copy(boxPub[:], f.ownerBoxPub)
	copy(boxPriv[:], f.ownerBoxPriv)
	plaintext, err := got.DecryptAs(f.ownerPub, boxPub, boxPriv)
	if err != nil {
		t.Fatalf("DecryptAs after round trip: %v", err)
	}
	if string(plaintext) != "group secret" {
		t.Fatalf("decrypted payload after round trip = %q", plaintext)
	}
}
