package block

import (
	"bytes"
	"encoding/gob"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/dnerr"
)

// CHB is the content-hash block: an immutable blob whose address is
// entirely determined by its payload (and, optionally, an owner
// address).
type CHB struct {
	payload []byte
	// Owner, if set, is the address of the OKB/ACB/GB that must
	// authorize removal. A nil Owner means anyone may remove the block.
	Owner *address.Address
}

// NewCHB constructs a sealed CHB over payload.
func NewCHB(payload []byte, owner *address.Address) *CHB {
	return &CHB{payload: append([]byte(nil), payload...), Owner: owner}
}

func (b *CHB) Kind() Kind { return KindCHB }

func (b *CHB) Address() address.Address {
	return ContentAddress(b.payload, b.Owner)
}

func (b *CHB) Payload() []byte { return b.payload }

func (b *CHB) Validate(_ Model, _ bool) error {
	want := ContentAddress(b.payload, b.Owner)
	if !want.EqualUnflagged(b.Address()) {
		return dnerr.NewValidation("CHB address does not match H(payload, owner)")
	}
	return nil
}

// ValidateReplace always fails: a CHB never legally replaces another CHB
// at the same address (two CHBs with the same address have identical
// payload and owner by construction, so there is nothing to "replace").
func (b *CHB) ValidateReplace(_ Model, _ Block) error {
	return dnerr.NewValidation("CHB is immutable and cannot be replaced")
}

// SignRemove proves ownership of b.Owner by signing the block's address.
// If Owner is nil, any caller may remove the block and Sig is empty.
func (b *CHB) SignRemove(priv PrivateKey) (RemoveSignature, error) {
	addr := b.Address()
	if b.Owner == nil {
		return RemoveSignature{}, nil
	}
	return RemoveSignature{
		Signer: derivePublic(priv),
		Sig:    Sign(priv, addr[:]),
	}, nil
}

func (b *CHB) ValidateRemove(m Model, sig RemoveSignature) error {
	if b.Owner == nil {
		return nil
	}
	ownerKey, ok := m.ResolveKey(*b.Owner)
	if !ok {
		return dnerr.NewValidation("CHB remove: owner key unresolvable")
	}
	if !ownerKey.Equal(sig.Signer) {
		return dnerr.NewValidation("CHB remove: signer is not the owner")
	}
	addr := b.Address()
	if !Verify(sig.Signer, addr[:], sig.Sig) {
		return dnerr.NewValidation("CHB remove: bad signature")
	}
	return nil
}

func (b *CHB) Clone() Block {
	clone := &CHB{payload: append([]byte(nil), b.payload...)}
	if b.Owner != nil {
		o := *b.Owner
		clone.Owner = &o
	}
	return clone
}

// chbWire mirrors CHB with exported fields; gob cannot see CHB.payload
// directly since it is unexported (kept that way so callers cannot
// construct a CHB with a payload that disagrees with its own address).
type chbWire struct {
	Payload []byte
	Owner   *address.Address
}

func (b *CHB) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(chbWire{Payload: b.payload, Owner: b.Owner})
	return buf.Bytes(), err
}

func (b *CHB) GobDecode(data []byte) error {
	var w chbWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	b.payload = w.Payload
	b.Owner = w.Owner
	return nil
}
