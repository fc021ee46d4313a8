package block

import (
	"bytes"
	"encoding/gob"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/dnerr"
)

// NB is the named block: an immutable-by-overwrite anchor binding a name
// to a payload, used e.g. as a user→root-block mapping.
type NB struct {
	Owner     PublicKey
	Name      string
	payload   []byte
	Signature []byte
}

// NewNB constructs an unsealed NB.
func NewNB(owner PublicKey, name string, payload []byte) *NB {
	return &NB{
		Owner:   append(PublicKey(nil), owner...),
		Name:    name,
		payload: append([]byte(nil), payload...),
	}
}

func (b *NB) Kind() Kind      { return KindNB }
func (b *NB) Payload() []byte { return b.payload }

func (b *NB) Address() address.Address {
	return NamedAddress(b.Owner, b.Name)
}

func (b *NB) signedContent() []byte {
	buf := make([]byte, 0, len(b.Owner)+len(b.Name)+len(b.payload))
	buf = append(buf, b.Owner...)
	buf = append(buf, []byte(b.Name)...)
	buf = append(buf, b.payload...)
	return buf
}

// SealAs signs the NB with the owner's private key.
func (b *NB) SealAs(priv PrivateKey) error {
	b.Signature = Sign(priv, b.signedContent())
	return nil
}

func (b *NB) Validate(_ Model, _ bool) error {
	if !Verify(b.Owner, b.signedContent(), b.Signature) {
		return dnerr.NewValidation("NB signature does not verify against owner key")
	}
	return nil
}

// ValidateReplace enforces the NB overwrite policy: a replacement
// is only accepted when name, owner, and payload are all identical to
// the current block; anything else is denied outright, even if the new
// block's own signature is valid.
func (b *NB) ValidateReplace(m Model, next Block) error {
	nb, ok := next.(*NB)
	if !ok {
		return dnerr.NewValidation("NB can only be replaced by another NB")
	}
	if nb.Name != b.Name || !nb.Owner.Equal(b.Owner) || !bytes.Equal(nb.payload, b.payload) {
		return dnerr.NewValidation("NB overwrite denied")
	}
	return nb.Validate(m, true)
}

// SignRemove produces a sentinel NB signed by the owner authorizing
// removal: the removal request is itself a tombstone
// NB carrying no payload.
func (b *NB) SignRemove(priv PrivateKey) (RemoveSignature, error) {
	tombstone := NewNB(b.Owner, b.Name, nil)
	if err := tombstone.SealAs(priv); err != nil {
		return RemoveSignature{}, err
	}
	sentinel, err := EncodeBlock(tombstone)
	if err != nil {
		return RemoveSignature{}, err
	}
	return RemoveSignature{
		Signer:   derivePublic(priv),
		Sentinel: sentinel,
	}, nil
}

func (b *NB) ValidateRemove(m Model, sig RemoveSignature) error {
	tombstone, err := DecodeBlock(sig.Sentinel)
	if err != nil {
		return dnerr.NewValidation("NB remove: malformed sentinel")
	}
	t, ok := tombstone.(*NB)
	if !ok || t.Name != b.Name || !t.Owner.Equal(b.Owner) {
		return dnerr.NewValidation("NB remove: sentinel does not match block identity")
	}
	if err := t.Validate(m, false); err != nil {
		return dnerr.NewValidation("NB remove: sentinel signature invalid")
	}
	return nil
}

func (b *NB) Clone() Block {
	return &NB{
		Owner:     append(PublicKey(nil), b.Owner...),
		Name:      b.Name,
		payload:   append([]byte(nil), b.payload...),
		Signature: append([]byte(nil), b.Signature...),
	}
}

// nbWire mirrors NB with its payload exported for gob.
type nbWire struct {
	Owner     PublicKey
	Name      string
	Payload   []byte
	Signature []byte
}

func (b *NB) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(nbWire{Owner: b.Owner, Name: b.Name, Payload: b.payload, Signature: b.Signature})
	return buf.Bytes(), err
}

func (b *NB) GobDecode(data []byte) error {
	var w nbWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	b.Owner = w.Owner
	b.Name = w.Name
	b.payload = w.Payload
	b.Signature = w.Signature
	return nil
}
