package block

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/dnerr"
)

// OKB is the owner key block: a mutable block whose address is derived
// from the owner's public key and a salt, updatable only by the owner
// with a strictly increasing version.
type OKB struct {
	Owner   PublicKey
	Salt    []byte
	Version uint64
	payload []byte
	// Signature is the owner's signature over (owner, salt, version,
	// payload), produced by SealAs.
	Signature []byte
}

// NewOKB constructs an unsealed OKB at version 0; call SealAs before storing.
func NewOKB(owner PublicKey, salt []byte, payload []byte) *OKB {
	return &OKB{
		Owner:   append(PublicKey(nil), owner...),
		Salt:    append([]byte(nil), salt...),
		payload: append([]byte(nil), payload...),
	}
}

func (b *OKB) Kind() Kind                { return KindOKB }
func (b *OKB) Payload() []byte           { return b.payload }
func (b *OKB) SetPayload(payload []byte) { b.payload = append([]byte(nil), payload...) }

func (b *OKB) Address() address.Address {
	return OwnerAddress(b.Owner, b.Salt, address.FlagMutable)
}

// signedContent is the canonical byte sequence the owner signature
// covers: (owner, salt, version, payload).
func (b *OKB) signedContent() []byte {
	buf := make([]byte, 0, len(b.Owner)+len(b.Salt)+8+len(b.payload))
	buf = append(buf, b.Owner...)
	buf = append(buf, b.Salt...)
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], b.Version)
	buf = append(buf, v[:]...)
	buf = append(buf, b.payload...)
	return buf
}

// sealWith bumps the version (if bump) and signs with priv. SealAs calls
// it with bump set; ACB does not use it and signs in its own SealAs.
func (b *OKB) sealWith(priv PrivateKey, bump bool) error {
	if bump {
		b.Version++
	}
	b.Signature = Sign(priv, b.signedContent())
	return nil
}

// SealAs bumps the version and signs with the owner's private key. Sealing
// is not part of the Block interface because it requires private key
// material that a Block value never carries; each mutable variant
// exposes its own SealAs-shaped method instead.
func (b *OKB) SealAs(priv PrivateKey) error {
	return b.sealWith(priv, true)
}

func (b *OKB) Validate(_ Model, _ bool) error {
	if !Verify(b.Owner, b.signedContent(), b.Signature) {
		return dnerr.NewValidation("OKB signature does not verify against owner key")
	}
	return nil
}

func (b *OKB) ValidateReplace(m Model, next Block) error {
	nb, ok := next.(*OKB)
	if !ok {
		return dnerr.NewValidation("OKB can only be replaced by another OKB")
	}
	if !nb.Owner.Equal(b.Owner) {
		return dnerr.NewValidation("OKB replacement changes owner")
	}
	if nb.Version != b.Version+1 {
		return dnerr.NewValidation("OKB version must increase by exactly one")
	}
	return nb.Validate(m, true)
}

func (b *OKB) SignRemove(priv PrivateKey) (RemoveSignature, error) {
	addr := b.Address()
	return RemoveSignature{
		Signer: derivePublic(priv),
		Sig:    Sign(priv, addr[:]),
	}, nil
}

func (b *OKB) ValidateRemove(_ Model, sig RemoveSignature) error {
	if !b.Owner.Equal(sig.Signer) {
		return dnerr.NewValidation("OKB remove: signer is not the owner")
	}
	addr := b.Address()
	if !Verify(sig.Signer, addr[:], sig.Sig) {
		return dnerr.NewValidation("OKB remove: bad signature")
	}
	return nil
}

func (b *OKB) Clone() Block {
	return &OKB{
		Owner:     append(PublicKey(nil), b.Owner...),
		Salt:      append([]byte(nil), b.Salt...),
		Version:   b.Version,
		payload:   append([]byte(nil), b.payload...),
		Signature: append([]byte(nil), b.Signature...),
	}
}

// okbWire mirrors OKB with its payload exported for gob, which cannot see
// unexported fields.
type okbWire struct {
	Owner     PublicKey
	Salt      []byte
	Version   uint64
	Payload   []byte
	Signature []byte
}

func (b *OKB) toWire() okbWire {
	return okbWire{Owner: b.Owner, Salt: b.Salt, Version: b.Version, Payload: b.payload, Signature: b.Signature}
}

func (b *OKB) fromWire(w okbWire) {
	b.Owner = w.Owner
	b.Salt = w.Salt
	b.Version = w.Version
	b.payload = w.Payload
	b.Signature = w.Signature
}

func (b *OKB) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(b.toWire())
	return buf.Bytes(), err
}

func (b *OKB) GobDecode(data []byte) error {
	var w okbWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	b.fromWire(w)
	return nil
}
