package block

import (
	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/dnerr"
)

// UB is the user block: a minimal named anchor binding a plain username
// directly to an owner public key, resolved without the full NB round
// trip. It carries no payload beyond the owner key and follows NB's
// never-changes-once-claimed overwrite rule.
type UB struct {
	Owner     PublicKey
	Username  string
	Signature []byte
}

// NewUB constructs an unsealed UB claiming username for owner.
func NewUB(owner PublicKey, username string) *UB {
	return &UB{Owner: append(PublicKey(nil), owner...), Username: username}
}

func (b *UB) Kind() Kind { return KindUB }

// Payload returns the owner's public key: a UB's sole "content" is the
// identity it resolves to.
func (b *UB) Payload() []byte { return b.Owner }

func (b *UB) Address() address.Address {
	return UserAddress(b.Owner, b.Username)
}

func (b *UB) signedContent() []byte {
	return append(append([]byte(nil), b.Owner...), []byte(b.Username)...)
}

// SealAs signs the UB with the owner's private key.
func (b *UB) SealAs(priv PrivateKey) error {
	b.Signature = Sign(priv, b.signedContent())
	return nil
}

func (b *UB) Validate(_ Model, _ bool) error {
	if !Verify(b.Owner, b.signedContent(), b.Signature) {
		return dnerr.NewValidation("UB signature does not verify against owner key")
	}
	return nil
}

// ValidateReplace only accepts an identical replacement: a username
// anchor never changes owner once claimed.
func (b *UB) ValidateReplace(m Model, next Block) error {
	nb, ok := next.(*UB)
	if !ok {
		return dnerr.NewValidation("UB can only be replaced by another UB")
	}
	if nb.Username != b.Username || !nb.Owner.Equal(b.Owner) {
		return dnerr.NewValidation("UB overwrite denied")
	}
	return nb.Validate(m, true)
}

func (b *UB) SignRemove(priv PrivateKey) (RemoveSignature, error) {
	addr := b.Address()
	return RemoveSignature{
		Signer: derivePublic(priv),
		Sig:    Sign(priv, addr[:]),
	}, nil
}

func (b *UB) ValidateRemove(_ Model, sig RemoveSignature) error {
	if !b.Owner.Equal(sig.Signer) {
		return dnerr.NewValidation("UB remove: signer is not the owner")
	}
	addr := b.Address()
	if !Verify(sig.Signer, addr[:], sig.Sig) {
		return dnerr.NewValidation("UB remove: bad signature")
	}
	return nil
}

func (b *UB) Clone() Block {
	return &UB{
		Owner:     append(PublicKey(nil), b.Owner...),
		Username:  b.Username,
		Signature: append([]byte(nil), b.Signature...),
	}
}
