// Package block implements the six Doughnut block variants: their
// address derivation, cryptographic validation, sealing, and
// remove-signature rules.
package block

import (
	"github.com/cuemby/doughnut/pkg/address"
)

// Kind tags the variant of a Block, used to dispatch Validate/SignRemove
// without an open-world extensibility mechanism — the core has exactly
// six concrete variants.
type Kind byte

const (
	KindCHB Kind = iota + 1
	KindOKB
	KindACB
	KindNB
	KindGB
	KindUB
)

func (k Kind) String() string {
	switch k {
	case KindCHB:
		return "CHB"
	case KindOKB:
		return "OKB"
	case KindACB:
		return "ACB"
	case KindNB:
		return "NB"
	case KindGB:
		return "GB"
	case KindUB:
		return "UB"
	default:
		return "unknown"
	}
}

// WireVersion is the compatibility-version byte carried in every
// serialized block.
const WireVersion = 1

// RemoveSignature authorizes deleting a block at its address.
type RemoveSignature struct {
	Signer PublicKey
	Sig    []byte
	// Sentinel carries the variant-specific remove payload — for NB this
	// is the signed tombstone NB itself.
	Sentinel []byte
}

// Model is the minimal context a block needs to validate itself: who is
// asking (Self), and how to resolve another block's owner/editor key by
// address without pulling in the whole facade (avoiding the import cycle
// block -> doughnut -> block, and keeping Validate pure and synchronous).
type Model interface {
	// Self returns the public key of the identity performing the
	// operation (the local node's signing identity).
	Self() PublicKey
	// ResolveKey looks up the public key bound to addr (an owner,
	// editor, or group member address) via the keychain/overlay, used
	// by ACB/GB validation to check ACL membership. ok is false if the
	// address cannot currently be resolved.
	ResolveKey(addr address.Address) (PublicKey, bool)
}

// Block is the common interface every variant implements.
type Block interface {
	Kind() Kind
	Address() address.Address
	Payload() []byte

	// Validate checks the block's own internal consistency — address
	// derivation, signatures — independent of any prior version. writing
	// is true when called from a store path (vs. a read-time sanity
	// check).
	Validate(m Model, writing bool) error

	// ValidateReplace checks whether next may legally replace this block
	// at the same address.
	ValidateReplace(m Model, next Block) error

	// SignRemove produces a RemoveSignature authorizing this block's
	// deletion, using priv as the signing key.
	SignRemove(priv PrivateKey) (RemoveSignature, error)

	// ValidateRemove checks whether sig authorizes removing this block.
	ValidateRemove(m Model, sig RemoveSignature) error

	// Clone returns a deep copy, used by the cache so a returned
	// block can be mutated by its caller without affecting cached state.
	Clone() Block
}
