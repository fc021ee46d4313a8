package block

import (
	"bytes"
	"crypto/rand"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/cuemby/doughnut/pkg/dnerr"

	"golang.org/x/crypto/curve25519"
)

// GroupKeyPair is one generation of a group's X25519 key pair. GB never
// exposes the private half on the wire; Seals carries it sealed per admin
// instead.
type GroupKeyPair struct {
	Public PublicKey
}

// AdminSeal is one admin's wrapped copy of the current group private key.
type AdminSeal struct {
	Admin PublicKey
	Token []byte
}

// GB is the group block: an ACB extended with a rotating sequence of
// group key pairs and per-admin seals of the current group private key.
type GB struct {
	ACB

	// Generations never shrinks: removing a member
	// always appends a fresh key pair rather than mutating an old one.
	Generations []GroupKeyPair
	// Seals holds the current generation's private key, sealed once per
	// admin key in Admins (inherited from ACB).
	Seals []AdminSeal
}

// NewGB constructs a GB owned by owner with one initial key generation.
func NewGB(owner PublicKey, salt []byte, groupPub PublicKey) *GB {
	g := &GB{}
	g.Owner = append(PublicKey(nil), owner...)
	g.Salt = append([]byte(nil), salt...)
	g.Editor = append(PublicKey(nil), owner...)
	g.aclChanged = true
	g.Generations = []GroupKeyPair{{Public: append(PublicKey(nil), groupPub...)}}
	return g
}

func (b *GB) Kind() Kind { return KindGB }

// CurrentGroupKey returns the group's current (most recent) public key,
// which is what ACBs reference in their Groups ACL entries.
func (b *GB) CurrentGroupKey() PublicKey {
	return b.Generations[len(b.Generations)-1].Public
}

// RemoveMember rotates the group's key pair: it appends a fresh
// generation, re-wraps newGroupPriv (the new generation's private key)
// under every remaining admin, and marks the ACL changed so the next
// ACB-level Seal rewraps reader tokens under the new group key.
func (b *GB) RemoveMember(removed PublicKey, newGroupPub, newGroupPriv PublicKey, remainingAdmins []PublicKey) error {
	b.Generations = append(b.Generations, GroupKeyPair{Public: append(PublicKey(nil), newGroupPub...)})

	seals := make([]AdminSeal, 0, len(remainingAdmins))
	for _, admin := range remainingAdmins {
		adminBoxPub, err := IdentityBoxPublicKey(admin)
		if err != nil {
			return fmt.Errorf("block: GB remove member: derive box key for admin: %w", err)
		}
		token, err := wrapKey(newGroupPriv, PublicKey(adminBoxPub[:]))
		if err != nil {
			return fmt.Errorf("block: GB remove member: wrap for admin: %w", err)
		}
		seals = append(seals, AdminSeal{Admin: append(PublicKey(nil), admin...), Token: token})
	}
	b.Seals = seals
	b.Admins = append([]PublicKey(nil), remainingAdmins...)

	out := b.Entries[:0]
	for _, e := range b.Entries {
		if !e.User.Equal(removed) {
			out = append(out, e)
		}
	}
	b.Entries = out
	b.aclChanged = true
	return nil
}

// GenerateGroupKeyPair produces a fresh X25519 key pair suitable for use
// as a group generation, matching the wrapping scheme used by wrapKey.
func GenerateGroupKeyPair() (pub, priv PublicKey, err error) {
	var privArr [32]byte
	if _, err := io.ReadFull(rand.Reader, privArr[:]); err != nil {
		return nil, nil, err
	}
	pubArr, err := curve25519.X25519(privArr[:], curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("block: derive X25519 public key: %w", err)
	}
	return PublicKey(pubArr), PublicKey(append([]byte(nil), privArr[:]...)), nil
}

func (b *GB) Validate(m Model, writing bool) error {
	if len(b.Generations) == 0 {
		return dnerr.NewValidation("GB must have at least one key generation")
	}
	return b.ACB.Validate(m, writing)
}

func (b *GB) ValidateReplace(m Model, next Block) error {
	nb, ok := next.(*GB)
	if !ok {
		return dnerr.NewValidation("GB can only be replaced by another GB")
	}
	if len(nb.Generations) < len(b.Generations) {
		return dnerr.NewValidation("GB key generation sequence must never shrink")
	}
	for i := range b.Generations {
		if !nb.Generations[i].Public.Equal(b.Generations[i].Public) {
			return dnerr.NewValidation("GB existing key generations must not change")
		}
	}
	return b.ACB.ValidateReplace(m, &nb.ACB)
}

func (b *GB) Clone() Block {
	clone := &GB{ACB: *(b.ACB.Clone().(*ACB))}
	clone.Generations = append([]GroupKeyPair(nil), b.Generations...)
	clone.Seals = append([]AdminSeal(nil), b.Seals...)
	return clone
}

// gbWire mirrors GB. Defined explicitly (rather than relying on ACB's
// GobEncode being promoted) since promotion would serialize only the
// embedded ACB and silently drop Generations and Seals.
type gbWire struct {
	ACB         acbWire
	Generations []GroupKeyPair
	Seals       []AdminSeal
}

func (b *GB) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(gbWire{ACB: b.ACB.toWire(), Generations: b.Generations, Seals: b.Seals})
	return buf.Bytes(), err
}

func (b *GB) GobDecode(data []byte) error {
	var w gbWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	b.ACB.fromWire(w.ACB)
	b.Generations = w.Generations
	b.Seals = w.Seals
	return nil
}
