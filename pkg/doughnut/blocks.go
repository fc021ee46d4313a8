package doughnut

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
)

// SaltSize is the random salt length used for every freshly minted
// mutable block, matching the owner-address derivation's expectations
// in pkg/block/hash.go.
const SaltSize = 16

func randomSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("doughnut: generate salt: %w", err)
	}
	return salt, nil
}

// MakeImmutableBlock builds a content-hash block over data. owner, if
// non-nil, is the address of the mutable block (OKB/ACB/GB) whose
// signature will later be required to remove it; nil leaves removal
// unrestricted.
func (d *Doughnut) MakeImmutableBlock(data []byte, owner *address.Address) *block.CHB {
	return block.NewCHB(data, owner)
}

// MakeMutableBlock builds and seals a fresh owner key block under this
// node's own identity, at version 1 (sealing bumps it from 0) and ready
// to Insert.
func (d *Doughnut) MakeMutableBlock(data []byte) (*block.OKB, error) {
	salt, err := randomSalt()
	if err != nil {
		return nil, err
	}
	b := block.NewOKB(d.pub, salt, data)
	if err := b.SealAs(d.priv); err != nil {
		return nil, fmt.Errorf("doughnut: seal mutable block: %w", err)
	}
	return b, nil
}

// MakeNamedBlock builds and seals a name anchor under this node's own
// identity, binding key to data.
func (d *Doughnut) MakeNamedBlock(key string, data []byte) (*block.NB, error) {
	b := block.NewNB(d.pub, key, data)
	if err := b.SealAs(d.priv); err != nil {
		return nil, fmt.Errorf("doughnut: seal named block: %w", err)
	}
	return b, nil
}

// NamedBlockAddress returns the address a named block for key would
// occupy under this node's own identity, without constructing one —
// useful to probe for an existing claim before minting a new block.
func (d *Doughnut) NamedBlockAddress(key string) address.Address {
	return block.NamedAddress(d.pub, key)
}

// MakeUserBlock builds and seals a username claim under this node's own
// identity.
func (d *Doughnut) MakeUserBlock(username string) (*block.UB, error) {
	b := block.NewUB(d.pub, username)
	if err := b.SealAs(d.priv); err != nil {
		return nil, fmt.Errorf("doughnut: seal user block: %w", err)
	}
	return b, nil
}

// UserBlockAddress returns the address a username claim under this
// node's own identity would occupy.
func (d *Doughnut) UserBlockAddress(username string) address.Address {
	return block.UserAddress(d.pub, username)
}

// User is the minimal identity a UB resolves to: the username claimed
// and the public key it was bound to, reconstructed from a fetched
// block rather than carried as its own wire type.
type User struct {
	Username string
	PublicKey block.PublicKey
}

// MakeUser reconstructs a User from a previously fetched UB. It returns
// an error if b is not a UB.
func MakeUser(b block.Block) (User, error) {
	ub, ok := b.(*block.UB)
	if !ok {
		return User{}, fmt.Errorf("doughnut: block at %s is not a user block", b.Address().String())
	}
	return User{Username: ub.Username, PublicKey: ub.Owner}, nil
}
