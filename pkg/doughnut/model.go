package doughnut

import (
	"context"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/silo"
)

// siloModel implements block.Model directly against the node's own
// Silo: validation runs locally (inside local.Peer.Store/Remove) and
// must never recurse into the consensus stack to resolve an owner key,
// so it reads the owning block's current copy straight from disk rather
// than going through Fetch/the cache.
type siloModel struct {
	self block.PublicKey
	silo silo.Silo
}

func newSiloModel(self block.PublicKey, s silo.Silo) *siloModel {
	return &siloModel{self: self, silo: s}
}

func (m *siloModel) Self() block.PublicKey { return m.self }

// ResolveKey looks up addr in the local silo and extracts the owner
// public key from whichever mutable block variant is stored there. It
// reports false if nothing is stored at addr or the stored block has no
// notion of ownership (a CHB, say, cannot itself be an owner).
func (m *siloModel) ResolveKey(addr address.Address) (block.PublicKey, bool) {
	data, err := m.silo.Get(context.Background(), addr)
	if err != nil {
		return nil, false
	}
	b, err := block.DecodeBlock(data)
	if err != nil {
		return nil, false
	}
	switch v := b.(type) {
	case *block.OKB:
		return v.Owner, true
	case *block.ACB:
		return v.Owner, true
	case *block.GB:
		return v.Owner, true
	case *block.NB:
		return v.Owner, true
	case *block.UB:
		return v.Owner, true
	default:
		return nil, false
	}
}
