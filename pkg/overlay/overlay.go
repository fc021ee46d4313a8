// Package overlay defines the peer-placement contract the storage core
// depends on without caring how placement decisions are actually made.
package overlay

import (
	"context"

	"github.com/cuemby/doughnut/pkg/address"
	"github.com/cuemby/doughnut/pkg/events"
)

// Location identifies a peer: its node id, once known, and the network
// endpoints it can be reached at. ID may be empty before a dial's
// handshake has completed.
type Location struct {
	ID        string
	Endpoints []string
}

// Overlay resolves which peers should host or are believed to host a
// given address. The storage core only assumes that for any mutable
// block, successive Lookup calls converge to a quorum-majority overlap
// sufficient for Paxos progress; it does not depend on the topology
// algorithm underneath.
type Overlay interface {
	// Allocate returns up to n peers suitable to host a new block at addr.
	Allocate(ctx context.Context, addr address.Address, n int) ([]Location, error)

	// Lookup returns up to n peers believed to hold the block at addr.
	// fast=true permits returning a subset sooner at the cost of
	// completeness.
	Lookup(ctx context.Context, addr address.Address, n int, fast bool) ([]Location, error)

	// LookupNode resolves a peer by id, or fails with dnerr.ErrNodeNotFound.
	LookupNode(ctx context.Context, id string) (Location, error)

	// Discover bootstraps membership from a seed list of locations.
	Discover(ctx context.Context, seeds []Location) error

	// Discovered reports whether id is currently known to the overlay.
	Discovered(id string) (Location, bool)

	// PeerCount reports the current known membership size, read by
	// metrics.Collector to drive doughnut_overlay_peers_total.
	PeerCount() int
}

// Signaler is implemented by overlays that raise discovery and
// disappearance events through a shared events.Broker, rather than
// requiring callers to register per-instance observer callbacks.
type Signaler interface {
	// Events returns the broker this overlay publishes
	// events.EventDiscovery / events.EventDisappearance to.
	Events() *events.Broker
}
