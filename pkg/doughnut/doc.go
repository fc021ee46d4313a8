// Package doughnut assembles the storage core into the facade an
// application actually talks to: it owns a node's identity and
// passport, its overlay membership, its local peer, and the
// cache-over-async-over-paxos consensus stack, and exposes the
// block-level operations (insert/update/fetch/remove) and the
// constructors (make_immutable_block and friends) that the rest of a
// Doughnut deployment — a mount layer, a CLI, a gRPC gateway — would
// be built on top of, none of which are this package's concern.
package doughnut
