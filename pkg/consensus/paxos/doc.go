/*
Package paxos implements single-decree Paxos, run independently per
address, as the strongly-consistent consensus layer beneath the async
write-back journal and the read cache.

Quorum membership for a fresh address comes from overlay.Allocate; once
a value (a Block or a Quorum reconfiguration) is chosen at an address,
every subsequent decree there targets the quorum recorded at accept
time. LocalAcceptor persists Promise/Accept state in a Silo under a key
derived from the address (StateAddress) and, once a Block value is
accepted, applies it through a local.Peer so a plain fetch against this
node returns the latest accepted content without re-running a round.

Proposal numbers are (round, proposer id) pairs, ordered lexicographically
so ties break deterministically without a coordinator. A proposer that
loses a round to a concurrent proposer's value either retries against a
newly-chosen quorum (if the winning value was a reconfiguration) or
surfaces the winning block as a Conflict for the caller's resolver to
reconcile, matching local.Peer's own store-time conflict handling one
layer down.
*/
package paxos
