/*
Package overlay defines the peer-placement contract consumed by Paxos,
Dock, and the facade, and provides Static, a fixed-membership
consistent-hashing implementation sufficient to make the rest of the
stack runnable and testable without a real topology algorithm such as
Kelips, Kouncil, or Kademlia.

Static hashes each address to a point on a SHA-256 ring alongside every
known peer and walks the ring clockwise to pick Allocate/Lookup
candidates, so placement is a deterministic function of the address and
current membership: adding or removing a peer reshuffles only the
addresses whose ring position falls in the affected arc.

Discovery and disappearance are published through the shared
events.Broker rather than per-instance observer callbacks, matching how
the rest of the stack (silo, dock) signals state changes.
*/
package overlay
