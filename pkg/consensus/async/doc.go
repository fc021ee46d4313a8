/*
Package async wraps a consensus.Consensus (normally paxos.Paxos) with a
write-back journal: Store/Remove append a durable entry and return as
soon as it has been fsync'd to journal_dir, rather than waiting on the
wrapped consensus's own propose/accept round trip.

A single goroutine drains the journal in submission order, applying
each entry to the wrapped consensus and deleting its file once settled.
Consecutive Set entries for the same address coalesce — the stale one
is dropped before it ever reaches the wrapped consensus — up to
Config.MaxHop, after which a hop is forced through to the wrapped layer
so a hot address can never starve its own durability entirely. A
superseded entry's resolver is not discarded; it is chained onto the
superseding entry as a fallback, tried only if the live entry's own
resolver fails to reconcile a conflict.

Entries beyond Config.QueueCapacity are tracked by index only and
re-read from disk when the drain loop reaches them, bounding the
journal's resident memory independent of queue depth. On restart, New
replays journal_dir synchronously before returning, so no caller ever
observes an Async whose replay barrier hasn't already opened; a
replayed entry's resolver is necessarily nil; a conflict on replay
is retried unresolved until Config.MaxRetries is spent and then
surfaces as a dropped entry (see Drops), since the in-memory closure
that could have resolved it did not survive the restart.
*/
package async
