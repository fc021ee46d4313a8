/*
Package cache is the outermost consensus.Consensus layer: a bounded,
TTL-aware in-memory LRU (hashicorp/golang-lru/v2) in front of whatever
consensus is passed to New, normally an async.Async wrapping
paxos.Paxos. It is the layer the doughnut facade talks to directly.

A hit younger than Config.InvalidationAge is returned straight from
memory. Past that age but still under Config.TTL, the next access
triggers a conditional revalidation: the wrapped consensus is asked for
the address's current value and the result's version is compared
against the cached one, confirming freshness without discarding the
entry unless something actually changed. Past TTL the entry is simply
dropped.

Concurrent misses (and concurrent revalidations) for the same address
share one round trip to the wrapped consensus through a per-address
barrier shaped like keychain.Keychain's short-hash resolution map,
rather than a golang.org/x/sync/singleflight.Group — that package isn't
present anywhere in the retrieval pack this module was built from.

CHB payloads additionally land in an on-disk, size-capped, mtime-ordered
cache, since an immutable block never needs revalidation and is worth
keeping around longer than memory pressure alone would allow; a disk
hit is promoted back into the in-memory LRU before being returned.

Every write goes through invalidate-then-delegate: a Store or Remove
evicts the address's cached slot first, so a write that later fails
never leaves a stale hit behind for a concurrent reader to find.
*/
package cache
