/*
Package storage provides bbolt-backed persistence for the facade's own
local metadata: its signing identity, the network certificate
authority's material, and a keychain spill cache.

This is deliberately separate from the silo, which persists block
content directly to the filesystem using the address-derived path
layout described in package silo; bbolt's ACID transactions are a good
fit for the small amount of mutable bookkeeping state the facade needs
across restarts, but would be the wrong tool for the silo's much larger,
append-heavy block volume.
*/
package storage
