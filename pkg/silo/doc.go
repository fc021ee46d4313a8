/*
Package silo implements Get/Set/Erase/List/Status over Address, with
no knowledge of block structure, signatures, or consensus — those
belong to package block and the consensus stack, which use a Silo as
their persistence substrate.

FSBackend is the production implementation: each block lives at
root/<first-byte-hex>/<33-byte-hex>, written via a temp-file-then-
rename for crash safety, with an in-memory size index rebuilt once at
startup so writes never need a stat() to compute the capacity delta.
MemoryBackend is a map-backed implementation for tests and standalone
facade instances that do not need durability.

Both backends satisfy metrics.SiloSource directly.
*/
package silo
