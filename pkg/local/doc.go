/*
Package local implements the node's own authoritative copy of a block:
the last stop before bytes reach a Silo, and the first stop for bytes
read back out of one.

Peer validates a block before ever persisting it, resolves
replace-in-place conflicts against whatever version is already on disk,
and verifies a remove signature against the block it actually
authorizes removing — none of which a Silo itself knows how to do, since
Silo only understands addresses and byte slices. Paxos, Dock, and the
facade all talk to a Peer rather than a Silo directly.
*/
package local
