// Package dock implements the peer-to-peer transport connecting
// Doughnut nodes: a gRPC service carrying a hand-rolled gob codec
// (there is no .proto/protoc step in this module, so message framing
// reuses the same gob wire convention as the rest of the storage core,
// through pkg/block's EncodeBlock/DecodeBlock for any field that is a
// block.Block), mutual authentication via a signed Passport and
// challenge/response exchanged during a two-call handshake, and a
// reconnecting Remote wrapper that implements paxos.Acceptor so the
// consensus layer never has to know whether an address's quorum member
// is itself or a peer three hops away.
//
// Connection is one gRPC channel to a single peer (TLS when
// DialOptions.TLSOption supplies credentials, plaintext otherwise), owning
// that peer's keychain.Keychain for the life of the connection.
// PeerCache keeps at most one Remote per node id alive at a time and
// implements paxos.Dialer so Paxos can resolve an overlay.Location
// without caring about connection reuse. A background heartbeat loop
// pings each cached peer on a ticker and drops it from the cache after
// enough consecutive failures, publishing events.EventDisconnected so
// the overlay and Paxos's own reconfiguration logic can react.
package dock
