package storage

// Identity is the node's persisted signing identity: its long-lived
// Ed25519 key pair. The facade leaves Passport empty; it issues the
// node's passport afresh at every start.
type Identity struct {
	PublicKey  []byte
	PrivateKey []byte
	Passport   []byte
}

// KeychainEntry pairs a key's short hash with the full public key it
// resolves to, persisted so a node does not have to re-discover every
// peer key it has already seen across a restart.
type KeychainEntry struct {
	ShortHash [8]byte
	FullKey   []byte
}

// Store defines the interface for the facade's local metadata storage:
// its own identity, the network's CA material, and a keychain spill for
// short-hash resolution. It holds none of the actual block data, which
// lives in the silo's own filesystem layout.
type Store interface {
	SaveIdentity(id *Identity) error
	GetIdentity() (*Identity, error)

	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	PutKeychainEntry(entry KeychainEntry) error
	GetKeychainEntry(shortHash [8]byte) (KeychainEntry, bool, error)
	ListKeychainEntries() ([]KeychainEntry, error)

	Close() error
}
