/*
Package security provides the cryptographic services a Doughnut node
needs outside the content-addressed block format itself.

CertAuthority issues and verifies the X.509 certificates Dock uses to
secure its transport connections: a single self-signed root (4096-bit
RSA, 10 year validity) signs short-lived per-node leaf certificates
(2048-bit RSA, 90 day validity) that authenticate both ends of a
connection at the TLS layer. This is independent of, and sits below,
the Ed25519 node identities exchanged during the Dock handshake and
the passports issued in passport.go — TLS proves the transport is
talking to some certificate the network CA vouches for, the handshake
proves which node identity is on the other end of it.

SecretsManager wraps AES-256-GCM for small encrypted values that never
become block content directly, such as a passphrase used to derive an
ACB's symmetric content key. Encrypt/Decrypt, keyed by a
process-global key set once via SetClusterEncryptionKey, protect the
CA's own root private key at rest in storage.

passport.go issues and verifies Ed25519-signed passports: a short
statement ("this node ID owns this public key, until this expiry")
that a node presents during a Dock handshake so the peer it is
connecting to can authenticate it without a prior relationship, the
way a CHB's owner signature lets any holder verify authorship without
contacting the signer.
*/
package security
