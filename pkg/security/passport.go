package security

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cuemby/doughnut/pkg/block"
)

// Passport is a signed vouching document a node presents when it
// connects to a peer it has never talked to before: it lets the peer
// confirm the connecting node's public key and node ID are genuine
// without an out-of-band introduction, the way a CHB's signature lets
// any holder verify authorship without contacting the owner.
type Passport struct {
	NodeID    string
	PublicKey block.PublicKey
	IssuedAt  time.Time
	ExpiresAt time.Time
	Signature []byte
}

// PassportAuthority issues and verifies passports under a single
// network signing identity, distinct from the TLS certificate
// authority in ca.go: a passport authenticates a Dock handshake's
// claimed node identity, a certificate authenticates the transport
// connection carrying it.
type PassportAuthority struct {
	pub  block.PublicKey
	priv block.PrivateKey
}

// NewPassportAuthority wraps an existing network signing key pair.
func NewPassportAuthority(pub block.PublicKey, priv block.PrivateKey) *PassportAuthority {
	return &PassportAuthority{pub: pub, priv: priv}
}

// PublicKey returns the authority's public key, distributed to peers
// so they can verify passports offline.
func (pa *PassportAuthority) PublicKey() block.PublicKey {
	return pa.pub
}

// Issue signs a passport binding nodeID to pubKey for the given
// validity window.
func (pa *PassportAuthority) Issue(nodeID string, pubKey block.PublicKey, validity time.Duration) (*Passport, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("passport: node id cannot be empty")
	}

	now := time.Now()
	p := &Passport{
		NodeID:    nodeID,
		PublicKey: pubKey,
		IssuedAt:  now,
		ExpiresAt: now.Add(validity),
	}
	p.Signature = block.Sign(pa.priv, passportDigest(p))
	return p, nil
}

// Verify checks that p is signed by the authority and has not expired.
func (pa *PassportAuthority) Verify(p *Passport) error {
	if time.Now().After(p.ExpiresAt) {
		return fmt.Errorf("passport: expired at %s", p.ExpiresAt)
	}
	if !block.Verify(pa.pub, passportDigest(p), p.Signature) {
		return fmt.Errorf("passport: signature verification failed")
	}
	return nil
}

// passportDigest builds the byte string a passport's signature covers:
// node ID, public key, and validity window, so a tampered field of any
// kind invalidates the signature.
func passportDigest(p *Passport) []byte {
	var buf []byte
	buf = append(buf, []byte(p.NodeID)...)
	buf = append(buf, p.PublicKey...)
	buf = appendInt64(buf, p.IssuedAt.UnixNano())
	buf = appendInt64(buf, p.ExpiresAt.UnixNano())
	return buf
}

func appendInt64(buf []byte, v int64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	return append(buf, tmp[:]...)
}

// Challenge is a random nonce a node sends to a peer during a Dock
// handshake; the peer signs it with its passport's key to prove
// possession of the corresponding private key, not just knowledge of
// a previously observed passport.
type Challenge [32]byte

// NewChallenge draws a fresh random challenge.
func NewChallenge() (Challenge, error) {
	var c Challenge
	if _, err := rand.Read(c[:]); err != nil {
		return c, fmt.Errorf("passport: generate challenge: %w", err)
	}
	return c, nil
}

// Respond signs a challenge with the node's own key, proving
// possession to whoever issued it.
func Respond(priv block.PrivateKey, c Challenge) []byte {
	return block.Sign(priv, c[:])
}

// VerifyResponse checks a challenge response against the public key a
// passport vouches for.
func VerifyResponse(pub block.PublicKey, c Challenge, response []byte) bool {
	return block.Verify(pub, c[:], response)
}
