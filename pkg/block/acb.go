package block

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/cuemby/doughnut/pkg/dnerr"

	"golang.org/x/crypto/nacl/box"
)

// ACLEntry grants a single user read and/or write access to an ACB, along
// with that user's wrapped copy of the content-encryption key.
type ACLEntry struct {
	User      PublicKey
	Read      bool
	Write     bool
	// Token is the content-encryption key, sealed to User's box key via
	// NaCl box (X25519 + XSalsa20-Poly1305). Empty when Read is false.
	Token []byte
}

// GroupACLEntry grants an entire group read and/or write access, keyed by
// the group's current public key rather than an individual user's.
type GroupACLEntry struct {
	GroupKey PublicKey
	Read     bool
	Write    bool
	Token    []byte
}

// ACB is the ACL block: a mutable, encrypted, access-controlled block
// layered on top of an OKB.
type ACB struct {
	OKB

	Entries      []ACLEntry
	Groups       []GroupACLEntry
	WorldRead    bool
	WorldWrite   bool
	Admins       []PublicKey
	Editor       PublicKey
	EditorSig    []byte
	// The encrypted payload lives in OKB.payload once sealed (plaintext
	// is staged via SetPlaintext and never persisted directly).
	aclChanged bool
	plaintext  []byte
	// contentKey is cached in memory only long enough to wrap it per
	// reader during Seal; it is never serialized.
	contentKey []byte
	// ownerToken is the owner's wrapped content key, kept out-of-line
	// from Entries/Groups since the owner may not appear in either list.
	ownerToken []byte
}

// NewACB constructs an unsealed ACB owned by owner.
func NewACB(owner PublicKey, salt []byte) *ACB {
	a := &ACB{}
	a.Owner = append(PublicKey(nil), owner...)
	a.Salt = append([]byte(nil), salt...)
	a.Editor = append(PublicKey(nil), owner...)
	a.aclChanged = true
	return a
}

func (b *ACB) Kind() Kind { return KindACB }

// SetPlaintext stages new plaintext payload for the next Seal call.
func (b *ACB) SetPlaintext(data []byte) {
	b.plaintext = append([]byte(nil), data...)
}

// Grant adds or updates a user's ACL entry and marks the ACL dirty so the
// next Seal rewraps every reader's token.
func (b *ACB) Grant(user PublicKey, read, write bool) {
	for i := range b.Entries {
		if b.Entries[i].User.Equal(user) {
			b.Entries[i].Read = read
			b.Entries[i].Write = write
			b.aclChanged = true
			return
		}
	}
	b.Entries = append(b.Entries, ACLEntry{User: user, Read: read, Write: write})
	b.aclChanged = true
}

// Revoke removes a user's ACL entry entirely.
func (b *ACB) Revoke(user PublicKey) {
	out := b.Entries[:0]
	for _, e := range b.Entries {
		if !e.User.Equal(user) {
			out = append(out, e)
		}
	}
	b.Entries = out
	b.aclChanged = true
}

// writePermission reports whether editor may write to b: owner, or
// world-writable, or an ACL entry with Write set.
func (b *ACB) writePermission(editor PublicKey) bool {
	if b.Owner.Equal(editor) {
		return true
	}
	if b.WorldWrite {
		return true
	}
	for _, e := range b.Entries {
		if e.User.Equal(editor) && e.Write {
			return true
		}
	}
	for _, g := range b.Groups {
		if g.GroupKey.Equal(editor) && g.Write {
			return true
		}
	}
	return false
}

// readers enumerates every public key that must receive a wrapped copy
// of the content-encryption key: the owner, every ACL entry with Read
// set, and every group entry.
func (b *ACB) readers() []PublicKey {
	out := []PublicKey{b.Owner}
	for _, e := range b.Entries {
		if e.Read {
			out = append(out, e.User)
		}
	}
	for _, g := range b.Groups {
		out = append(out, g.GroupKey)
	}
	return out
}

// SealAs seals the ACB as editor: if the ACL changed since the last seal,
// generates a fresh content key and wraps it per reader; encrypts the
// staged plaintext under the current content key; then signs (version,
// ciphertext hash, acl hash) with the editor's key.
func (b *ACB) SealAs(editorPriv PrivateKey, editorPub PublicKey) error {
	if b.aclChanged || b.contentKey == nil {
		key := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return fmt.Errorf("block: ACB seal: generate content key: %w", err)
		}
		b.contentKey = key

		for i, e := range b.Entries {
			if !e.Read {
				b.Entries[i].Token = nil
				continue
			}
			boxPub, err := IdentityBoxPublicKey(e.User)
			if err != nil {
				return fmt.Errorf("block: ACB seal: derive box key for user: %w", err)
			}
			token, err := wrapKey(key, PublicKey(boxPub[:]))
			if err != nil {
				return fmt.Errorf("block: ACB seal: wrap token for user: %w", err)
			}
			b.Entries[i].Token = token
		}
		for i, g := range b.Groups {
			if !g.Read {
				b.Groups[i].Token = nil
				continue
			}
			// g.GroupKey is already X25519 (GB rotates it via
			// GenerateGroupKeyPair), unlike an individual user's Ed25519
			// identity key, so it needs no conversion here.
			token, err := wrapKey(key, g.GroupKey)
			if err != nil {
				return fmt.Errorf("block: ACB seal: wrap token for group: %w", err)
			}
			b.Groups[i].Token = token
		}
		ownerBoxPub, err := IdentityBoxPublicKey(b.Owner)
		if err != nil {
			return fmt.Errorf("block: ACB seal: derive box key for owner: %w", err)
		}
		ownerToken, err := wrapKey(key, PublicKey(ownerBoxPub[:]))
		if err != nil {
			return fmt.Errorf("block: ACB seal: wrap token for owner: %w", err)
		}
		b.ownerToken = ownerToken
		b.aclChanged = false
	}

	ciphertext, err := aesGCMEncrypt(b.contentKey, b.plaintext)
	if err != nil {
		return fmt.Errorf("block: ACB seal: encrypt payload: %w", err)
	}
	b.payload = ciphertext

	b.Editor = append(PublicKey(nil), editorPub...)
	b.Version++
	signed := b.editorSignedContent()
	b.EditorSig = Sign(editorPriv, signed)

	// The owner's OKB-level signature chains the editor's authority: it
	// covers the same fields as a plain OKB seal would, so a verifier
	// that only understands OKB can still confirm the owner produced
	// *an* ACB at this version, while ValidateReplace separately checks
	// the editor's ACL permission.
	if b.Owner.Equal(editorPub) {
		b.Signature = Sign(editorPriv, b.signedContent())
	}
	return nil
}

func (b *ACB) editorSignedContent() []byte {
	h := sha256.New()
	h.Write(b.payload)
	ciphertextHash := h.Sum(nil)

	h2 := sha256.New()
	for _, e := range b.Entries {
		h2.Write(e.User)
		h2.Write(e.Token)
	}
	for _, g := range b.Groups {
		h2.Write(g.GroupKey)
		h2.Write(g.Token)
	}
	aclHash := h2.Sum(nil)

	buf := make([]byte, 0, 8+len(ciphertextHash)+len(aclHash))
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], b.Version)
	buf = append(buf, v[:]...)
	buf = append(buf, ciphertextHash...)
	buf = append(buf, aclHash...)
	return buf
}

func (b *ACB) Validate(m Model, writing bool) error {
	if !Verify(b.Editor, b.editorSignedContent(), b.EditorSig) {
		return dnerr.NewValidation("ACB data signature does not verify against editor key")
	}
	if !b.Owner.Equal(b.Editor) && !b.writePermission(b.Editor) {
		return dnerr.NewValidation("ACB editor lacks write permission")
	}
	return nil
}

func (b *ACB) ValidateReplace(m Model, next Block) error {
	nb, ok := next.(*ACB)
	if !ok {
		return dnerr.NewValidation("ACB can only be replaced by another ACB")
	}
	if !nb.Owner.Equal(b.Owner) {
		return dnerr.NewValidation("ACB replacement changes owner")
	}
	if nb.Version != b.Version+1 {
		return dnerr.NewValidation("ACB version must increase by exactly one")
	}
	if !b.Owner.Equal(b.Editor) && !b.writePermission(b.Editor) {
		return dnerr.NewValidation("ACB current editor lacked write permission")
	}
	if !adminSetEqual(b.Admins, nb.Admins) && !nb.Editor.Equal(nb.Owner) {
		return dnerr.NewValidation("ACB admin set may only change via the owner")
	}
	return nb.Validate(m, true)
}

func adminSetEqual(a, b []PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func (b *ACB) Clone() Block {
	clone := &ACB{
		OKB:        *(b.OKB.Clone().(*OKB)),
		WorldRead:  b.WorldRead,
		WorldWrite: b.WorldWrite,
		Editor:     append(PublicKey(nil), b.Editor...),
		EditorSig:  append([]byte(nil), b.EditorSig...),
		aclChanged: b.aclChanged,
		plaintext:  append([]byte(nil), b.plaintext...),
		contentKey: append([]byte(nil), b.contentKey...),
		ownerToken: append([]byte(nil), b.ownerToken...),
	}
	clone.Entries = append([]ACLEntry(nil), b.Entries...)
	clone.Groups = append([]GroupACLEntry(nil), b.Groups...)
	clone.Admins = append([]PublicKey(nil), b.Admins...)
	return clone
}

// acbWire mirrors ACB for gob purposes. Deliberately excluded: aclChanged,
// plaintext, and contentKey, all in-flight staging state for SealAs that
// never belongs in a persisted block. ownerToken is included since it is
// needed to decrypt the block after a fresh fetch.
type acbWire struct {
	OKB        okbWire
	Entries    []ACLEntry
	Groups     []GroupACLEntry
	WorldRead  bool
	WorldWrite bool
	Admins     []PublicKey
	Editor     PublicKey
	EditorSig  []byte
	OwnerToken []byte
}

func (b *ACB) toWire() acbWire {
	return acbWire{
		OKB:        b.OKB.toWire(),
		Entries:    b.Entries,
		Groups:     b.Groups,
		WorldRead:  b.WorldRead,
		WorldWrite: b.WorldWrite,
		Admins:     b.Admins,
		Editor:     b.Editor,
		EditorSig:  b.EditorSig,
		OwnerToken: b.ownerToken,
	}
}

func (b *ACB) fromWire(w acbWire) {
	b.OKB.fromWire(w.OKB)
	b.Entries = w.Entries
	b.Groups = w.Groups
	b.WorldRead = w.WorldRead
	b.WorldWrite = w.WorldWrite
	b.Admins = w.Admins
	b.Editor = w.Editor
	b.EditorSig = w.EditorSig
	b.ownerToken = w.OwnerToken
}

func (b *ACB) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(b.toWire())
	return buf.Bytes(), err
}

func (b *ACB) GobDecode(data []byte) error {
	var w acbWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	b.fromWire(w)
	return nil
}

// wrapKey seals key for recipient using an ephemeral NaCl box key pair.
func wrapKey(key []byte, recipient PublicKey) ([]byte, error) {
	var recipientKey [32]byte
	copy(recipientKey[:], recipient)
	return box.SealAnonymous(nil, key, &recipientKey, rand.Reader)
}

// unwrapKey opens a token sealed by wrapKey using the recipient's box
// key pair.
func unwrapKey(token []byte, pub, priv [32]byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, token, &pub, &priv)
	if !ok {
		return nil, fmt.Errorf("block: unwrap key: open failed")
	}
	return out, nil
}

func aesGCMEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func aesGCMDecrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("block: ciphertext shorter than nonce")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

// DecryptAs decrypts b's payload for reader, whose box key pair is
// (boxPub, boxPriv). It locates reader's wrapped token among Entries,
// Groups, or (if reader is the owner) the owner token. When reader is
// the owner or an individual ACLEntry grantee, boxPub/boxPriv must be
// derived from the reader's Ed25519 identity key pair via
// IdentityBoxPublicKey/IdentityBoxPrivateKey, matching how SealAs wraps
// those tokens; a group reader instead uses the group's own X25519 key
// pair directly.
func (b *ACB) DecryptAs(reader PublicKey, boxPub, boxPriv [32]byte) ([]byte, error) {
	var token []byte
	if b.Owner.Equal(reader) {
		token = b.ownerToken
	}
	if token == nil {
		for _, e := range b.Entries {
			if e.User.Equal(reader) && e.Read {
				token = e.Token
				break
			}
		}
	}
	if token == nil {
		for _, g := range b.Groups {
			if g.GroupKey.Equal(reader) && g.Read {
				token = g.Token
				break
			}
		}
	}
	if token == nil {
		return nil, dnerr.NewValidation("ACB decrypt: reader has no wrapped token")
	}
	key, err := unwrapKey(token, boxPub, boxPriv)
	if err != nil {
		return nil, fmt.Errorf("block: ACB decrypt: %w", err)
	}
	return aesGCMDecrypt(key, b.payload)
}
