package doughnut

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/cuemby/doughnut/pkg/block"
	"github.com/cuemby/doughnut/pkg/security"
	"github.com/cuemby/doughnut/pkg/storage"
)

// setCAEncryptionKey derives this node's CA-sealing key from passphrase
// and installs it as the process-global key security.Encrypt/Decrypt
// use to seal the certificate authority's root private key in store.
// It must run before any CertAuthority Initialize/LoadFromStore/
// SaveToStore call.
func setCAEncryptionKey(passphrase string) error {
	key, err := deriveCAKey(passphrase)
	if err != nil {
		return fmt.Errorf("doughnut: derive CA key: %w", err)
	}
	if err := security.SetClusterEncryptionKey(key[:]); err != nil {
		return fmt.Errorf("doughnut: set CA key: %w", err)
	}
	return nil
}

// loadOrCreateIdentity returns this node's signing key pair, generating
// and persisting a fresh one on first run. The private key is never
// written to store in the clear: it is AES-GCM sealed under a key
// derived from passphrase via HKDF-SHA256, so the bbolt file alone
// (without the passphrase) discloses nothing about the node's signing
// identity.
func loadOrCreateIdentity(store storage.Store, passphrase string) (block.PublicKey, block.PrivateKey, error) {
	existing, err := store.GetIdentity()
	if err != nil {
		return nil, nil, fmt.Errorf("doughnut: load identity: %w", err)
	}
	if existing != nil {
		priv, err := decryptPrivateKey(passphrase, existing.PrivateKey)
		if err != nil {
			return nil, nil, fmt.Errorf("doughnut: decrypt identity: %w", err)
		}
		return block.PublicKey(existing.PublicKey), priv, nil
	}

	pub, priv, err := block.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("doughnut: generate identity: %w", err)
	}
	sealed, err := encryptPrivateKey(passphrase, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("doughnut: seal identity: %w", err)
	}
	if err := store.SaveIdentity(&storage.Identity{PublicKey: pub, PrivateKey: sealed}); err != nil {
		return nil, nil, fmt.Errorf("doughnut: save identity: %w", err)
	}
	return pub, priv, nil
}

// derivePassphraseKey stretches passphrase into a 32-byte AES-256 key via
// HKDF-SHA256, salted with a fixed, public info string — the salt need
// not be secret or random since passphrase itself supplies the entropy.
func derivePassphraseKey(passphrase string) ([32]byte, error) {
	var key [32]byte
	kdf := hkdf.New(sha256.New, []byte(passphrase), []byte("doughnut-identity-salt"), []byte("doughnut node identity v1"))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, fmt.Errorf("derive passphrase key: %w", err)
	}
	return key, nil
}

// deriveCAKey stretches the same node passphrase into a second,
// independent 32-byte key (distinct HKDF info string from
// derivePassphraseKey) used to seal the certificate authority's root
// private key at rest via security.SetClusterEncryptionKey — kept
// separate from the identity key so neither secret's compromise
// implies the other's.
func deriveCAKey(passphrase string) ([32]byte, error) {
	var key [32]byte
	kdf := hkdf.New(sha256.New, []byte(passphrase), []byte("doughnut-ca-salt"), []byte("doughnut node ca v1"))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, fmt.Errorf("derive ca key: %w", err)
	}
	return key, nil
}

func encryptPrivateKey(passphrase string, priv block.PrivateKey) ([]byte, error) {
	key, err := derivePassphraseKey(passphrase)
	if err != nil {
		return nil, err
	}
	c, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(c)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, priv, nil), nil
}

func decryptPrivateKey(passphrase string, sealed []byte) (block.PrivateKey, error) {
	key, err := derivePassphraseKey(passphrase)
	if err != nil {
		return nil, err
	}
	c, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(c)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed identity shorter than nonce")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("wrong passphrase or corrupted identity: %w", err)
	}
	return block.PrivateKey(plain), nil
}
