package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketIdentity = []byte("identity")
	bucketCA       = []byte("ca")
	bucketKeychain = []byte("keychain")

	identityKey = []byte("self")
	caKey       = []byte("root")
)

// BoltStore implements Store using a single bbolt file for the node's
// local, non-content-addressed metadata.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the facade's metadata database
// under dataDir/doughnut.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "doughnut.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketIdentity, bucketCA, bucketKeychain} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) SaveIdentity(id *Identity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(id)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIdentity).Put(identityKey, data)
	})
}

func (s *BoltStore) GetIdentity() (*Identity, error) {
	var id Identity
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIdentity).Get(identityKey)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &id)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &id, nil
}

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put(caKey, data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCA).Get(caKey)
		if data != nil {
			out = append([]byte(nil), data...)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) PutKeychainEntry(entry KeychainEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketKeychain).Put(entry.ShortHash[:], data)
	})
}

func (s *BoltStore) GetKeychainEntry(shortHash [8]byte) (KeychainEntry, bool, error) {
	var entry KeychainEntry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketKeychain).Get(shortHash[:])
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	return entry, found, err
}

func (s *BoltStore) ListKeychainEntries() ([]KeychainEntry, error) {
	var out []KeychainEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeychain).ForEach(func(_, data []byte) error {
			var entry KeychainEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				return err
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}
