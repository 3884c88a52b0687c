package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BlobStore persists serialized captures by digest, plus the identifier of
// the machine that wrote them.
type BlobStore interface {
	Get(digest string) ([]byte, bool, error)
	Put(digest string, blob []byte) error
	MachineID() (string, error)
	SetMachineID(id string) error
	// Clear drops every blob.
	Clear() error
	Close() error
}

var (
	blobsBucket  = []byte("blobs")
	metaBucket   = []byte("meta")
	machineIDKey = []byte("machine_id")
)

// errLocked is returned by openBoltStore when another process holds the
// database lock.
var errLocked = errors.New("blob store is locked by another process")

// boltStore is a BlobStore in a bbolt file.
type boltStore struct {
	db *bolt.DB
}

// openBoltStore opens or creates the database at path and its buckets.
func openBoltStore(path string, lockTimeout time.Duration) (*boltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errLocked
		}
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{blobsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("cannot create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Get(digest string) ([]byte, bool, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(blobsBucket).Get([]byte(digest)); v != nil {
			// v is only valid inside the transaction.
			blob = append([]byte(nil), v...)
		}
		return nil
	})
	return blob, blob != nil, err
}

func (s *boltStore) Put(digest string, blob []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobsBucket).Put([]byte(digest), blob)
	})
}

func (s *boltStore) MachineID() (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		id = string(tx.Bucket(metaBucket).Get(machineIDKey))
		return nil
	})
	return id, err
}

func (s *boltStore) SetMachineID(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(machineIDKey, []byte(id))
	})
}

func (s *boltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(blobsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(blobsBucket)
		return err
	})
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

// MemoryStore is a BlobStore held in memory. It backs caches that are not
// persisted and is the fallback when the database cannot be opened.
type MemoryStore struct {
	mu        sync.RWMutex
	blobs     map[string][]byte
	machineID string
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Get(digest string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[digest]
	return blob, ok, nil
}

func (s *MemoryStore) Put(digest string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[digest] = append([]byte(nil), blob...)
	return nil
}

func (s *MemoryStore) MachineID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machineID, nil
}

func (s *MemoryStore) SetMachineID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machineID = id
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
