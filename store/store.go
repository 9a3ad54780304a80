// Package store persists the last identity a node used so that shared room
// links stay valid across restarts.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// ErrNotFound indicates no identity has been saved yet.
var ErrNotFound = errors.New("identity not found")

var identityKey = []byte("identity:last")

// IdentityStore is the persistence slot for the last confirmed identity.
type IdentityStore interface {
	Load() (string, error)
	Save(identity string) error
}

// BadgerStore keeps the identity in a BadgerDB directory.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the database at path. An empty path opens
// an in-memory database.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Load returns the saved identity or ErrNotFound.
func (s *BadgerStore) Load() (string, error) {
	var identity string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			identity = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load identity: %w", err)
	}
	return identity, nil
}

// Save overwrites the saved identity.
func (s *BadgerStore) Save(identity string) error {
	if identity == "" {
		return errors.New("refusing to save empty identity")
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(identityKey, []byte(identity))
	})
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "BadgerStore.Save",
		"identity": identity,
	}).Debug("Identity persisted")
	return nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// MemoryStore is an IdentityStore that lives only as long as the process.
type MemoryStore struct {
	mu       sync.Mutex
	identity string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == "" {
		return "", ErrNotFound
	}
	return s.identity, nil
}

func (s *MemoryStore) Save(identity string) error {
	if identity == "" {
		return errors.New("refusing to save empty identity")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
	return nil
}
