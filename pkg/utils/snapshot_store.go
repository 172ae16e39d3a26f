package utils

import (
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// SnapshotStore keeps the latest value per key in a badger database. It is
// used to persist the last good node list across restarts; nothing older
// than the current value is retained.
type SnapshotStore struct {
	db    *badger.DB
	cache sync.Map
}

func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	opts := badger.DefaultOptions(path)
	// Decrease logging verbosity
	opts.Logger = nil
	// One version per key is all a snapshot needs.
	opts.NumVersionsToKeep = 1
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func (s *SnapshotStore) Put(key string, value []byte) error {
	buf := append([]byte(nil), value...)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf)
	})
	if err == nil {
		s.cache.Store(key, buf)
	}
	return err
}

// Get returns the stored value, or nil without error when key is absent.
func (s *SnapshotStore) Get(key string) ([]byte, error) {
	if v, ok := s.cache.Load(key); ok {
		return v.([]byte), nil
	}
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err == nil {
		s.cache.Store(key, val)
	}
	return val, err
}

func (s *SnapshotStore) Delete(key string) error {
	s.cache.Delete(key)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}
