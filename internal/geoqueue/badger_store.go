package geoqueue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerRecordStore backs the substrate with an embedded Badger database.
// Preferred over the JSON file store when the outcome log is expected to
// grow large, since writes no longer rewrite the whole snapshot file.
type BadgerRecordStore struct {
	db *badger.DB
}

func NewBadgerRecordStore(dir string) (*BadgerRecordStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrInvalidInput
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger record store: %w", err)
	}
	return &BadgerRecordStore{db: db}, nil
}

func (s *BadgerRecordStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = string(v)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *BadgerRecordStore) Set(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

func (s *BadgerRecordStore) Remove(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *BadgerRecordStore) Occupancy() (int64, error) {
	var total int64
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			total += int64(len(item.Key())) + item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *BadgerRecordStore) Close() error {
	return s.db.Close()
}
