// Package kvcap implements the KV capability (C3): a per-guest embedded
// ordered key/value store keyed by (table, key) with JSON values.
package kvcap

import (
	"encoding/json"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger"
)

// Store wraps one guest's embedded KV database.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) the KV store for one guest. When
// hostDataPath is empty the store lives under a throwaway temp directory
// (ephemeral, per spec §4.3's "else ephemeral" clause); otherwise it is
// rooted at <hostDataPath>/<guestName>/db.kv.
func Open(hostDataPath, guestName string) (*Store, error) {
	var dir string
	if hostDataPath == "" {
		tmp, err := os.MkdirTemp("", "fern-kv-*")
		if err != nil {
			return nil, err
		}
		dir = tmp
	} else {
		dir = filepath.Join(hostDataPath, guestName, "db.kv")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func compositeKey(table, key string) []byte {
	return []byte(table + "\x00" + key)
}

// Store upserts value under (table, key) inside a single transaction. A
// true return guarantees the write is durable before the call returns —
// badger's transaction commit is synchronous by default.
func (s *Store) Store(table, key string, value interface{}) (bool, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(compositeKey(table, key), encoded)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Read returns the decoded JSON value for (table, key), or (nil, false) if
// absent.
func (s *Store) Read(table, key string) (interface{}, bool, error) {
	var value interface{}
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(compositeKey(table, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			found = true
			return json.Unmarshal(val, &value)
		})
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}
