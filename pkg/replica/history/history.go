// Package history provides Badger DB-backed storage for finished passes.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/replica/pkg/replica/driver"
)

// Key prefixes for different data types
const (
	prefixPass = "p:" // p:<started unix nanos, zero padded>:<id> -> pass
	prefixID   = "i:" // i:<id> -> pass key
	prefixMeta = "m:" // metadata
)

const totalsKey = prefixMeta + "totals"

// ErrNotFound is returned when a pass ID is unknown.
var ErrNotFound = errors.New("pass not found")

// Totals are cumulative counters across all recorded passes. They survive
// pruning.
type Totals struct {
	Passes      int64     `json:"passes"`
	Failed      int64     `json:"failed"`
	Actions     int64     `json:"actions"`
	BytesCopied int64     `json:"bytes_copied"`
	LastPass    time.Time `json:"last_pass"`
}

// Store is the pass history backed by Badger DB.
type Store struct {
	db        *badger.DB
	retention time.Duration
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRetention prunes passes older than d on every Record. Zero keeps
// everything.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		s.retention = d
	}
}

// Open opens or creates a store at the given directory.
func Open(path string, opts ...Option) (*Store, error) {
	bopts := badger.DefaultOptions(path)
	bopts.Logger = nil // Disable logging

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening history at %s: %w", path, err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func passKey(p driver.Pass) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixPass, p.Started.UnixNano(), p.ID))
}

// Record stores a finished pass and updates the totals.
func (s *Store) Record(p driver.Pass) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := passKey(p)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixID+p.ID), key); err != nil {
			return err
		}

		totals, err := getTotals(txn)
		if err != nil {
			return err
		}
		totals.Passes++
		if p.Failed() {
			totals.Failed++
		}
		totals.Actions += int64(p.Stats.Actions())
		totals.BytesCopied += p.Stats.BytesCopied
		if p.Finished.After(totals.LastPass) {
			totals.LastPass = p.Finished
		}
		return setTotals(txn, totals)
	})
	if err != nil {
		return fmt.Errorf("recording pass %s: %w", p.ID, err)
	}

	if s.retention > 0 {
		if _, err := s.Prune(s.now().Add(-s.retention)); err != nil {
			return fmt.Errorf("pruning history: %w", err)
		}
	}
	return nil
}

// Get returns the pass with the given ID.
func (s *Store) Get(id string) (driver.Pass, error) {
	var pass driver.Pass

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixID + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &pass)
		})
	})

	return pass, err
}

// Recent returns up to limit passes, newest first. A limit of zero or less
// returns every pass.
func (s *Store) Recent(limit int) ([]driver.Pass, error) {
	var results []driver.Pass

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPass)
		// Reverse iteration seeks to the last key <= the seek key.
		seek := append([]byte(prefixPass), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(results) >= limit {
				break
			}

			err := it.Item().Value(func(val []byte) error {
				var p driver.Pass
				if err := json.Unmarshal(val, &p); err != nil {
					return err
				}
				results = append(results, p)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return results, err
}

// Prune removes passes that started before cutoff and returns how many
// were removed.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	limit := []byte(fmt.Sprintf("%s%020d", prefixPass, cutoff.UnixNano()))
	removed := 0

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		var keysToDelete [][]byte
		prefix := []byte(prefixPass)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) >= string(limit) {
				break
			}

			var p driver.Pass
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err == nil && p.ID != "" {
				keysToDelete = append(keysToDelete, []byte(prefixID+p.ID))
			}
			keysToDelete = append(keysToDelete, key)
			removed++
		}

		for _, key := range keysToDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return removed, nil
}

// Clear removes every pass. Totals are kept.
func (s *Store) Clear() (int, error) {
	return s.Prune(time.Unix(0, 1<<62))
}

// Totals returns the cumulative counters.
func (s *Store) Totals() (Totals, error) {
	var totals Totals
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		totals, err = getTotals(txn)
		return err
	})
	return totals, err
}

func getTotals(txn *badger.Txn) (Totals, error) {
	var totals Totals

	item, err := txn.Get([]byte(totalsKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return totals, nil
	}
	if err != nil {
		return totals, err
	}

	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &totals)
	})
	return totals, err
}

func setTotals(txn *badger.Txn, totals Totals) error {
	data, err := json.Marshal(totals)
	if err != nil {
		return err
	}
	return txn.Set([]byte(totalsKey), data)
}
