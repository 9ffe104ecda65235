// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package response

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const badgerConflictRetries = 5

// BadgerState keeps flags in BadgerDB with native entry TTLs so that
// blocks survive restarts.
type BadgerState struct {
	db     *badger.DB
	ownsDB bool
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// OpenBadgerState opens (or creates) a database at path.
func OpenBadgerState(path string) (*BadgerState, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for response state: %w", err)
	}
	return &BadgerState{db: db, ownsDB: true, now: time.Now}, nil
}

// NewBadgerState wraps an existing database. Close will not close db.
func NewBadgerState(db *badger.DB) *BadgerState {
	return &BadgerState{db: db, now: time.Now}
}

func (s *BadgerState) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStateClosed
	}
	return nil
}

func (s *BadgerState) SetIfAbsent(_ context.Context, entry Entry, ttl time.Duration) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	key := []byte(entry.Key)

	var stored bool
	var err error
	for attempt := 0; attempt < badgerConflictRetries; attempt++ {
		stored = false
		err = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err == nil {
				var existing Entry
				if valErr := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &existing)
				}); valErr == nil && !existing.Expired(s.now()) {
					return nil
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			now := s.now()
			entry.CreatedAt = now
			entry.ExpiresAt = nil
			if ttl > 0 {
				exp := now.Add(ttl)
				entry.ExpiresAt = &exp
			}
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			e := badger.NewEntry(key, data)
			if ttl > 0 {
				e = e.WithTTL(ttl)
			}
			if err := txn.SetEntry(e); err != nil {
				return err
			}
			stored = true
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return false, fmt.Errorf("set %s: %w", entry.Key, err)
	}
	return stored, nil
}

func (s *BadgerState) Get(_ context.Context, key string) (Entry, bool, error) {
	if err := s.checkOpen(); err != nil {
		return Entry{}, false, err
	}
	var entry Entry
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &entry); err != nil {
				return err
			}
			found = !entry.Expired(s.now())
			return nil
		})
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	return entry, found, nil
}

// Delete removes key and reports whether a live entry was removed. The read
// and the delete share one transaction.
func (s *BadgerState) Delete(_ context.Context, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	k := []byte(key)

	var found bool
	var err error
	for attempt := 0; attempt < badgerConflictRetries; attempt++ {
		found = false
		err = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(k)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			var existing Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err != nil {
				return err
			}
			found = !existing.Expired(s.now())
			return txn.Delete(k)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return found, nil
}

func (s *BadgerState) List(_ context.Context, prefix string) ([]Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out []Entry
	now := s.now()
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				continue
			}
			if !e.Expired(now) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return out, nil
}

// Cleanup removes entries whose recorded expiry has passed. Badger also
// drops TTL'd entries during compaction.
func (s *BadgerState) Cleanup(_ context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	count := 0
	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var expired [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var e Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				continue
			}
			if e.Expired(now) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		it.Close()

		for _, k := range expired {
			if err := txn.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (s *BadgerState) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
