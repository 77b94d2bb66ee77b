package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"discover/pkg/transaction"
)

const (
	bucketHistory = "history"
	bucketIndex   = "index"

	// keyLayout is fixed width so keys sort chronologically.
	keyLayout = "20060102T150405.000000000"
)

// ErrNotFound is returned when no entry matches.
var ErrNotFound = errors.New("history entry not found")

// Store is the transaction journal. It implements transaction.Recorder.
type Store struct {
	db *bbolt.DB
}

var _ transaction.Recorder = (*Store)(nil)

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketHistory)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bucketIndex))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record journals a finished transaction.
func (s *Store) Record(tx *transaction.Transaction) error {
	return s.Put(NewEntry(tx))
}

// Put saves an entry. Entries are keyed by time so cursors walk them chronologically.
func (s *Store) Put(entry *Entry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}

		// The id suffix keeps entries finished in the same instant apart.
		key := []byte(entry.Timestamp.UTC().Format(keyLayout) + "/" + entry.ID)
		if err := tx.Bucket([]byte(bucketHistory)).Put(key, data); err != nil {
			return fmt.Errorf("failed to save entry: %w", err)
		}
		return tx.Bucket([]byte(bucketIndex)).Put([]byte(entry.ID), key)
	})
}

// List returns the most recent entries, newest first. A limit <= 0 returns everything.
func (s *Store) List(limit int) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(bucketHistory)).Cursor()
		for k, v := cursor.Last(); k != nil && (limit <= 0 || len(entries) < limit); k, v = cursor.Prev() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue // Skip malformed entries
			}
			entries = append(entries, entry)
		}
		return nil
	})

	return entries, err
}

// Get retrieves an entry by transaction id.
func (s *Store) Get(id string) (*Entry, error) {
	var entry Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(bucketIndex)).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		data := tx.Bucket([]byte(bucketHistory)).Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Last returns the most recent entry, or nil when the journal is empty.
func (s *Store) Last() (*Entry, error) {
	entries, err := s.List(1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// LastUndoable returns the most recent entry that can be undone.
func (s *Store) LastUndoable() (*Entry, error) {
	var found *Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(bucketHistory)).Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if e.CanUndo() {
				found = &e
				return nil
			}
		}
		return ErrNotFound
	})

	return found, err
}

// Count returns the total number of entries.
func (s *Store) Count() (int, error) {
	var count int

	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(bucketHistory)).Stats().KeyN
		return nil
	})

	return count, err
}

// Clear removes all entries.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketHistory, bucketIndex} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, berrors.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Prune removes entries older than maxAge and returns how many were removed.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	cutoff := []byte(time.Now().Add(-maxAge).UTC().Format(keyLayout))
	var deleted int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketHistory))
		index := tx.Bucket([]byte(bucketIndex))

		var toDelete [][]byte
		var ids []string
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil && string(k) < string(cutoff); k, v = cursor.Next() {
			toDelete = append(toDelete, k)
			var e Entry
			if err := json.Unmarshal(v, &e); err == nil {
				ids = append(ids, e.ID)
			}
		}

		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		for _, id := range ids {
			if err := index.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})

	return deleted, err
}
