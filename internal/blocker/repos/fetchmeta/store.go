// Package fetchmeta keeps per-list fetch bookkeeping in a bbolt database.
package fetchmeta

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/trackerblock/internal/blocker/domain"
)

var bucketFetches = []byte("fetches")

// Record is the last known fetch state of one list.
type Record struct {
	Kind        string    `json:"kind"`
	URL         string    `json:"url"`
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	Bytes       int       `json:"bytes"`
	Digest      string    `json:"digest,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Succeeded reports whether the most recent attempt succeeded.
func (r Record) Succeeded() bool {
	return r.LastError == "" && !r.LastSuccess.IsZero() && !r.LastSuccess.Before(r.LastAttempt)
}

// Store is a bbolt-backed fetch metadata store.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path and ensures the bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("fetchmeta: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFetches)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fetchmeta: init: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordSuccess stores a successful fetch of kind.
func (s *Store) RecordSuccess(kind domain.ListKind, url string, at time.Time, size int, digest string) error {
	return s.update(kind, func(r *Record) {
		r.URL = url
		r.LastAttempt = at
		r.LastSuccess = at
		r.Bytes = size
		r.Digest = digest
		r.LastError = ""
	})
}

// RecordFailure stores a failed fetch of kind, keeping the previous success data.
func (s *Store) RecordFailure(kind domain.ListKind, url string, at time.Time, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.update(kind, func(r *Record) {
		r.URL = url
		r.LastAttempt = at
		r.LastError = msg
	})
}

// Get returns the record for kind.
func (s *Store) Get(kind domain.ListKind) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketFetches).Get([]byte(kind.String()))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("fetchmeta: get %s: %w", kind, err)
	}
	return rec, found, nil
}

// All returns every stored record keyed by list kind. Undecodable entries are skipped.
func (s *Store) All() (map[domain.ListKind]Record, error) {
	out := make(map[domain.ListKind]Record)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFetches).ForEach(func(k, v []byte) error {
			kind, err := domain.ParseListKind(string(k))
			if err != nil {
				return nil
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			out[kind] = rec
			return nil
		})
	})
	return out, err
}

func (s *Store) update(kind domain.ListKind, mutate func(*Record)) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFetches)
		if b == nil {
			return errors.New("bucket missing")
		}
		key := []byte(kind.String())
		rec := Record{Kind: kind.String()}
		if v := b.Get(key); v != nil {
			// a corrupt record is replaced
			_ = json.Unmarshal(v, &rec)
			rec.Kind = kind.String()
		}
		mutate(&rec)
		enc, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, enc)
	})
	if err != nil {
		return fmt.Errorf("fetchmeta: update %s: %w", kind, err)
	}
	return nil
}
