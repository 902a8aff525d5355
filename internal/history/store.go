// Package history implements the run-history store (C12): a durable record
// of past invocations, independent of the per-job duration memo files used
// for scheduling.
package history

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const runsBucket = "runs"

// Run is one completed (or aborted) invocation.
type Run struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	HostsTotal  int       `json:"hosts_total"`
	HostsFailed int       `json:"hosts_failed"`
	JobsTotal   int       `json:"jobs_total"`
	BytesSentMB int64     `json:"bytes_sent_mb"`
	ExitCode    int       `json:"exit_code"`
}

// Store is a bbolt-backed key-value store keyed by run_id.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt database at path and ensures
// the runs bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open history store %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runsBucket))
		return errors.Wrap(err, "create runs bucket")
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying bbolt handle so the daemon-mode lease (C14) can
// share this store's file instead of opening it a second time.
func (s *Store) DB() *bbolt.DB {
	return s.db
}

// NewRunID mints a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Record persists one run. RunID is generated by the caller (typically via
// NewRunID at the start of the run, so it can also tag per-job log lines).
func (s *Store) Record(r Run) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))
		encoded, err := json.Marshal(r)
		if err != nil {
			return errors.Wrap(err, "marshal run record")
		}
		return errors.Wrap(b.Put([]byte(r.RunID), encoded), "put run record")
	})
}

// Last returns the n most recently started runs, newest first.
func (s *Store) Last(n int) ([]Run, error) {
	var all []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Wrap(err, "unmarshal run record")
			}
			all = append(all, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortRunsDescending(all)
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all, nil
}

func sortRunsDescending(runs []Run) {
	for i := 1; i < len(runs); i++ {
		for j := i; j > 0 && runs[j].StartedAt.After(runs[j-1].StartedAt); j-- {
			runs[j], runs[j-1] = runs[j-1], runs[j]
		}
	}
}
