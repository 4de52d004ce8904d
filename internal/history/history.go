// Package history keeps a local bbolt database of past pipeline runs.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"loadpilot/internal/driver"
	"loadpilot/internal/pipeline"
	"loadpilot/internal/planner"
)

const (
	BucketRuns = "runs"
)

var ErrNotFound = errors.New("run not found")

// Record is one stored run. Config and Result are present when the run got
// far enough to produce them.
type Record struct {
	Run    *pipeline.Run       `json:"run"`
	Config *planner.TestConfig `json:"config,omitempty"`
	Result *driver.TestResult  `json:"result,omitempty"`
}

type Store struct {
	db *bbolt.DB
}

// DefaultPath is ~/.loadpilot/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".loadpilot", "history.db"), nil
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "history: create dir")
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "history: open %s", path)
	}

	// Initialize Buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "history: init")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores rec under its run id, replacing an earlier record of the same
// run.
func (s *Store) Save(rec Record) error {
	if rec.Run == nil || rec.Run.ID == "" {
		return errors.New("history: record without run id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "history: encode")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).Put([]byte(rec.Run.ID), data)
	})
}

// List returns up to limit records, newest first. A limit of zero or less
// returns everything.
func (s *Store) List(limit int) ([]Record, error) {
	var items []Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(items) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return errors.Wrapf(err, "history: decode %s", k)
			}
			items = append(items, rec)
		}
		return nil
	})
	return items, err
}

func (s *Store) Get(id string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketRuns)).Get([]byte(id))
		if v == nil {
			return errors.Wrapf(ErrNotFound, "%s", id)
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
