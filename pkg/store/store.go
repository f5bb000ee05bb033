// Package store keeps the tool's local state: dependency stamps, checkout
// revisions and a short run history. Everything lives in a single bolt
// database in the project root so a clean checkout starts from scratch.
package store

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"
)

var (
	stampsBucket    = []byte("stamps")
	revisionsBucket = []byte("revisions")
	runsBucket      = []byte("runs")
)

// maxRuns bounds the run history; older entries are pruned on insert.
const maxRuns = 50

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open state database %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{stampsBucket, revisionsBucket, runsBucket} {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to prepare state database")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Stamp returns the recorded token for the named dependency or an empty
// string if the dependency was never fetched.
func (s *Store) Stamp(name string) (string, error) {
	var token string
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(stampsBucket).Get([]byte(name))
		if value != nil {
			token = string(value)
		}
		return nil
	})
	return token, err
}

func (s *Store) SetStamp(name, token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stampsBucket).Put([]byte(name), []byte(token))
	})
}

func (s *Store) SetRevision(name, revision string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(revisionsBucket).Put([]byte(name), []byte(revision))
	})
}

func (s *Store) Revisions() (map[string]string, error) {
	result := map[string]string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(revisionsBucket).ForEach(func(k, v []byte) error {
			result[string(k)] = string(v)
			return nil
		})
	})
	return result, err
}

// Run is a single entry of the task run history.
type Run struct {
	Task     string
	Status   string
	Duration time.Duration
	When     time.Time
}

// RecordRun appends a run to the history and prunes entries beyond maxRuns.
// It implements the pipeline's Recorder interface.
func (s *Store) RecordRun(task, status string, duration time.Duration) error {
	entry := Run{
		Task:     task,
		Status:   status,
		Duration: duration,
		When:     time.Now(),
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "failed to encode run entry")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(runsBucket)

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(entry.When.UnixNano()))
		err := bucket.Put(key, encoded)
		if err != nil {
			return err
		}

		// drop the oldest entries once the history gets too long
		count := bucket.Stats().KeyN + 1
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && count > maxRuns; k, _ = cursor.Next() {
			err = cursor.Delete()
			if err != nil {
				return err
			}
			count--
		}

		return nil
	})
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(limit int) ([]Run, error) {
	result := make([]Run, 0, limit)
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(runsBucket).Cursor()
		for k, v := cursor.Last(); k != nil && len(result) < limit; k, v = cursor.Prev() {
			var entry Run
			err := json.Unmarshal(v, &entry)
			if err != nil {
				return eris.Wrap(err, "failed to decode run entry")
			}

			result = append(result, entry)
		}
		return nil
	})
	return result, err
}
