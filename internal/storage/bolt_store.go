package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

const (
	BucketRuns = "runs"

	// MaxRuns is how many runs Save keeps; older ones are pruned.
	MaxRuns = 100
)

var ErrNotFound = errors.New("run not found")

type Store struct {
	db       *bbolt.DB
	filePath string
}

// DefaultPath is ~/.prodbench/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".prodbench", "history.db"), nil
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	// Initialize Buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		filePath: path,
	}, nil
}

func (s *Store) Path() string { return s.filePath }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save stores item under its ID (a new one when empty) and prunes the
// oldest runs beyond MaxRuns.
func (s *Store) Save(item *HistoryItem) error {
	if item.ID == "" {
		item.ID = NewID()
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		if err := b.Put([]byte(item.ID), data); err != nil {
			return err
		}

		n := 0
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		var stale [][]byte
		for k, _ := c.First(); k != nil && n > MaxRuns; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
			n--
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		if len(stale) > 0 {
			log.WithField("pruned", len(stale)).Debug("history pruned")
		}
		return nil
	})
}

// List returns every stored run, newest first.
func (s *Store) List() ([]HistoryItem, error) {
	var items []HistoryItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		c := b.Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err != nil {
				log.WithError(err).WithField("id", string(k)).Warn("skipping unreadable history entry")
				continue
			}
			items = append(items, item)
		}
		return nil
	})

	return items, err
}

func (s *Store) Get(id string) (*HistoryItem, error) {
	var item HistoryItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}
