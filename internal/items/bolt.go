package items

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketItems = []byte("items")

// BoltStore is a Store that persists every value to BoltDB. Reads are served
// from the in-memory cache loaded at open time.
type BoltStore struct {
	*MemoryStore
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database and loads all items.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketItems)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	s := &BoltStore{MemoryStore: NewMemoryStore(), db: db}
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).ForEach(func(k, v []byte) error {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("item %s: %w", k, err)
			}
			s.values[string(k)] = val
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load items: %w", err)
	}
	return s, nil
}

func (s *BoltStore) Set(path string, value any, origin, source string) error {
	return s.set(path, value, origin, source, s.put)
}

// Seed writes initial values for items that do not exist yet.
func (s *BoltStore) Seed(values map[string]any) error {
	for k, v := range values {
		if _, ok := s.Get(k); ok {
			continue
		}
		if err := s.put(k, normalize(v)); err != nil {
			return err
		}
	}
	s.MemoryStore.Seed(values)
	return nil
}

func (s *BoltStore) put(path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketItems)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketItems)
		}
		return b.Put([]byte(path), data)
	})
}

// Delete removes an item. Listeners are not notified.
func (s *BoltStore) Delete(path string) error {
	if _, ok := s.Get(path); !ok {
		return fmt.Errorf("item %s: %w", path, ErrNotFound)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItems).Delete([]byte(path))
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.values, path)
	s.mu.Unlock()
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
