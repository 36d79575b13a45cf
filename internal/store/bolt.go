package store

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var walletBucket = []byte("wallet")

// BoltStore is the file-backed Store used by the daemon.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the bolt database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(walletBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Get implements Store.
func (b *BoltStore) Get(_ context.Context, keys ...string) (map[string][]byte, error) {
	values := make(map[string][]byte, len(keys))
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(walletBucket)
		for _, key := range keys {
			if v := bucket.Get([]byte(key)); v != nil {
				// Copy out: bolt values are only valid inside the
				// transaction.
				cp := make([]byte, len(v))
				copy(cp, v)
				values[key] = cp
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	return values, nil
}

// Set implements Store.
func (b *BoltStore) Set(_ context.Context, entries map[string][]byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(walletBucket)
		for key, value := range entries {
			if err := bucket.Put([]byte(key), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	return nil
}

// Remove implements Store.
func (b *BoltStore) Remove(_ context.Context, keys ...string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(walletBucket)
		for _, key := range keys {
			if err := bucket.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove from store: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
