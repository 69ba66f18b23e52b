// Package durability gives the node a crash-durable cache for state
// that would otherwise take a full tracker re-join or binlog replay to
// rebuild: the peer table and the trunk allocator's free-space map.
// Backed by go.etcd.io/bbolt, a single-file embedded KV store, so a
// restart can warm-start both from the last flushed snapshot instead of
// starting empty until the next heartbeat or ResumeFrom scan completes.
package durability

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketPeers  = []byte("peers")
	bucketTrunks = []byte("trunks")
)

// Store wraps one bbolt database file holding both buckets.
type Store struct {
	db *bolt.DB
}

// Open creates/opens the database file at path, creating both buckets
// if this is the first run.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("durability: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPeers); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketTrunks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("durability: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// PutPeer persists one peer table row, keyed by peer id. Callers encode
// the row (e.g. JSON) before calling; this package stores opaque bytes
// so it has no dependency on internal/tracker's types.
func (s *Store) PutPeer(id string, encoded []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).Put([]byte(id), encoded)
	})
}

// DeletePeer removes a peer row, mirroring internal/tracker.PeerTable's
// retire path.
func (s *Store) DeletePeer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).Delete([]byte(id))
	})
}

// ForEachPeer iterates every persisted peer row, stopping at the first
// error fn returns.
func (s *Store) ForEachPeer(fn func(id string, encoded []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// PutTrunkFreemap persists the free-space map for one trunk file,
// keyed by its on-disk path. encoded is whatever internal/trunk chooses
// to serialize for its extent list.
func (s *Store) PutTrunkFreemap(trunkPath string, encoded []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTrunks).Put([]byte(trunkPath), encoded)
	})
}

// GetTrunkFreemap returns the persisted freemap for trunkPath, or
// ok=false if none has been saved yet.
func (s *Store) GetTrunkFreemap(trunkPath string) (encoded []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTrunks).Get([]byte(trunkPath))
		if v != nil {
			ok = true
			encoded = append([]byte(nil), v...)
		}
		return nil
	})
	return encoded, ok, err
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}
