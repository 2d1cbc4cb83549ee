package models

import (
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Blob Store
//
// The queue persists as one opaque encrypted blob under a fixed key. The
// BlobStore interface keeps the queue store ignorant of where that blob
// lives: production uses a DuckDB table, tests use an in-memory map with a
// failure toggle for exercising the storage-unavailable path.
// ============================================================================

// QueueBlobKey is the fixed storage key for the serialized mutation queue.
const QueueBlobKey = "gotasks/mutation-queue"

// ErrBlobNotFound is returned by Get when no blob exists under the key.
// Returned bare so callers can compare directly.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is the opaque key-value contract for encrypted blobs.
type BlobStore interface {
	Get(key string) ([]byte, error)
	Set(key string, data []byte) error
	Delete(key string) error
}

// DDL for the queue_blobs table.
const DDLCreateQueueBlobsTable = `
CREATE TABLE IF NOT EXISTS queue_blobs (
    key        VARCHAR PRIMARY KEY,
    data       BLOB NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// DuckDBBlobStore stores blobs in the queue_blobs table of the package
// database.
type DuckDBBlobStore struct{}

// NewDuckDBBlobStore returns a store backed by the package database.
// InitDB must have run first.
func NewDuckDBBlobStore() *DuckDBBlobStore {
	return &DuckDBBlobStore{}
}

// Get reads the blob stored under key.
func (s *DuckDBBlobStore) Get(key string) ([]byte, error) {
	if db == nil {
		return nil, serr.New("database not initialized")
	}

	var data []byte
	err := db.QueryRow(`SELECT data FROM queue_blobs WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to read blob")
	}
	return data, nil
}

// Set writes (or replaces) the blob under key.
func (s *DuckDBBlobStore) Set(key string, data []byte) error {
	if db == nil {
		return serr.New("database not initialized")
	}

	_, err := db.Exec(
		`INSERT OR REPLACE INTO queue_blobs (key, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		key, data,
	)
	if err != nil {
		return serr.Wrap(err, "failed to write blob")
	}
	return nil
}

// Delete removes the blob under key. Deleting a missing key is a no-op.
func (s *DuckDBBlobStore) Delete(key string) error {
	if db == nil {
		return serr.New("database not initialized")
	}

	_, err := db.Exec(`DELETE FROM queue_blobs WHERE key = ?`, key)
	if err != nil {
		return serr.Wrap(err, "failed to delete blob")
	}
	return nil
}

// MemBlobStore is an in-memory BlobStore for tests. The failure toggle
// makes every operation report unavailability, simulating a dead disk.
type MemBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	failing atomic.Bool
}

// NewMemBlobStore returns an empty in-memory store.
func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{blobs: make(map[string][]byte)}
}

// SetFailing toggles the simulated storage outage.
func (s *MemBlobStore) SetFailing(failing bool) {
	s.failing.Store(failing)
}

// Get reads the blob stored under key.
func (s *MemBlobStore) Get(key string) ([]byte, error) {
	if s.failing.Load() {
		return nil, serr.New("simulated storage outage")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set writes the blob under key.
func (s *MemBlobStore) Set(key string, data []byte) error {
	if s.failing.Load() {
		return serr.New("simulated storage outage")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.blobs[key] = stored
	return nil
}

// Delete removes the blob under key.
func (s *MemBlobStore) Delete(key string) error {
	if s.failing.Load() {
		return serr.New("simulated storage outage")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, key)
	return nil
}
