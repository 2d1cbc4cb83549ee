package models

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Queue Store
//
// The sole source of truth for pending offline work. Records are held in a
// mutex-guarded map so every operation, read-then-write updates included,
// is atomic against concurrent enqueues from the UI and the coordinator's
// dispatch loop. After each durable mutation the full queue is serialized
// with msgpack, sealed with AES-GCM, and written as one blob under
// QueueBlobKey.
//
// Storage failures are classified ErrKindStorage and abort the caller's
// pass, but never roll back the in-memory state: the memory copy is the
// live truth and re-persists on the next successful operation.
// ============================================================================

// ErrRecordNotFound is returned when an operation names a record id that is
// not in the store. Done records are removed, so a recently completed id
// also reports not-found.
var ErrRecordNotFound = errors.New("mutation record not found")

// QueueStore holds the mutation queue.
type QueueStore struct {
	mu      sync.Mutex
	records map[string]*MutationRecord
	blobs   BlobStore
}

// NewQueueStore loads the persisted queue from the blob store. A missing
// blob starts an empty queue; a blob that cannot be read or decrypted is an
// error, because silently starting empty would drop queued work.
func NewQueueStore(blobs BlobStore) (*QueueStore, error) {
	qs := &QueueStore{
		records: make(map[string]*MutationRecord),
		blobs:   blobs,
	}

	sealed, err := blobs.Get(QueueBlobKey)
	if err == ErrBlobNotFound {
		return qs, nil
	}
	if err != nil {
		return nil, WrapSyncError(ErrKindStorage, err, "failed to load queue blob")
	}

	plain, err := DecryptBlob(sealed)
	if err != nil {
		return nil, serr.Wrap(err, "failed to decrypt queue blob")
	}

	records, err := decodeQueueSnapshot(plain)
	if err != nil {
		return nil, serr.Wrap(err, "failed to decode queue blob")
	}

	healed := 0
	for _, rec := range records {
		// InFlight never survives a restart: the attempt's outcome is
		// unknown, so the record goes back to Pending for re-dispatch.
		if rec.Status == StatusInFlight {
			rec.Status = StatusPending
			healed++
		}
		qs.records[rec.ID] = rec
	}

	if healed > 0 {
		logger.Info("Requeued in-flight records from previous run", "count", healed)
	}
	logger.Info("Queue store loaded", "records", len(qs.records))
	return qs, nil
}

// Enqueue validates and adds a record, then persists the queue.
// The stored record is a copy, so later edits to the caller's value do not
// reach the queue.
func (qs *QueueStore) Enqueue(rec *MutationRecord) error {
	if rec == nil {
		return serr.New("cannot enqueue nil record")
	}
	if err := rec.Validate(); err != nil {
		return serr.Wrap(err, "invalid mutation record")
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	if _, exists := qs.records[rec.ID]; exists {
		return serr.New("duplicate mutation record id: " + rec.ID)
	}

	qs.records[rec.ID] = rec.Clone()
	return qs.persistLocked()
}

// Get returns a copy of the record, or ErrRecordNotFound when absent.
func (qs *QueueStore) Get(id string) (*MutationRecord, error) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	rec, ok := qs.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// List returns copies of all records matching the filter (nil matches all),
// sorted by enqueue time then id.
func (qs *QueueStore) List(filter func(*MutationRecord) bool) []*MutationRecord {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	out := make([]*MutationRecord, 0, len(qs.records))
	for _, rec := range qs.records {
		if filter == nil || filter(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of records in the store.
func (qs *QueueStore) Len() int {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return len(qs.records)
}

// Update applies mutate to the record under the store lock and persists.
// The read-modify-write is atomic: no other update can interleave.
func (qs *QueueStore) Update(id string, mutate func(*MutationRecord)) error {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	rec, ok := qs.records[id]
	if !ok {
		return ErrRecordNotFound
	}

	mutate(rec)
	return qs.persistLocked()
}

// MarkInFlight transitions a record to InFlight in memory only. InFlight is
// transient within a pass and must not be durable: a crashed process heals
// any persisted InFlight back to Pending at load, and a storage outage must
// not strand the record mid-transition.
func (qs *QueueStore) MarkInFlight(id string) error {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	rec, ok := qs.records[id]
	if !ok {
		return ErrRecordNotFound
	}

	rec.Status = StatusInFlight
	return nil
}

// Remove deletes a record (the Done transition) and persists.
func (qs *QueueStore) Remove(id string) error {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	if _, ok := qs.records[id]; !ok {
		return ErrRecordNotFound
	}

	delete(qs.records, id)
	return qs.persistLocked()
}

// Swap atomically removes one record and enqueues another in a single
// persisted step. Used by conflict resolution, where the Conflicted record
// and its Pending successor must never both exist durably.
// A nil successor just removes.
func (qs *QueueStore) Swap(removeID string, successor *MutationRecord) error {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	if _, ok := qs.records[removeID]; !ok {
		return ErrRecordNotFound
	}

	if successor != nil {
		if err := successor.Validate(); err != nil {
			return serr.Wrap(err, "invalid resolution record")
		}
		if _, exists := qs.records[successor.ID]; exists {
			return serr.New("duplicate mutation record id: " + successor.ID)
		}
	}

	delete(qs.records, removeID)
	if successor != nil {
		qs.records[successor.ID] = successor.Clone()
	}
	return qs.persistLocked()
}

// ResetFailed returns every Failed record (dead-lettered included) to
// Pending with a zeroed retry budget and immediate eligibility. This is the
// manual-retry path; Conflicted records are untouched, they need an
// explicit resolution instead.
func (qs *QueueStore) ResetFailed() (int, error) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	reset := 0
	for _, rec := range qs.records {
		if rec.Status != StatusFailed {
			continue
		}
		rec.Status = StatusPending
		rec.RetryCount = 0
		rec.NextEligibleAt = time.Time{}
		rec.LastError = ""
		reset++
	}

	if reset == 0 {
		return 0, nil
	}
	return reset, qs.persistLocked()
}

// Clear removes every record. This is the explicit data-reset path only.
func (qs *QueueStore) Clear() error {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	qs.records = make(map[string]*MutationRecord)
	if err := qs.blobs.Delete(QueueBlobKey); err != nil {
		return WrapSyncError(ErrKindStorage, err, "failed to delete queue blob")
	}
	return nil
}

// CountByStatus returns the number of records per status.
func (qs *QueueStore) CountByStatus() map[MutationStatus]int {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	counts := make(map[MutationStatus]int)
	for _, rec := range qs.records {
		counts[rec.Status]++
	}
	return counts
}

// persistLocked serializes, encrypts, and writes the queue blob.
// Caller must hold qs.mu. On failure the in-memory state stands and the
// classified storage error propagates so the coordinator aborts its pass.
func (qs *QueueStore) persistLocked() error {
	records := make([]*MutationRecord, 0, len(qs.records))
	for _, rec := range qs.records {
		records = append(records, rec)
	}

	plain, err := encodeQueueSnapshot(records)
	if err != nil {
		return serr.Wrap(err, "failed to serialize queue")
	}

	sealed, err := EncryptBlob(plain)
	if err != nil {
		return serr.Wrap(err, "failed to encrypt queue")
	}

	if err := qs.blobs.Set(QueueBlobKey, sealed); err != nil {
		return WrapSyncError(ErrKindStorage, err, "failed to persist queue blob")
	}
	return nil
}
