package models

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
	"github.com/vmihailenco/msgpack/v5"
)

// ============================================================================
// Mutation Records
//
// A MutationRecord is a durable unit of offline work: the intent to create,
// update, or delete one remote entity. Records live in the QueueStore from
// enqueue until verified success, surviving process restarts. Done records
// are removed outright rather than kept as tombstones.
// ============================================================================

// MutationAction identifies the remote operation a record performs.
type MutationAction int32

const (
	ActionCreate MutationAction = 1
	ActionUpdate MutationAction = 2
	ActionDelete MutationAction = 3
)

// String returns the lowercase name used in logs and API responses.
func (a MutationAction) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	}
	return "unknown"
}

// MarshalJSON emits the lowercase name, matching the form the enqueue
// endpoint accepts.
func (a MutationAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// Valid reports whether the action is one of the closed set.
func (a MutationAction) Valid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// MutationStatus is the lifecycle state of a queued mutation.
// Done is terminal and never stored; reaching Done removes the record.
type MutationStatus int32

const (
	StatusPending    MutationStatus = 1
	StatusInFlight   MutationStatus = 2
	StatusFailed     MutationStatus = 3
	StatusConflicted MutationStatus = 4
	StatusDone       MutationStatus = 5
)

// String returns the lowercase name used in logs and API responses.
func (s MutationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInFlight:
		return "in_flight"
	case StatusFailed:
		return "failed"
	case StatusConflicted:
		return "conflicted"
	case StatusDone:
		return "done"
	}
	return "unknown"
}

// MarshalJSON emits the lowercase name.
func (s MutationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Payload holds the field-level data of a mutation or remote record.
// Values are the scalar types that survive a msgpack or JSON round trip;
// comparisons go through payloadValueEqual so codec differences in number
// width do not produce phantom conflicts.
type Payload map[string]any

// Clone returns a deep copy. Nested maps and slices are copied; scalars are
// shared (they are immutable).
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case Payload:
		return tv.Clone()
	case map[string]any:
		return Payload(tv).Clone()
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// FieldNames returns the payload's keys sorted for stable iteration.
func (p Payload) FieldNames() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// payloadValueEqual compares two payload values after normalizing numeric
// width. msgpack decodes integers into the narrowest type and JSON decodes
// every number as float64, so a payload that round-trips through storage or
// HTTP must still compare equal to the original.
func payloadValueEqual(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

// normalizeValue widens integers to int64, floats to float64, and converts
// integral floats to int64 so 3, int8(3), and 3.0 all compare equal.
// Maps and slices are normalized recursively.
func normalizeValue(v any) any {
	switch tv := v.(type) {
	case int:
		return int64(tv)
	case int8:
		return int64(tv)
	case int16:
		return int64(tv)
	case int32:
		return int64(tv)
	case int64:
		return tv
	case uint:
		return int64(tv)
	case uint8:
		return int64(tv)
	case uint16:
		return int64(tv)
	case uint32:
		return int64(tv)
	case uint64:
		if tv <= math.MaxInt64 {
			return int64(tv)
		}
		return tv
	case float32:
		return normalizeFloat(float64(tv))
	case float64:
		return normalizeFloat(tv)
	case Payload:
		return normalizeMap(tv)
	case map[string]any:
		return normalizeMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < float64(math.MaxInt64) {
		return int64(f)
	}
	return f
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

// ConflictInfo is attached to a record when its status is Conflicted.
// It carries both sides of the divergence plus the computed field set so the
// UI can present a field-by-field resolution choice.
type ConflictInfo struct {
	LocalPayload  Payload           `json:"local_payload"`
	RemotePayload Payload           `json:"remote_payload"`
	RemoteVersion int64             `json:"remote_version"`
	Fields        []string          `json:"fields"`                // diverging field names, sorted
	FieldDiffs    map[string]string `json:"field_diffs,omitempty"` // rendered diffs for text fields
	DetectedAt    time.Time         `json:"detected_at"`
}

// Clone returns a deep copy of the conflict info.
func (ci *ConflictInfo) Clone() *ConflictInfo {
	if ci == nil {
		return nil
	}
	out := &ConflictInfo{
		LocalPayload:  ci.LocalPayload.Clone(),
		RemotePayload: ci.RemotePayload.Clone(),
		RemoteVersion: ci.RemoteVersion,
		DetectedAt:    ci.DetectedAt,
	}
	out.Fields = append(out.Fields, ci.Fields...)
	if ci.FieldDiffs != nil {
		out.FieldDiffs = make(map[string]string, len(ci.FieldDiffs))
		for k, v := range ci.FieldDiffs {
			out.FieldDiffs[k] = v
		}
	}
	return out
}

// MutationRecord is one durable queued mutation.
type MutationRecord struct {
	ID         string         `json:"id"`
	Action     MutationAction `json:"action"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`

	// Payload is the intended field-level data for Create/Update.
	// Nil for Delete, whose target is named by EntityID.
	Payload Payload `json:"payload,omitempty"`

	// BasePayload and BaseVersion are the last-known-remote representation
	// of the entity: captured at enqueue time or refreshed at the most
	// recent successful sync, whichever is newer. The conflict detector
	// compares against this base; the remote write carries BaseVersion for
	// its optimistic version check. Zero version means the entity has never
	// been seen remotely.
	BasePayload Payload `json:"base_payload,omitempty"`
	BaseVersion int64   `json:"base_version"`

	EnqueuedAt   time.Time `json:"enqueued_at"`
	Priority     int       `json:"priority"`
	Dependencies []string  `json:"dependencies,omitempty"`

	Status         MutationStatus `json:"status"`
	RetryCount     int            `json:"retry_count"`
	NextEligibleAt time.Time      `json:"next_eligible_at"`
	LastError      string         `json:"last_error,omitempty"`
	Conflict       *ConflictInfo  `json:"conflict,omitempty"`
}

// NewMutationRecord builds a Pending record with a fresh id and the enqueue
// timestamp set. Payload and base are cloned so later caller edits cannot
// reach into the queue.
func NewMutationRecord(action MutationAction, entityKind, entityID string, payload, basePayload Payload, baseVersion int64) *MutationRecord {
	return &MutationRecord{
		ID:          uuid.New().String(),
		Action:      action,
		EntityKind:  entityKind,
		EntityID:    entityID,
		Payload:     payload.Clone(),
		BasePayload: basePayload.Clone(),
		BaseVersion: baseVersion,
		EnqueuedAt:  time.Now(),
		Status:      StatusPending,
	}
}

// EntityKey identifies the target entity across records, for the
// one-in-flight-per-entity guarantee.
func (r *MutationRecord) EntityKey() string {
	return r.EntityKind + "/" + r.EntityID
}

// Terminal reports whether the record is parked awaiting outside action
// (dead-lettered or conflicted) rather than schedulable.
func (r *MutationRecord) Terminal(retryCeiling int) bool {
	if r.Status == StatusConflicted {
		return true
	}
	return r.Status == StatusFailed && r.RetryCount >= retryCeiling
}

// Clone returns a deep copy of the record.
func (r *MutationRecord) Clone() *MutationRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Payload = r.Payload.Clone()
	out.BasePayload = r.BasePayload.Clone()
	out.Dependencies = append([]string(nil), r.Dependencies...)
	out.Conflict = r.Conflict.Clone()
	return &out
}

// Validate checks the closed-set fields and the action/payload pairing.
// Called at enqueue and after decoding a persisted snapshot so malformed
// data is rejected at the boundary.
func (r *MutationRecord) Validate() error {
	if r.ID == "" {
		return serr.New("mutation record id is required")
	}
	if !r.Action.Valid() {
		return serr.New("mutation record has unknown action")
	}
	if r.EntityKind == "" {
		return serr.New("mutation record entity_kind is required")
	}
	if r.EntityID == "" {
		return serr.New("mutation record entity_id is required")
	}
	switch r.Action {
	case ActionCreate, ActionUpdate:
		if len(r.Payload) == 0 {
			return serr.New("payload is required for " + r.Action.String())
		}
	case ActionDelete:
		if len(r.Payload) != 0 {
			return serr.New("delete mutations must not carry a payload")
		}
	}
	switch r.Status {
	case StatusPending, StatusInFlight, StatusFailed, StatusConflicted:
	default:
		return serr.New("mutation record has unknown status")
	}
	if r.RetryCount < 0 {
		return serr.New("retry_count must not be negative")
	}
	if r.Status == StatusConflicted && r.Conflict == nil {
		return serr.New("conflicted record is missing conflict info")
	}
	return nil
}

// ============================================================================
// Queue snapshot codec
//
// The whole queue serializes to a single msgpack blob which the QueueStore
// encrypts and writes under one fixed storage key. msgpack keeps the blob
// compact; versioning the envelope leaves room for future format changes.
// ============================================================================

const queueSnapshotVersion = 1

// queueSnapshot is the persisted envelope for the full queue.
type queueSnapshot struct {
	Version int               `msgpack:"version"`
	SavedAt time.Time         `msgpack:"saved_at"`
	Records []*MutationRecord `msgpack:"records"`
}

// encodeQueueSnapshot serializes records (sorted by enqueue time then id for
// a deterministic blob) into a msgpack envelope.
func encodeQueueSnapshot(records []*MutationRecord) ([]byte, error) {
	sorted := make([]*MutationRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].EnqueuedAt.Equal(sorted[j].EnqueuedAt) {
			return sorted[i].EnqueuedAt.Before(sorted[j].EnqueuedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	data, err := msgpack.Marshal(queueSnapshot{
		Version: queueSnapshotVersion,
		SavedAt: time.Now(),
		Records: sorted,
	})
	if err != nil {
		return nil, serr.Wrap(err, "failed to encode queue snapshot")
	}
	return data, nil
}

// decodeQueueSnapshot parses a msgpack envelope back into records,
// validating each one.
func decodeQueueSnapshot(data []byte) ([]*MutationRecord, error) {
	var snap queueSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, serr.Wrap(err, "failed to decode queue snapshot")
	}
	if snap.Version != queueSnapshotVersion {
		return nil, serr.New("unsupported queue snapshot version")
	}
	for _, rec := range snap.Records {
		if err := rec.Validate(); err != nil {
			return nil, serr.Wrap(err, "queue snapshot contains invalid record")
		}
	}
	return snap.Records, nil
}

// EncodePayload serializes a payload to Base64-encoded msgpack bytes for
// storage in VARCHAR columns (task base payloads, conflict audit snapshots).
//
// Encoding pipeline: map -> msgpack bytes -> Base64 string.
func EncodePayload(p Payload) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	data, err := msgpack.Marshal(map[string]any(p))
	if err != nil {
		return "", serr.Wrap(err, "failed to msgpack encode payload")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayload reverses EncodePayload. Empty input decodes to nil.
func DecodePayload(encoded string) (Payload, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, serr.Wrap(err, "failed to decode base64 payload")
	}
	var m map[string]any
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, serr.Wrap(err, "failed to unmarshal msgpack payload")
	}
	return Payload(m), nil
}
