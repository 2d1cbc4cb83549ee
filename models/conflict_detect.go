package models

import (
	"sort"
	"time"
)

// ============================================================================
// Conflict Detector
//
// Decides whether a mutation about to be dispatched collides with remote
// state, and if so, which fields. The comparison is three-way: the local
// intent, the last-known-remote base captured at enqueue (or refreshed at
// the previous successful sync), and the remote current representation
// fetched just before the write.
//
// A field conflicts only when both sides changed it independently and the
// values disagree. A field only the remote changed (one the local mutation
// does not touch) is carried through without conflict. Create and Delete
// are whole-record: a Create conflicts when the target already exists, a
// Delete when the remote record mutated after the delete intent formed.
// ============================================================================

// DivergingFields returns the field names where the local intent and the
// remote current value disagree AND the field also changed remotely since
// the base. Sorted for stable output.
func DivergingFields(intended, base, remote Payload) []string {
	var fields []string
	for f, iv := range intended {
		bv, bok := base[f]
		rv, rok := remote[f]

		localChanged := !bok || !payloadValueEqual(iv, bv)
		remoteChanged := bok != rok || (bok && rok && !payloadValueEqual(bv, rv))
		valuesDiffer := !rok || !payloadValueEqual(iv, rv)

		if localChanged && remoteChanged && valuesDiffer {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	return fields
}

// localEdits returns the subset of the payload whose values differ from the
// base: the fields the mutation actually changes. A field absent from the
// base counts as an edit.
func localEdits(payload, base Payload) Payload {
	edits := make(Payload, len(payload))
	for f, v := range payload {
		if bv, ok := base[f]; ok && payloadValueEqual(v, bv) {
			continue
		}
		edits[f] = v
	}
	return edits
}

// changedFields returns every field name present in either payload whose
// value differs between the two (a missing key counts as different).
func changedFields(a, b Payload) []string {
	seen := make(map[string]bool)
	var fields []string

	for f, av := range a {
		bv, ok := b[f]
		if !ok || !payloadValueEqual(av, bv) {
			fields = append(fields, f)
		}
		seen[f] = true
	}
	for f := range b {
		if !seen[f] {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	return fields
}

// PayloadApplied reports whether every field of the intended payload already
// holds its intended value remotely. Used to recognize a retried write whose
// previous attempt actually landed.
func PayloadApplied(intended, remote Payload) bool {
	if len(intended) == 0 {
		return false
	}
	for f, want := range intended {
		got, ok := remote[f]
		if !ok || !payloadValueEqual(want, got) {
			return false
		}
	}
	return true
}

// DetectConflict inspects a record against the remote current state (nil
// means the remote has no such entity) and returns a populated ConflictInfo,
// or nil when the write may proceed.
func DetectConflict(rec *MutationRecord, remote *RemoteRecord) *ConflictInfo {
	switch rec.Action {
	case ActionUpdate:
		return detectUpdateConflict(rec, remote)
	case ActionCreate:
		return detectCreateConflict(rec, remote)
	case ActionDelete:
		return detectDeleteConflict(rec, remote)
	}
	return nil
}

// detectUpdateConflict applies the field-level three-way rule. An update
// whose target vanished remotely is a whole-record conflict: remote chose
// deletion, local chose new content.
func detectUpdateConflict(rec *MutationRecord, remote *RemoteRecord) *ConflictInfo {
	if remote == nil {
		return &ConflictInfo{
			LocalPayload: rec.Payload.Clone(),
			Fields:       rec.Payload.FieldNames(),
			DetectedAt:   time.Now(),
		}
	}

	fields := DivergingFields(rec.Payload, rec.BasePayload, remote.Payload)
	if len(fields) == 0 {
		return nil
	}

	return &ConflictInfo{
		LocalPayload:  rec.Payload.Clone(),
		RemotePayload: remote.Payload.Clone(),
		RemoteVersion: remote.Version,
		Fields:        fields,
		FieldDiffs:    renderFieldDiffs(rec.Payload, remote.Payload, fields),
		DetectedAt:    time.Now(),
	}
}

// detectCreateConflict: the target pre-exists. The field set lists every
// difference between the local intent and the existing remote record so the
// UI can offer a field-by-field merge.
func detectCreateConflict(rec *MutationRecord, remote *RemoteRecord) *ConflictInfo {
	if remote == nil {
		return nil
	}

	fields := changedFields(rec.Payload, remote.Payload)
	return &ConflictInfo{
		LocalPayload:  rec.Payload.Clone(),
		RemotePayload: remote.Payload.Clone(),
		RemoteVersion: remote.Version,
		Fields:        fields,
		FieldDiffs:    renderFieldDiffs(rec.Payload, remote.Payload, fields),
		DetectedAt:    time.Now(),
	}
}

// detectDeleteConflict: deleting is only safe while the remote record still
// matches what the user saw when they formed the intent. A version bump (or,
// lacking versions, any payload difference from the base) demands explicit
// confirmation instead of a silent delete. An already-absent record is not a
// conflict.
func detectDeleteConflict(rec *MutationRecord, remote *RemoteRecord) *ConflictInfo {
	if remote == nil {
		return nil
	}

	if rec.BaseVersion > 0 {
		if remote.Version == rec.BaseVersion {
			return nil
		}
	} else if len(changedFields(rec.BasePayload, remote.Payload)) == 0 {
		return nil
	}

	return &ConflictInfo{
		RemotePayload: remote.Payload.Clone(),
		RemoteVersion: remote.Version,
		Fields:        changedFields(rec.BasePayload, remote.Payload),
		DetectedAt:    time.Now(),
	}
}
