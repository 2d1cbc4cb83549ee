package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Conflict Resolver
//
// Turns a Conflicted record plus an explicit decision into a fresh Pending
// record that re-enters the normal dispatch path. There is no automatic
// policy: a conflict sits in the queue until a caller decides. A resolution
// is a new deliberate mutation, so the successor gets a fresh id and retry
// budget, with its base refreshed to the conflict's remote snapshot so
// dispatching it does not immediately re-conflict.
// ============================================================================

// ResolutionChoice is the caller's decision for a conflicted record.
type ResolutionChoice int

const (
	// ResolutionKeepLocal applies the local intent wholesale.
	ResolutionKeepLocal ResolutionChoice = iota + 1
	// ResolutionKeepRemote accepts the remote state wholesale.
	ResolutionKeepRemote
	// ResolutionMerge starts from the remote payload and takes exactly the
	// fields the caller marked local.
	ResolutionMerge
)

// String returns the snake_case name used in the API and the audit trail.
func (c ResolutionChoice) String() string {
	switch c {
	case ResolutionKeepLocal:
		return "keep_local"
	case ResolutionKeepRemote:
		return "keep_remote"
	case ResolutionMerge:
		return "merge"
	}
	return "unknown"
}

// FieldSource says which side a merged field comes from.
type FieldSource int

const (
	FieldFromLocal FieldSource = iota + 1
	FieldFromRemote
)

// ResolutionDecision pairs a choice with the per-field selections a Merge
// needs. FieldSelections is ignored for KeepLocal/KeepRemote.
type ResolutionDecision struct {
	Choice          ResolutionChoice
	FieldSelections map[string]FieldSource
}

// ParseResolutionDecision converts the API's string form
// ("keep_local" | "keep_remote" | "merge", {"field": "local"|"remote"})
// into a typed decision.
func ParseResolutionDecision(choice string, selections map[string]string) (ResolutionDecision, error) {
	var d ResolutionDecision

	switch choice {
	case "keep_local":
		d.Choice = ResolutionKeepLocal
	case "keep_remote":
		d.Choice = ResolutionKeepRemote
	case "merge":
		d.Choice = ResolutionMerge
	default:
		return d, serr.New("unknown resolution choice: " + choice)
	}

	if d.Choice == ResolutionMerge {
		if len(selections) == 0 {
			return d, serr.New("merge resolution requires field selections")
		}
		d.FieldSelections = make(map[string]FieldSource, len(selections))
		for f, src := range selections {
			switch src {
			case "local":
				d.FieldSelections[f] = FieldFromLocal
			case "remote":
				d.FieldSelections[f] = FieldFromRemote
			default:
				return d, serr.New("unknown field source for " + f + ": " + src)
			}
		}
	}

	return d, nil
}

// BuildResolution constructs the successor record for a conflicted one.
// Returns nil (with nil error) when the decision accepts the remote state
// as it stands, so no successor needs dispatching; the caller is expected
// to reflect that state locally.
func BuildResolution(rec *MutationRecord, decision ResolutionDecision) (*MutationRecord, error) {
	if rec.Status != StatusConflicted || rec.Conflict == nil {
		return nil, serr.New("record is not conflicted: " + rec.ID)
	}
	conflict := rec.Conflict

	var action MutationAction
	var payload Payload

	switch rec.Action {
	case ActionDelete:
		switch decision.Choice {
		case ResolutionKeepLocal:
			// Deletion confirmed despite the remote edit.
			action = ActionDelete
		case ResolutionKeepRemote:
			// The remote edit stands; the delete intent is withdrawn.
			return nil, nil
		case ResolutionMerge:
			return nil, serr.New("merge is not applicable to delete conflicts")
		default:
			return nil, serr.New("unknown resolution choice")
		}

	case ActionCreate, ActionUpdate:
		remoteGone := conflict.RemotePayload == nil
		switch decision.Choice {
		case ResolutionKeepLocal:
			payload = conflict.LocalPayload.Clone()
			if remoteGone {
				// The remote deleted the entity; keeping local content
				// means recreating it from the last-known base plus the
				// local edits.
				action = ActionCreate
				payload = overlayPayload(rec.BasePayload, conflict.LocalPayload)
			} else {
				action = ActionUpdate
			}
		case ResolutionKeepRemote:
			// The remote state, deletion included, is already what the
			// user chose; there is nothing to dispatch.
			return nil, nil
		case ResolutionMerge:
			merged, err := mergePayloads(conflict, decision.FieldSelections)
			if err != nil {
				return nil, err
			}
			payload = merged
			if remoteGone {
				action = ActionCreate
			} else {
				action = ActionUpdate
			}
		default:
			return nil, serr.New("unknown resolution choice")
		}

	default:
		return nil, serr.New("record has unknown action")
	}

	successor := &MutationRecord{
		ID:           uuid.New().String(),
		Action:       action,
		EntityKind:   rec.EntityKind,
		EntityID:     rec.EntityID,
		Payload:      payload,
		BasePayload:  conflict.RemotePayload.Clone(),
		BaseVersion:  conflict.RemoteVersion,
		EnqueuedAt:   time.Now(),
		Priority:     rec.Priority,
		Dependencies: append([]string(nil), rec.Dependencies...),
		Status:       StatusPending,
	}
	if action == ActionCreate {
		// Recreations start from scratch remotely.
		successor.BasePayload = nil
		successor.BaseVersion = 0
	}

	if err := successor.Validate(); err != nil {
		return nil, serr.Wrap(err, "resolution produced an invalid record")
	}
	return successor, nil
}

// mergePayloads starts from the remote payload and overwrites exactly the
// fields marked local. All other fields, non-conflicting ones included, stay
// remote. A field marked local that the local payload does not carry is
// removed: the local intent did not have it.
func mergePayloads(conflict *ConflictInfo, selections map[string]FieldSource) (Payload, error) {
	if len(selections) == 0 {
		return nil, serr.New("merge resolution requires field selections")
	}

	merged := conflict.RemotePayload.Clone()
	if merged == nil {
		merged = Payload{}
	}

	for field, src := range selections {
		if src != FieldFromLocal {
			continue
		}
		if v, ok := conflict.LocalPayload[field]; ok {
			merged[field] = cloneValue(v)
		} else {
			delete(merged, field)
		}
	}

	if len(merged) == 0 {
		return nil, serr.New("merge resolution produced an empty payload")
	}
	return merged, nil
}

// overlayPayload lays the patch's fields over a clone of the base.
func overlayPayload(base, patch Payload) Payload {
	out := base.Clone()
	if out == nil {
		out = Payload{}
	}
	for f, v := range patch {
		out[f] = cloneValue(v)
	}
	return out
}
