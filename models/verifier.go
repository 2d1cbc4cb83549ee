package models

import "context"

// ============================================================================
// Integrity Verifier
//
// The remote acknowledging a write is not proof the write took: a proxy may
// have swallowed it, or the server may have accepted-then-dropped. After
// every acknowledged mutation we read the record back and check the intended
// change is actually visible. A clean fetch that contradicts the intent is a
// verification mismatch (false, nil); a fetch that could not complete is an
// ordinary transport error (false, err) and retried as such.
// ============================================================================

type IntegrityVerifier struct {
	remote RemoteService
}

func NewIntegrityVerifier(remote RemoteService) *IntegrityVerifier {
	return &IntegrityVerifier{remote: remote}
}

// Verify reads the entity back and reports whether the acknowledged
// mutation is visible remotely.
func (v *IntegrityVerifier) Verify(ctx context.Context, rec *MutationRecord) (bool, error) {
	remote, err := v.remote.Fetch(ctx, rec.EntityKind, rec.EntityID)

	switch rec.Action {
	case ActionDelete:
		if err == ErrRemoteAbsent {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		// Record still present after an acknowledged delete.
		return false, nil

	case ActionCreate, ActionUpdate:
		if err == ErrRemoteAbsent {
			// Record missing after an acknowledged write.
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return PayloadApplied(rec.Payload, remote.Payload), nil
	}

	return false, nil
}
