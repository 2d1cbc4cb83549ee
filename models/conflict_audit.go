package models

import (
	"database/sql"
	"strings"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Conflict Audit Trail
//
// Every detected conflict gets a row here, updated once a resolution is
// chosen. The queue itself stays the source of truth for live state; this
// table is the history a user can consult after the fact ("what happened to
// my edit?"). Audit writes are advisory: failures are logged, never allowed
// to fail the sync pass.
// ============================================================================

const DDLCreateConflictAuditSequence = `CREATE SEQUENCE IF NOT EXISTS seq_conflict_audits START 1`

const DDLCreateConflictAuditTable = `CREATE TABLE IF NOT EXISTS conflict_audits (
	id BIGINT PRIMARY KEY DEFAULT nextval('seq_conflict_audits'),
	mutation_id VARCHAR NOT NULL,
	entity_kind VARCHAR NOT NULL,
	entity_id VARCHAR NOT NULL,
	action VARCHAR NOT NULL,
	fields VARCHAR,
	local_payload VARCHAR,
	remote_payload VARCHAR,
	resolution VARCHAR,
	successor_id VARCHAR,
	detected_at TIMESTAMP,
	resolved_at TIMESTAMP
)`

const DDLCreateConflictAuditIndexEntity = `CREATE INDEX IF NOT EXISTS idx_conflict_audits_entity
	ON conflict_audits(entity_kind, entity_id)`

// ConflictAudit is one row of the audit trail.
type ConflictAudit struct {
	ID            int64      `json:"id"`
	MutationID    string     `json:"mutation_id"`
	EntityKind    string     `json:"entity_kind"`
	EntityID      string     `json:"entity_id"`
	Action        string     `json:"action"`
	Fields        []string   `json:"fields"`
	LocalPayload  Payload    `json:"local_payload,omitempty"`
	RemotePayload Payload    `json:"remote_payload,omitempty"`
	Resolution    string     `json:"resolution,omitempty"`
	SuccessorID   string     `json:"successor_id,omitempty"`
	DetectedAt    time.Time  `json:"detected_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// InsertConflictAudit records a freshly detected conflict. No-op when the
// database is not initialized (in-memory test setups).
func InsertConflictAudit(rec *MutationRecord) {
	if db == nil || rec.Conflict == nil {
		return
	}
	c := rec.Conflict

	localEnc, err := EncodePayload(c.LocalPayload)
	if err != nil {
		logger.LogErr(err, "Failed to encode local payload for conflict audit", "mutation_id", rec.ID)
		localEnc = ""
	}
	remoteEnc, err := EncodePayload(c.RemotePayload)
	if err != nil {
		logger.LogErr(err, "Failed to encode remote payload for conflict audit", "mutation_id", rec.ID)
		remoteEnc = ""
	}

	_, err = db.Exec(`INSERT INTO conflict_audits
		(mutation_id, entity_kind, entity_id, action, fields, local_payload, remote_payload, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EntityKind, rec.EntityID, rec.Action.String(),
		strings.Join(c.Fields, ","), localEnc, remoteEnc, c.DetectedAt)
	if err != nil {
		logger.LogErr(err, "Failed to insert conflict audit", "mutation_id", rec.ID)
	}
}

// MarkConflictResolved stamps the audit row with the chosen resolution and
// the id of the successor record, if any.
func MarkConflictResolved(mutationID string, choice ResolutionChoice, successorID string) {
	if db == nil {
		return
	}
	_, err := db.Exec(`UPDATE conflict_audits
		SET resolution = ?, successor_id = ?, resolved_at = ?
		WHERE mutation_id = ? AND resolved_at IS NULL`,
		choice.String(), successorID, time.Now(), mutationID)
	if err != nil {
		logger.LogErr(err, "Failed to mark conflict audit resolved", "mutation_id", mutationID)
	}
}

// ListConflictAudits returns audit rows, newest first. Kind and id filter
// when non-empty. Limit <= 0 means a default page of 50.
func ListConflictAudits(entityKind, entityID string, limit int) ([]ConflictAudit, error) {
	if db == nil {
		return nil, serr.New("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, mutation_id, entity_kind, entity_id, action, fields,
		local_payload, remote_payload, resolution, successor_id, detected_at, resolved_at
		FROM conflict_audits`
	var conds []string
	var args []any
	if entityKind != "" {
		conds = append(conds, "entity_kind = ?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, entityID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY detected_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, serr.Wrap(err, "Failed to query conflict audits")
	}
	defer rows.Close()

	var audits []ConflictAudit
	for rows.Next() {
		var a ConflictAudit
		var fields, localEnc, remoteEnc, resolution, successorID sql.NullString
		var resolvedAt sql.NullTime

		err = rows.Scan(&a.ID, &a.MutationID, &a.EntityKind, &a.EntityID, &a.Action,
			&fields, &localEnc, &remoteEnc, &resolution, &successorID, &a.DetectedAt, &resolvedAt)
		if err != nil {
			return nil, serr.Wrap(err, "Failed to scan conflict audit row")
		}

		if fields.Valid && fields.String != "" {
			a.Fields = strings.Split(fields.String, ",")
		}
		if localEnc.Valid && localEnc.String != "" {
			if p, derr := DecodePayload(localEnc.String); derr == nil {
				a.LocalPayload = p
			}
		}
		if remoteEnc.Valid && remoteEnc.String != "" {
			if p, derr := DecodePayload(remoteEnc.String); derr == nil {
				a.RemotePayload = p
			}
		}
		if resolution.Valid {
			a.Resolution = resolution.String
		}
		if successorID.Valid {
			a.SuccessorID = successorID.String
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			a.ResolvedAt = &t
		}
		audits = append(audits, a)
	}
	if err = rows.Err(); err != nil {
		return nil, serr.Wrap(err, "Error iterating conflict audit rows")
	}
	return audits, nil
}
