package models

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Tasks
//
// The local task cache. Edits land here first and enqueue a mutation in the
// same call, so the UI reads its own writes with no network in the path.
// Each row also carries the task's sync base (the last remote payload and
// version this client saw), which is what update and delete mutations cite
// for conflict detection. RefreshTaskBase, wired as the engine's OnApplied
// hook, advances the base whenever a mutation settles.
// ============================================================================

// EntityKindTask is the entity kind tasks sync under.
const EntityKindTask = "task"

// ErrTaskNotFound is returned when a task id has no row.
var ErrTaskNotFound = errors.New("task not found")

const DDLCreateTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
    id           VARCHAR PRIMARY KEY,
    title        VARCHAR NOT NULL,
    notes        VARCHAR DEFAULT '',
    done         BOOLEAN DEFAULT FALSE,
    priority     INTEGER DEFAULT 0,
    due_at       TIMESTAMP,
    tags         VARCHAR DEFAULT '',
    base_payload VARCHAR DEFAULT '',
    base_version BIGINT DEFAULT 0,
    created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const DDLCreateTasksIndexUpdated = `CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at)`

// Task is one row of the local task cache.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Done        bool       `json:"done"`
	Priority    int        `json:"priority"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	BaseVersion int64      `json:"base_version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SyncPayload renders the task as the field map the remote understands.
// Tags travel as one comma-joined string so the value survives every codec
// on the path unchanged.
func (t *Task) SyncPayload() Payload {
	p := Payload{
		"title":    t.Title,
		"done":     t.Done,
		"priority": int64(t.Priority),
	}
	if t.Notes != "" {
		p["notes"] = t.Notes
	}
	if t.DueAt != nil {
		p["due_at"] = t.DueAt.UTC().Format(time.RFC3339)
	}
	if len(t.Tags) > 0 {
		p["tags"] = strings.Join(t.Tags, ",")
	}
	return p
}

// applyPayloadToTask folds payload fields into the task. Unknown fields are
// skipped: an older client must tolerate payloads from a newer one.
func applyPayloadToTask(t *Task, p Payload) {
	for field, v := range p {
		switch field {
		case "title":
			t.Title = asString(v)
		case "notes":
			t.Notes = asString(v)
		case "done":
			t.Done = asBool(v)
		case "priority":
			t.Priority = asInt(v)
		case "due_at":
			if s := asString(v); s != "" {
				if parsed, err := time.Parse(time.RFC3339, s); err == nil {
					t.DueAt = &parsed
				}
			} else {
				t.DueAt = nil
			}
		case "tags":
			if s := asString(v); s != "" {
				t.Tags = strings.Split(s, ",")
			} else {
				t.Tags = nil
			}
		default:
			logger.Debug("Ignoring unknown task field", "field", field)
		}
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) int {
	switch n := normalizeValue(v).(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// ============================================================================
// Local Edits
//
// Each of these writes the cache and enqueues the matching mutation. The
// mutation is enqueued first: if the row write then fails, the settled
// mutation re-upserts the row through RefreshTaskBase, so the two stores
// converge rather than diverge.
// ============================================================================

// CreateTaskLocal stores a new task and queues its create. The id is
// client-assigned so the queued mutation and the row agree before the
// remote ever hears about it.
func CreateTaskLocal(t *Task) (*MutationRecord, error) {
	if t == nil || strings.TrimSpace(t.Title) == "" {
		return nil, serr.New("task title is required")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	var rec *MutationRecord
	if engine := GetSyncEngine(); engine != nil {
		var err error
		rec, err = engine.Enqueue(EnqueueInput{
			Action:     ActionCreate,
			EntityKind: EntityKindTask,
			EntityID:   t.ID,
			Payload:    t.SyncPayload(),
		})
		if err != nil {
			return nil, serr.Wrap(err, "failed to queue task create")
		}
	}

	if err := upsertTaskRow(t, nil, 0); err != nil {
		return rec, serr.Wrap(err, "failed to store task")
	}
	return rec, nil
}

// UpdateTaskLocal applies a field-level change set to a task and queues an
// update citing the task's current sync base. Only the changed fields ride
// in the mutation payload, which is what keeps non-overlapping edits from
// different devices merge-able.
func UpdateTaskLocal(id string, changes Payload) (*MutationRecord, error) {
	if len(changes) == 0 {
		return nil, serr.New("no fields to update")
	}

	t, err := GetTask(id)
	if err != nil {
		return nil, err
	}
	base, baseVersion, err := taskBase(id)
	if err != nil {
		return nil, err
	}

	applyPayloadToTask(t, changes)
	t.UpdatedAt = time.Now()

	var rec *MutationRecord
	if engine := GetSyncEngine(); engine != nil {
		rec, err = engine.Enqueue(EnqueueInput{
			Action:      ActionUpdate,
			EntityKind:  EntityKindTask,
			EntityID:    id,
			Payload:     changes.Clone(),
			BasePayload: base,
			BaseVersion: baseVersion,
		})
		if err != nil {
			return nil, serr.Wrap(err, "failed to queue task update")
		}
	}

	if err := upsertTaskRow(t, base, baseVersion); err != nil {
		return rec, serr.Wrap(err, "failed to store task update")
	}
	return rec, nil
}

// DeleteTaskLocal removes the row and queues the delete, citing the sync
// base so a remote edit this client never saw surfaces as a conflict
// instead of being destroyed.
func DeleteTaskLocal(id string) (*MutationRecord, error) {
	base, baseVersion, err := taskBase(id)
	if err != nil {
		return nil, err
	}

	var rec *MutationRecord
	if engine := GetSyncEngine(); engine != nil {
		rec, err = engine.Enqueue(EnqueueInput{
			Action:      ActionDelete,
			EntityKind:  EntityKindTask,
			EntityID:    id,
			BasePayload: base,
			BaseVersion: baseVersion,
		})
		if err != nil {
			return nil, serr.Wrap(err, "failed to queue task delete")
		}
	}

	if err := deleteTaskRow(id); err != nil {
		return rec, serr.Wrap(err, "failed to delete task")
	}
	return rec, nil
}

// RefreshTaskBase is the engine's OnApplied hook. A settled mutation means
// the remote state is known exactly, so the cache row and its sync base are
// rewritten from it. Cache maintenance must never fail a sync pass, so
// errors are logged and swallowed.
func RefreshTaskBase(rec *MutationRecord, remote *RemoteRecord) {
	if rec.EntityKind != EntityKindTask || db == nil {
		return
	}

	// A nil remote means the entity is gone remotely and that outcome
	// stands: a settled delete, or a resolution accepting a remote
	// deletion. Either way the row goes.
	if remote == nil {
		if err := deleteTaskRow(rec.EntityID); err != nil && err != ErrTaskNotFound {
			logger.LogErr(err, "failed to drop task row after remote deletion", "task_id", rec.EntityID)
		}
		return
	}

	t, err := GetTask(rec.EntityID)
	if err == ErrTaskNotFound {
		t = &Task{ID: rec.EntityID, CreatedAt: time.Now()}
	} else if err != nil {
		logger.LogErr(err, "failed to load task for base refresh", "task_id", rec.EntityID)
		return
	}

	applyPayloadToTask(t, remote.Payload)
	if !remote.UpdatedAt.IsZero() {
		t.UpdatedAt = remote.UpdatedAt
	} else {
		t.UpdatedAt = time.Now()
	}

	if err := upsertTaskRow(t, remote.Payload, remote.Version); err != nil {
		logger.LogErr(err, "failed to refresh task base", "task_id", rec.EntityID)
	}
}

// ============================================================================
// Row Access
// ============================================================================

// GetTask loads one task by id.
func GetTask(id string) (*Task, error) {
	if db == nil {
		return nil, serr.New("database not initialized")
	}

	t := &Task{}
	var notes, tags sql.NullString
	var dueAt sql.NullTime

	err := db.QueryRow(`SELECT id, title, notes, done, priority, due_at, tags,
		base_version, created_at, updated_at
		FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.Title, &notes, &t.Done, &t.Priority, &dueAt, &tags,
		&t.BaseVersion, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to query task")
	}

	if notes.Valid {
		t.Notes = notes.String
	}
	if dueAt.Valid {
		d := dueAt.Time
		t.DueAt = &d
	}
	if tags.Valid && tags.String != "" {
		t.Tags = strings.Split(tags.String, ",")
	}
	return t, nil
}

// ListTasks returns tasks, most recently updated first. Done tasks are
// included only when requested.
func ListTasks(includeDone bool) ([]Task, error) {
	if db == nil {
		return nil, serr.New("database not initialized")
	}

	query := `SELECT id, title, notes, done, priority, due_at, tags,
		base_version, created_at, updated_at FROM tasks`
	if !includeDone {
		query += ` WHERE done = FALSE`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := db.Query(query)
	if err != nil {
		return nil, serr.Wrap(err, "failed to query tasks")
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var notes, tags sql.NullString
		var dueAt sql.NullTime

		err = rows.Scan(&t.ID, &t.Title, &notes, &t.Done, &t.Priority, &dueAt, &tags,
			&t.BaseVersion, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, serr.Wrap(err, "failed to scan task row")
		}

		if notes.Valid {
			t.Notes = notes.String
		}
		if dueAt.Valid {
			d := dueAt.Time
			t.DueAt = &d
		}
		if tags.Valid && tags.String != "" {
			t.Tags = strings.Split(tags.String, ",")
		}
		tasks = append(tasks, t)
	}
	if err = rows.Err(); err != nil {
		return nil, serr.Wrap(err, "error iterating task rows")
	}
	return tasks, nil
}

// taskBase reads a task's sync base. A task created offline and never
// synced has an empty base and version zero.
func taskBase(id string) (Payload, int64, error) {
	if db == nil {
		return nil, 0, serr.New("database not initialized")
	}

	var baseEnc sql.NullString
	var baseVersion int64
	err := db.QueryRow(`SELECT base_payload, base_version FROM tasks WHERE id = ?`, id).
		Scan(&baseEnc, &baseVersion)
	if err == sql.ErrNoRows {
		return nil, 0, ErrTaskNotFound
	}
	if err != nil {
		return nil, 0, serr.Wrap(err, "failed to query task base")
	}

	if !baseEnc.Valid || baseEnc.String == "" {
		return nil, baseVersion, nil
	}
	base, err := DecodePayload(baseEnc.String)
	if err != nil {
		return nil, 0, serr.Wrap(err, "failed to decode task base")
	}
	return base, baseVersion, nil
}

// upsertTaskRow writes the full row, sync base included.
func upsertTaskRow(t *Task, basePayload Payload, baseVersion int64) error {
	if db == nil {
		return serr.New("database not initialized")
	}

	baseEnc := ""
	if basePayload != nil {
		var err error
		baseEnc, err = EncodePayload(basePayload)
		if err != nil {
			return serr.Wrap(err, "failed to encode task base")
		}
	}
	t.BaseVersion = baseVersion

	var dueAt any
	if t.DueAt != nil {
		dueAt = *t.DueAt
	}

	_, err := db.Exec(`INSERT OR REPLACE INTO tasks
		(id, title, notes, done, priority, due_at, tags, base_payload, base_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Notes, t.Done, t.Priority, dueAt, strings.Join(t.Tags, ","),
		baseEnc, baseVersion, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return serr.Wrap(err, "failed to upsert task")
	}
	return nil
}

// deleteTaskRow removes a task row.
func deleteTaskRow(id string) error {
	if db == nil {
		return serr.New("database not initialized")
	}
	res, err := db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return serr.Wrap(err, "failed to delete task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}
