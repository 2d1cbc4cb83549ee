package models_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"gotasks/models"
)

// taskHarness is the full local stack: DuckDB-backed task cache and queue
// blob, plus an engine draining into the fake remote. RefreshTaskBase is
// wired as the applied hook, exactly as in production.
type taskHarness struct {
	engine *models.SyncEngine
	remote *fakeRemote
}

// setupTaskTest spins up a throwaway database and a full engine over it.
func setupTaskTest(t *testing.T) (*taskHarness, func()) {
	t.Helper()

	dbPath := "./test_tasks.ddb"
	os.Remove(dbPath)
	os.Remove(dbPath + ".wal")

	initTestEncryption(t)
	models.ResetSyncEngine()

	if err := models.InitTestDB(dbPath); err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}

	queue, err := models.NewQueueStore(models.NewDuckDBBlobStore())
	if err != nil {
		t.Fatalf("failed to create queue store: %v", err)
	}

	h := &taskHarness{remote: newFakeRemote()}
	reach := models.NewReachabilityMonitor(nil, 0)
	reach.SetOnline(true)

	cfg := testSyncConfig()
	h.engine, err = models.NewSyncEngine(cfg, models.SyncEngineOptions{
		Queue:        queue,
		Remote:       h.remote,
		Throttle:     models.NewDeviceThrottle(models.NewStaticSignalSource(), cfg.BatchSize, cfg.ReducedBatchSize),
		Reachability: reach,
		OnApplied:    models.RefreshTaskBase,
	})
	if err != nil {
		t.Fatalf("failed to create sync engine: %v", err)
	}

	cleanup := func() {
		models.ResetSyncEngine()
		models.CloseDB()
		os.Remove(dbPath)
		os.Remove(dbPath + ".wal")
	}
	return h, cleanup
}

// TestTaskLifecycleWithSync walks a task through create, update, and delete,
// syncing after each step and checking the row's sync base tracks the
// remote version.
func TestTaskLifecycleWithSync(t *testing.T) {
	h, cleanup := setupTaskTest(t)
	defer cleanup()

	// Create lands locally first, with a mutation queued behind it.
	task := &models.Task{Title: "Buy milk", Priority: 2}
	rec, err := models.CreateTaskLocal(task)
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if rec == nil || rec.Action != models.ActionCreate {
		t.Fatalf("create should queue a create mutation, got %+v", rec)
	}

	stored, err := models.GetTask(task.ID)
	if err != nil {
		t.Fatalf("failed to read task back: %v", err)
	}
	if stored.Title != "Buy milk" || stored.BaseVersion != 0 {
		t.Errorf("unsynced task = %q v%d, want Buy milk v0", stored.Title, stored.BaseVersion)
	}

	// Sync: the remote gets the task and the base advances to v1.
	if err := h.engine.SyncNow(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	stored, _ = models.GetTask(task.ID)
	if stored.BaseVersion != 1 {
		t.Errorf("base version after create sync = %d, want 1", stored.BaseVersion)
	}
	if h.remote.entity("task", task.ID) == nil {
		t.Fatal("task never reached the remote")
	}

	// Update queues only the changed fields, citing the v1 base.
	rec, err = models.UpdateTaskLocal(task.ID, models.Payload{"done": true})
	if err != nil {
		t.Fatalf("failed to update task: %v", err)
	}
	if rec.BaseVersion != 1 {
		t.Errorf("update cites base v%d, want 1", rec.BaseVersion)
	}
	if len(rec.Payload) != 1 {
		t.Errorf("update payload = %v, want only the changed field", rec.Payload)
	}

	stored, _ = models.GetTask(task.ID)
	if !stored.Done {
		t.Error("local row should show the edit before sync")
	}

	if err := h.engine.SyncNow(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	stored, _ = models.GetTask(task.ID)
	if stored.BaseVersion != 2 {
		t.Errorf("base version after update sync = %d, want 2", stored.BaseVersion)
	}
	remote := h.remote.entity("task", task.ID)
	if remote.Payload["done"] != true || remote.Payload["title"] != "Buy milk" {
		t.Errorf("remote payload = %v", remote.Payload)
	}

	// Delete removes the row at once and the remote copy on sync.
	if _, err := models.DeleteTaskLocal(task.ID); err != nil {
		t.Fatalf("failed to delete task: %v", err)
	}
	if _, err := models.GetTask(task.ID); !errors.Is(err, models.ErrTaskNotFound) {
		t.Error("row should be gone before sync")
	}
	if err := h.engine.SyncNow(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if h.remote.entity("task", task.ID) != nil {
		t.Error("remote copy should be gone after sync")
	}
	if h.engine.ObserveQueueStatus().Total != 0 {
		t.Error("queue should be empty after the lifecycle")
	}
}

// TestTaskEditsWithoutEngine verifies local edits work before the engine is
// wired up; the cache does not depend on sync being configured.
func TestTaskEditsWithoutEngine(t *testing.T) {
	_, cleanup := setupTaskTest(t)
	defer cleanup()
	models.ResetSyncEngine()

	task := &models.Task{Title: "Water plants"}
	rec, err := models.CreateTaskLocal(task)
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if rec != nil {
		t.Errorf("no engine means no queued mutation, got %+v", rec)
	}

	stored, err := models.GetTask(task.ID)
	if err != nil || stored.Title != "Water plants" {
		t.Errorf("task = %+v, err %v", stored, err)
	}
}

// TestTaskSyncPayloadShape pins the field map a task syncs as.
func TestTaskSyncPayloadShape(t *testing.T) {
	due := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	task := &models.Task{
		Title:    "File taxes",
		Notes:    "Use last year's folder",
		Priority: 5,
		DueAt:    &due,
		Tags:     []string{"finance", "home"},
	}

	p := task.SyncPayload()
	if p["title"] != "File taxes" || p["done"] != false || p["priority"] != int64(5) {
		t.Errorf("payload = %v", p)
	}
	if p["notes"] != "Use last year's folder" {
		t.Errorf("notes = %v", p["notes"])
	}
	if p["due_at"] != "2026-03-14T09:00:00Z" {
		t.Errorf("due_at = %v, want RFC3339 UTC", p["due_at"])
	}
	if p["tags"] != "finance,home" {
		t.Errorf("tags = %v, want comma-joined", p["tags"])
	}

	// Optional fields stay out of the payload when empty.
	bare := &models.Task{Title: "Minimal"}
	p = bare.SyncPayload()
	for _, f := range []string{"notes", "due_at", "tags"} {
		if _, ok := p[f]; ok {
			t.Errorf("empty %s should not appear in the payload", f)
		}
	}
}

// TestListTasksFiltering checks the done filter and recency ordering.
func TestListTasksFiltering(t *testing.T) {
	_, cleanup := setupTaskTest(t)
	defer cleanup()

	for _, title := range []string{"first", "second", "third"} {
		if _, err := models.CreateTaskLocal(&models.Task{Title: title}); err != nil {
			t.Fatalf("failed to create %s: %v", title, err)
		}
		time.Sleep(5 * time.Millisecond) // Distinct updated_at for ordering
	}

	tasks, err := models.ListTasks(false)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("listed %d tasks, want 3", len(tasks))
	}
	if tasks[0].Title != "third" || tasks[2].Title != "first" {
		t.Errorf("order = %s..%s, want most recently updated first", tasks[0].Title, tasks[2].Title)
	}

	// Mark one done: it drops out of the default listing.
	if _, err := models.UpdateTaskLocal(tasks[1].ID, models.Payload{"done": true}); err != nil {
		t.Fatalf("failed to update: %v", err)
	}

	tasks, _ = models.ListTasks(false)
	if len(tasks) != 2 {
		t.Errorf("open tasks = %d, want 2", len(tasks))
	}
	tasks, _ = models.ListTasks(true)
	if len(tasks) != 3 {
		t.Errorf("all tasks = %d, want 3", len(tasks))
	}
}

// TestTaskInputValidation covers rejected local edits.
func TestTaskInputValidation(t *testing.T) {
	_, cleanup := setupTaskTest(t)
	defer cleanup()

	if _, err := models.CreateTaskLocal(&models.Task{Title: "   "}); err == nil {
		t.Error("blank title should be rejected")
	}
	if _, err := models.UpdateTaskLocal("missing-id", models.Payload{"done": true}); !errors.Is(err, models.ErrTaskNotFound) {
		t.Errorf("update of missing task = %v, want not-found", err)
	}
	if _, err := models.DeleteTaskLocal("missing-id"); !errors.Is(err, models.ErrTaskNotFound) {
		t.Errorf("delete of missing task = %v, want not-found", err)
	}

	task := &models.Task{Title: "Real"}
	if _, err := models.CreateTaskLocal(task); err != nil {
		t.Fatalf("failed to create: %v", err)
	}
	if _, err := models.UpdateTaskLocal(task.ID, models.Payload{}); err == nil {
		t.Error("empty change set should be rejected")
	}
}

// TestTaskConflictMergeEndToEnd runs the cross-device story: both sides edit
// the same field, the sync pass parks a conflict, and a merge resolution
// brings row, queue, and remote back into one state.
func TestTaskConflictMergeEndToEnd(t *testing.T) {
	h, cleanup := setupTaskTest(t)
	defer cleanup()

	task := &models.Task{Title: "Call mom"}
	if _, err := models.CreateTaskLocal(task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if err := h.engine.SyncNow(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// Another device edits the title; this client sees nothing of it yet.
	other := h.remote.entity("task", task.ID)
	other.Payload["title"] = "Call mother"
	h.remote.seed("task", task.ID, other.Payload, other.Version+1)

	// The local edit collides field-on-field.
	if _, err := models.UpdateTaskLocal(task.ID, models.Payload{"title": "Call mom ASAP"}); err != nil {
		t.Fatalf("failed to update task: %v", err)
	}
	if err := h.engine.SyncNow(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	conflicts := h.engine.ListConflicts()
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}
	conflict := conflicts[0]
	if len(conflict.Conflict.Fields) != 1 || conflict.Conflict.Fields[0] != "title" {
		t.Errorf("conflict fields = %v, want [title]", conflict.Conflict.Fields)
	}

	// The user keeps their title.
	decision, err := models.ParseResolutionDecision("merge", map[string]string{"title": "local"})
	if err != nil {
		t.Fatalf("failed to parse decision: %v", err)
	}
	if _, err := h.engine.ResolveConflict(conflict.ID, decision); err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	if err := h.engine.SyncNow(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// All three stores agree.
	remote := h.remote.entity("task", task.ID)
	if remote.Payload["title"] != "Call mom ASAP" {
		t.Errorf("remote title = %v", remote.Payload["title"])
	}
	stored, _ := models.GetTask(task.ID)
	if stored.Title != "Call mom ASAP" {
		t.Errorf("local title = %q", stored.Title)
	}
	if stored.BaseVersion != remote.Version {
		t.Errorf("row base v%d, remote v%d; base should track the settled state",
			stored.BaseVersion, remote.Version)
	}
	if h.engine.ObserveQueueStatus().Total != 0 {
		t.Error("queue should be empty after the resolution settles")
	}

	// The conflict left an audit row behind, marked resolved.
	audits, err := models.ListConflictAudits("task", task.ID, 10)
	if err != nil {
		t.Fatalf("failed to list audits: %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(audits))
	}
	if audits[0].Resolution != "merge" || audits[0].ResolvedAt == nil {
		t.Errorf("audit = %+v, want a resolved merge entry", audits[0])
	}
}
