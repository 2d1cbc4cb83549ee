package api_test

import (
	"net/http"
	"testing"

	"gotasks/models"
)

// forceConflict seeds the stub remote with a diverging copy of an entity,
// enqueues an update citing an older base, and runs a pass so the record
// parks as conflicted. Returns the conflicted mutation's id.
func forceConflict(t *testing.T, ts *testServer, entityID, localTitle, remoteTitle string, remoteVersion int64) string {
	t.Helper()

	ts.remote.seed(models.EntityKindTask, entityID, models.Payload{
		"title": remoteTitle,
		"done":  false,
	}, remoteVersion)

	status, resp := ts.request("POST", "/api/v1/queue", map[string]interface{}{
		"action":      "update",
		"entity_kind": models.EntityKindTask,
		"entity_id":   entityID,
		"payload":     map[string]interface{}{"title": localTitle},
		"base_payload": map[string]interface{}{
			"title": "Original title",
			"done":  false,
		},
		"base_version": 1,
	})
	if status != http.StatusCreated {
		t.Fatalf("failed to enqueue conflicting update: status %d, resp %v", status, resp)
	}
	id := resp["data"].(map[string]interface{})["id"].(string)

	status, _ = ts.request("POST", "/api/v1/sync/now", nil)
	if status != http.StatusOK {
		t.Fatalf("sync failed: status %d", status)
	}

	status, resp = ts.request("GET", "/api/v1/queue/"+id, nil)
	if status != http.StatusOK {
		t.Fatalf("failed to get record: status %d", status)
	}
	if got := resp["data"].(map[string]interface{})["status"]; got != "conflicted" {
		t.Fatalf("expected the record to park as conflicted, got %v", got)
	}
	return id
}

// TestConflictsAPI exercises conflict inspection and the three resolution
// choices, ending with the audit history the resolutions leave behind.
func TestConflictsAPI(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := newTestServer(t)
	defer ts.cleanup()

	conflictID := forceConflict(t, ts, "c1", "Local title", "Remote title", 2)

	// Test 1: List conflicts with both payload versions and field diffs
	t.Run("ListConflicts", func(t *testing.T) {
		status, resp := ts.request("GET", "/api/v1/conflicts", nil)
		if status != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, status)
		}

		data := resp["data"].(map[string]interface{})
		if data["count"] != float64(1) {
			t.Fatalf("expected 1 conflict, got %v", data["count"])
		}
		rec := data["conflicts"].([]interface{})[0].(map[string]interface{})
		if rec["id"] != conflictID {
			t.Errorf("expected conflict %s, got %v", conflictID, rec["id"])
		}

		conflict := rec["conflict"].(map[string]interface{})
		if conflict["remote_version"] != float64(2) {
			t.Errorf("expected remote_version 2, got %v", conflict["remote_version"])
		}
		fields := conflict["fields"].([]interface{})
		if len(fields) != 1 || fields[0] != "title" {
			t.Errorf("expected the title field to diverge, got %v", fields)
		}
		diffs := conflict["field_diffs"].(map[string]interface{})
		if diffs["title"] == nil || diffs["title"] == "" {
			t.Error("expected a rendered diff for the title field")
		}
	})

	// Test 2: Get one conflict; non-conflicted and unknown ids are 404s
	t.Run("GetConflict", func(t *testing.T) {
		status, resp := ts.request("GET", "/api/v1/conflicts/"+conflictID, nil)
		if status != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, status)
		}
		data := resp["data"].(map[string]interface{})
		if data["status"] != "conflicted" {
			t.Errorf("expected status conflicted, got %v", data["status"])
		}

		status, resp = ts.request("GET", "/api/v1/conflicts/no-such-conflict", nil)
		if status != http.StatusNotFound {
			t.Errorf("expected status %d for unknown id, got %d", http.StatusNotFound, status)
		}
		if resp["error"] != "conflict not found" {
			t.Errorf("unexpected error message: %v", resp["error"])
		}

		// A pending record is not a conflict
		status, resp = ts.request("POST", "/api/v1/queue", map[string]interface{}{
			"action":      "create",
			"entity_kind": "note",
			"entity_id":   "bystander",
			"payload":     map[string]interface{}{"body": "not conflicted"},
		})
		if status != http.StatusCreated {
			t.Fatalf("failed to enqueue: status %d", status)
		}
		pendingID := resp["data"].(map[string]interface{})["id"].(string)

		status, resp = ts.request("GET", "/api/v1/conflicts/"+pendingID, nil)
		if status != http.StatusNotFound {
			t.Errorf("expected status %d for pending record, got %d", http.StatusNotFound, status)
		}
		if resp["error"] != "record is not conflicted" {
			t.Errorf("unexpected error message: %v", resp["error"])
		}

		// Drain the bystander; the conflicted record stays parked
		status, _ = ts.request("POST", "/api/v1/sync/now", nil)
		if status != http.StatusOK {
			t.Fatalf("sync failed: status %d", status)
		}
	})

	// Test 3: keep_remote discards the local change and adopts the remote
	// copy into the local cache
	t.Run("ResolveKeepRemote", func(t *testing.T) {
		status, resp := ts.request("POST", "/api/v1/conflicts/"+conflictID+"/resolve", map[string]interface{}{
			"choice": "keep_remote",
		})
		if status != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %v", http.StatusOK, status, resp)
		}
		data := resp["data"].(map[string]interface{})
		if data["resolved"] != conflictID {
			t.Errorf("expected resolved=%s, got %v", conflictID, data["resolved"])
		}
		if data["successor"] != nil {
			t.Errorf("expected no successor for keep_remote, got %v", data["successor"])
		}

		status, resp = ts.request("GET", "/api/v1/queue/status", nil)
		if status != http.StatusOK {
			t.Fatalf("failed to get queue status: status %d", status)
		}
		if got := resp["data"].(map[string]interface{})["total"]; got != float64(0) {
			t.Errorf("expected an empty queue after resolution, got %v", got)
		}

		// The adopted remote copy lands in the task cache
		status, resp = ts.request("GET", "/api/v1/tasks/c1", nil)
		if status != http.StatusOK {
			t.Fatalf("expected the task row after keep_remote, got status %d", status)
		}
		data = resp["data"].(map[string]interface{})
		if data["title"] != "Remote title" {
			t.Errorf("expected the remote title, got %v", data["title"])
		}
		if data["base_version"] != float64(2) {
			t.Errorf("expected base_version 2, got %v", data["base_version"])
		}
	})

	// Test 4: keep_local queues a successor citing the remote as its base
	t.Run("ResolveKeepLocal", func(t *testing.T) {
		id := forceConflict(t, ts, "c2", "My copy", "Server copy", 3)

		status, resp := ts.request("POST", "/api/v1/conflicts/"+id+"/resolve", map[string]interface{}{
			"choice": "keep_local",
		})
		if status != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %v", http.StatusOK, status, resp)
		}
		successor := resp["data"].(map[string]interface{})["successor"].(map[string]interface{})
		if successor["status"] != "pending" {
			t.Errorf("expected a pending successor, got %v", successor["status"])
		}
		if successor["base_version"] != float64(3) {
			t.Errorf("expected the successor to cite the remote version, got %v", successor["base_version"])
		}
		payload := successor["payload"].(map[string]interface{})
		if payload["title"] != "My copy" {
			t.Errorf("expected the local title in the successor, got %v", payload["title"])
		}

		status, _ = ts.request("POST", "/api/v1/sync/now", nil)
		if status != http.StatusOK {
			t.Fatalf("sync failed: status %d", status)
		}
		remote := ts.remote.entity(models.EntityKindTask, "c2")
		if remote == nil {
			t.Fatal("expected the entity on the remote")
		}
		if remote.Version != 4 {
			t.Errorf("expected remote version 4 after the successor applied, got %d", remote.Version)
		}
		if remote.Payload["title"] != "My copy" {
			t.Errorf("expected the local title to win, got %v", remote.Payload["title"])
		}
	})

	// Test 5: merge picks sides per field
	t.Run("ResolveMerge", func(t *testing.T) {
		ts.remote.seed(models.EntityKindTask, "c3", models.Payload{
			"title": "Remote T",
			"notes": "Remote N",
		}, 2)

		status, resp := ts.request("POST", "/api/v1/queue", map[string]interface{}{
			"action":      "update",
			"entity_kind": models.EntityKindTask,
			"entity_id":   "c3",
			"payload":     map[string]interface{}{"title": "Local T", "notes": "Local N"},
			"base_payload": map[string]interface{}{
				"title": "Base T",
				"notes": "Base N",
			},
			"base_version": 1,
		})
		if status != http.StatusCreated {
			t.Fatalf("failed to enqueue: status %d", status)
		}
		id := resp["data"].(map[string]interface{})["id"].(string)

		status, _ = ts.request("POST", "/api/v1/sync/now", nil)
		if status != http.StatusOK {
			t.Fatalf("sync failed: status %d", status)
		}

		status, resp = ts.request("POST", "/api/v1/conflicts/"+id+"/resolve", map[string]interface{}{
			"choice": "merge",
			"field_selections": map[string]string{
				"title": "local",
				"notes": "remote",
			},
		})
		if status != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %v", http.StatusOK, status, resp)
		}
		successor := resp["data"].(map[string]interface{})["successor"].(map[string]interface{})
		payload := successor["payload"].(map[string]interface{})
		if payload["title"] != "Local T" {
			t.Errorf("expected the local title in the merge, got %v", payload["title"])
		}
		if payload["notes"] != "Remote N" {
			t.Errorf("expected the remote notes in the merge, got %v", payload["notes"])
		}

		status, _ = ts.request("POST", "/api/v1/sync/now", nil)
		if status != http.StatusOK {
			t.Fatalf("sync failed: status %d", status)
		}
		remote := ts.remote.entity(models.EntityKindTask, "c3")
		if remote == nil {
			t.Fatal("expected the entity on the remote")
		}
		if remote.Payload["title"] != "Local T" || remote.Payload["notes"] != "Remote N" {
			t.Errorf("expected the merged payload on the remote, got %v", remote.Payload)
		}
	})

	// Test 6: Resolution validation failures
	t.Run("ResolveValidation", func(t *testing.T) {
		status, _ := ts.request("POST", "/api/v1/conflicts/no-such-conflict/resolve", map[string]interface{}{
			"choice": "keep_local",
		})
		if status != http.StatusNotFound {
			t.Errorf("expected status %d for unknown id, got %d", http.StatusNotFound, status)
		}

		id := forceConflict(t, ts, "c4", "Mine", "Theirs", 5)

		status, _ = ts.request("POST", "/api/v1/conflicts/"+id+"/resolve", map[string]interface{}{
			"choice": "coin_flip",
		})
		if status != http.StatusBadRequest {
			t.Errorf("expected status %d for unknown choice, got %d", http.StatusBadRequest, status)
		}

		status, _ = ts.request("POST", "/api/v1/conflicts/"+id+"/resolve", map[string]interface{}{
			"choice": "merge",
		})
		if status != http.StatusBadRequest {
			t.Errorf("expected status %d for merge without selections, got %d", http.StatusBadRequest, status)
		}

		// Leave no conflicts behind
		status, _ = ts.request("POST", "/api/v1/conflicts/"+id+"/resolve", map[string]interface{}{
			"choice": "keep_remote",
		})
		if status != http.StatusOK {
			t.Fatalf("failed to resolve: status %d", status)
		}
	})

	// Test 7: The audit history records every detection and resolution
	t.Run("ConflictHistory", func(t *testing.T) {
		status, resp := ts.request("GET", "/api/v1/conflicts/history", nil)
		if status != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, status)
		}
		data := resp["data"].(map[string]interface{})
		if data["count"].(float64) < 4 {
			t.Errorf("expected at least 4 history entries, got %v", data["count"])
		}

		status, resp = ts.request("GET", "/api/v1/conflicts/history?entity_id=c1", nil)
		if status != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, status)
		}
		data = resp["data"].(map[string]interface{})
		if data["count"] != float64(1) {
			t.Fatalf("expected 1 entry for c1, got %v", data["count"])
		}
		entry := data["history"].([]interface{})[0].(map[string]interface{})
		if entry["entity_id"] != "c1" {
			t.Errorf("expected entity_id c1, got %v", entry["entity_id"])
		}
		if entry["resolution"] != "keep_remote" {
			t.Errorf("expected resolution keep_remote, got %v", entry["resolution"])
		}
		if entry["resolved_at"] == nil {
			t.Error("expected resolved_at to be set")
		}

		status, _ = ts.request("GET", "/api/v1/conflicts/history?limit=0", nil)
		if status != http.StatusBadRequest {
			t.Errorf("expected status %d for bad limit, got %d", http.StatusBadRequest, status)
		}
	})
}
