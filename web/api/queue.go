package api

import (
	"encoding/json"
	"net/http"

	"gotasks/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Mutation Queue API Handlers
//
// The queue endpoints let the UI enqueue raw mutations, inspect what is
// waiting, and revive failed records. Task edits normally go through the
// task endpoints, which enqueue on the caller's behalf; the raw enqueue
// exists for entity kinds the task surface does not cover.
// ============================================================================

// EnqueueMutation handles POST /api/v1/queue
// Accepts a mutation and queues it for sync. Returns the stored record,
// whose id the caller can use to track progress or declare dependencies.
func EnqueueMutation(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	var input struct {
		Action       string         `json:"action"`
		EntityKind   string         `json:"entity_kind"`
		EntityID     string         `json:"entity_id"`
		Payload      models.Payload `json:"payload"`
		BasePayload  models.Payload `json:"base_payload"`
		BaseVersion  int64          `json:"base_version"`
		Priority     int            `json:"priority"`
		Dependencies []string       `json:"dependencies"`
	}
	if err := json.Unmarshal(ctx.Request().Body(), &input); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to decode request body"), "invalid JSON")
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}

	action, ok := parseAction(input.Action)
	if !ok {
		return writeError(ctx, http.StatusBadRequest, "action must be create, update, or delete")
	}
	if input.EntityKind == "" {
		return writeError(ctx, http.StatusBadRequest, "entity_kind is required")
	}
	if input.EntityID == "" {
		return writeError(ctx, http.StatusBadRequest, "entity_id is required")
	}

	rec, err := engine.Enqueue(models.EnqueueInput{
		Action:       action,
		EntityKind:   input.EntityKind,
		EntityID:     input.EntityID,
		Payload:      input.Payload,
		BasePayload:  input.BasePayload,
		BaseVersion:  input.BaseVersion,
		Priority:     input.Priority,
		Dependencies: input.Dependencies,
	})
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to enqueue mutation"), "enqueue error")
		return writeError(ctx, http.StatusUnprocessableEntity, err.Error())
	}

	return writeSuccess(ctx, http.StatusCreated, rec)
}

// ListQueue handles GET /api/v1/queue
// Returns queued records, optionally filtered with ?status=pending|in_flight|
// failed|conflicted.
func ListQueue(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	var status models.MutationStatus
	if s := ctx.Request().QueryParam("status"); s != "" {
		parsed, ok := parseStatus(s)
		if !ok {
			return writeError(ctx, http.StatusBadRequest, "invalid status filter")
		}
		status = parsed
	}

	records := engine.ListQueue(status)
	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// GetQueueRecord handles GET /api/v1/queue/:id
func GetQueueRecord(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	id := ctx.Request().Param("id")
	rec, err := engine.GetRecord(id)
	if err == models.ErrRecordNotFound {
		return writeError(ctx, http.StatusNotFound, "mutation record not found")
	}
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to get record"), "queue error")
		return writeError(ctx, http.StatusInternalServerError, "failed to get record")
	}

	return writeSuccess(ctx, http.StatusOK, rec)
}

// GetQueueStatus handles GET /api/v1/queue/status
// Returns the queue summary counts the UI's badge renders from.
func GetQueueStatus(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}
	return writeSuccess(ctx, http.StatusOK, engine.ObserveQueueStatus())
}

// RetryFailed handles POST /api/v1/queue/retry-failed
// Returns every failed record, dead-lettered included, to the pending pool
// and kicks a pass. Responds with how many records were revived.
func RetryFailed(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	count, err := engine.RetryFailed()
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to reset failed records"), "retry error")
		return writeError(ctx, http.StatusInternalServerError, "failed to reset failed records")
	}

	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"reset": count,
	})
}

func parseAction(s string) (models.MutationAction, bool) {
	switch s {
	case "create":
		return models.ActionCreate, true
	case "update":
		return models.ActionUpdate, true
	case "delete":
		return models.ActionDelete, true
	}
	return 0, false
}

func parseStatus(s string) (models.MutationStatus, bool) {
	switch s {
	case "pending":
		return models.StatusPending, true
	case "in_flight":
		return models.StatusInFlight, true
	case "failed":
		return models.StatusFailed, true
	case "conflicted":
		return models.StatusConflicted, true
	}
	return 0, false
}
