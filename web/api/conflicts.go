package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"gotasks/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Conflict API Handlers
//
// Conflicts wait in the queue until the user decides. These endpoints feed
// the resolution UI: list what needs attention (with per-field diffs for
// text), apply a decision, and browse the audit history afterwards.
// ============================================================================

// ListConflicts handles GET /api/v1/conflicts
// Returns every record awaiting resolution, including both payload versions
// and rendered field diffs.
func ListConflicts(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	conflicts := engine.ListConflicts()
	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

// GetConflict handles GET /api/v1/conflicts/:id
func GetConflict(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	id := ctx.Request().Param("id")
	rec, err := engine.GetRecord(id)
	if err == models.ErrRecordNotFound {
		return writeError(ctx, http.StatusNotFound, "conflict not found")
	}
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to get conflict"), "queue error")
		return writeError(ctx, http.StatusInternalServerError, "failed to get conflict")
	}
	if rec.Status != models.StatusConflicted {
		return writeError(ctx, http.StatusNotFound, "record is not conflicted")
	}

	return writeSuccess(ctx, http.StatusOK, rec)
}

// ResolveConflict handles POST /api/v1/conflicts/:id/resolve
// Applies the user's decision to a conflicted record.
// Request body: {"choice": "keep_local" | "keep_remote" | "merge",
//
//	"field_selections": {"title": "local", "notes": "remote"}}
//
// field_selections is required for merge and ignored otherwise. Responds
// with the successor record, or null when the decision needed none.
func ResolveConflict(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	id := ctx.Request().Param("id")

	var req struct {
		Choice          string            `json:"choice"`
		FieldSelections map[string]string `json:"field_selections"`
	}
	if err := json.Unmarshal(ctx.Request().Body(), &req); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to decode request body"), "invalid JSON")
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}

	decision, err := models.ParseResolutionDecision(req.Choice, req.FieldSelections)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	successor, err := engine.ResolveConflict(id, decision)
	if err == models.ErrRecordNotFound {
		return writeError(ctx, http.StatusNotFound, "conflict not found")
	}
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to resolve conflict"), "resolution error", "mutation_id", id)
		return writeError(ctx, http.StatusUnprocessableEntity, err.Error())
	}

	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"resolved":  id,
		"successor": successor,
	})
}

// ConflictHistory handles GET /api/v1/conflicts/history
// Returns resolved and unresolved conflicts from the audit trail.
// Query parameters: entity_kind, entity_id (both optional filters),
// limit (default 50).
func ConflictHistory(ctx rweb.Context) error {
	limit := 0
	if limitStr := ctx.Request().QueryParam("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return writeError(ctx, http.StatusBadRequest, "invalid limit parameter")
		}
		limit = parsed
	}

	audits, err := models.ListConflictAudits(
		ctx.Request().QueryParam("entity_kind"),
		ctx.Request().QueryParam("entity_id"),
		limit,
	)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to list conflict audits"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to list conflict history")
	}

	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"history": audits,
		"count":   len(audits),
	})
}
