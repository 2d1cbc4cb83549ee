package api

import (
	"encoding/json"
	"net/http"

	"gotasks/models"

	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Sync Control API Handlers
//
// These endpoints power the UI controls for sync: a status indicator, an
// enable/disable toggle, a "Sync Now" button, and the lifecycle signals
// (app resumed, connectivity changed) the host platform forwards.
// ============================================================================

// SyncControlStatus handles GET /api/v1/sync/status
// Returns the engine's full state for the UI status indicator. If sync is
// not configured, returns a disabled state rather than an error so the UI
// can render gracefully.
func SyncControlStatus(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		// Sync not configured: return a minimal "disabled" status
		// so the UI can hide/disable sync controls
		return writeSuccess(ctx, http.StatusOK, models.SyncStatus{
			Enabled:   false,
			Connected: false,
			PassState: models.PassIdle.String(),
		})
	}

	return writeSuccess(ctx, http.StatusOK, engine.GetStatus())
}

// SyncControlToggle handles POST /api/v1/sync/toggle
// Enables or disables the engine at runtime.
// Request body: {"enabled": true} or {"enabled": false}
func SyncControlToggle(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(ctx.Request().Body(), &req); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}

	engine.SetEnabled(req.Enabled)

	return writeSuccess(ctx, http.StatusOK, engine.GetStatus())
}

// SyncControlNow handles POST /api/v1/sync/now
// Runs a pass immediately. Returns 409 Conflict when a pass is already
// running; the request still marks the engine to run again afterwards.
func SyncControlNow(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	if err := engine.SyncNow(); err != nil {
		// Distinguish "already in progress" from other errors
		if err.Error() == "sync already in progress" || err.Error() == "sync is disabled" {
			return writeError(ctx, http.StatusConflict, err.Error())
		}
		return writeError(ctx, http.StatusInternalServerError, serr.Wrap(err, "sync failed").Error())
	}

	return writeSuccess(ctx, http.StatusOK, engine.GetStatus())
}

// SyncAppResume handles POST /api/v1/sync/app-resume
// The host shell calls this when the app returns to the foreground.
func SyncAppResume(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	engine.NotifyAppResume()
	return writeSuccess(ctx, http.StatusOK, engine.GetStatus())
}

// SyncConnectivity handles POST /api/v1/sync/connectivity
// The host shell forwards platform connectivity events here so the engine
// reacts immediately instead of waiting for the next probe.
// Request body: {"online": true} or {"online": false}
func SyncConnectivity(ctx rweb.Context) error {
	engine := models.GetSyncEngine()
	if engine == nil {
		return writeError(ctx, http.StatusServiceUnavailable, "sync is not configured")
	}

	var req struct {
		Online bool `json:"online"`
	}
	if err := json.Unmarshal(ctx.Request().Body(), &req); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}

	engine.SetConnectivity(req.Online)
	return writeSuccess(ctx, http.StatusOK, engine.GetStatus())
}
