package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gotasks/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Task API Handlers
//
// The task endpoints are the UI's main surface. Every write lands in the
// local cache and the mutation queue in one call and returns immediately;
// responses carry the queued mutation's id so the UI can watch it settle.
// ============================================================================

// TaskInput is the JSON shape for creating a task.
type TaskInput struct {
	Title    string   `json:"title"`
	Notes    string   `json:"notes"`
	Priority int      `json:"priority"`
	DueAt    string   `json:"due_at"`
	Tags     []string `json:"tags"`
}

// CreateTask handles POST /api/v1/tasks
// Stores the task locally, queues its create, and returns both.
func CreateTask(ctx rweb.Context) error {
	var input TaskInput
	if err := json.Unmarshal(ctx.Request().Body(), &input); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to decode request body"), "invalid JSON")
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	if strings.TrimSpace(input.Title) == "" {
		return writeError(ctx, http.StatusBadRequest, "title is required")
	}

	task := &models.Task{
		Title:    input.Title,
		Notes:    input.Notes,
		Priority: input.Priority,
		Tags:     input.Tags,
	}
	if input.DueAt != "" {
		due, err := time.Parse(time.RFC3339, input.DueAt)
		if err != nil {
			return writeError(ctx, http.StatusBadRequest, "due_at must be RFC 3339, like 2026-01-02T15:04:05Z")
		}
		task.DueAt = &due
	}

	rec, err := models.CreateTaskLocal(task)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to create task"), "task error")
		return writeError(ctx, http.StatusInternalServerError, "failed to create task")
	}

	logger.Info("Task created", "task_id", task.ID)
	return writeSuccess(ctx, http.StatusCreated, map[string]interface{}{
		"task":     task,
		"mutation": rec,
	})
}

// ListTasks handles GET /api/v1/tasks
// Open tasks by default; ?include_done=true adds completed ones.
func ListTasks(ctx rweb.Context) error {
	includeDone := false
	if v := ctx.Request().QueryParam("include_done"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return writeError(ctx, http.StatusBadRequest, "invalid include_done parameter")
		}
		includeDone = parsed
	}

	tasks, err := models.ListTasks(includeDone)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to list tasks"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to list tasks")
	}

	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// GetTask handles GET /api/v1/tasks/:id
func GetTask(ctx rweb.Context) error {
	id := ctx.Request().Param("id")

	task, err := models.GetTask(id)
	if err == models.ErrTaskNotFound {
		return writeError(ctx, http.StatusNotFound, "task not found")
	}
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to get task"), "database error")
		return writeError(ctx, http.StatusInternalServerError, "failed to get task")
	}

	return writeSuccess(ctx, http.StatusOK, task)
}

// UpdateTask handles PUT /api/v1/tasks/:id
// The body is a partial field map; only the fields present are changed and
// only those fields ride in the queued mutation.
func UpdateTask(ctx rweb.Context) error {
	id := ctx.Request().Param("id")

	var changes models.Payload
	if err := json.Unmarshal(ctx.Request().Body(), &changes); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to decode request body"), "invalid JSON")
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	if len(changes) == 0 {
		return writeError(ctx, http.StatusBadRequest, "no fields to update")
	}

	rec, err := models.UpdateTaskLocal(id, changes)
	if err == models.ErrTaskNotFound {
		return writeError(ctx, http.StatusNotFound, "task not found")
	}
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to update task"), "task error", "task_id", id)
		return writeError(ctx, http.StatusInternalServerError, "failed to update task")
	}

	task, err := models.GetTask(id)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to reload task"), "database error", "task_id", id)
		return writeError(ctx, http.StatusInternalServerError, "failed to reload task")
	}

	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"task":     task,
		"mutation": rec,
	})
}

// DeleteTask handles DELETE /api/v1/tasks/:id
// Removes the task locally and queues the remote delete.
func DeleteTask(ctx rweb.Context) error {
	id := ctx.Request().Param("id")

	rec, err := models.DeleteTaskLocal(id)
	if err == models.ErrTaskNotFound {
		return writeError(ctx, http.StatusNotFound, "task not found")
	}
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to delete task"), "task error", "task_id", id)
		return writeError(ctx, http.StatusInternalServerError, "failed to delete task")
	}

	logger.Info("Task deleted", "task_id", id)
	return writeSuccess(ctx, http.StatusOK, map[string]interface{}{
		"deleted":  id,
		"mutation": rec,
	})
}
