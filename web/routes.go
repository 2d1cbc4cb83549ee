package web

import (
	"gotasks/web/api"
	"gotasks/web/pages"

	"github.com/rohanthewiz/rweb"
)

// setupRoutes configures all application routes
func setupRoutes(s *rweb.Server) {
	// Operator status dashboard
	s.Get("/", func(ctx rweb.Context) error {
		ctx.Response().SetHeader("Content-Type", "text/html; charset=utf-8")
		return ctx.WriteHTML(pages.Status().Render())
	})

	// Health check endpoint, also what peer instances probe for reachability
	s.Get("/health", func(ctx rweb.Context) error {
		return ctx.WriteJSON(map[string]string{"status": "ok"})
	})

	// Task endpoints, the UI's main surface. Writes return as soon as the
	// local cache and the mutation queue are updated; sync happens behind them.
	s.Post("/api/v1/tasks", api.CreateTask)
	s.Get("/api/v1/tasks", api.ListTasks)
	s.Get("/api/v1/tasks/:id", api.GetTask)
	s.Put("/api/v1/tasks/:id", api.UpdateTask)
	s.Delete("/api/v1/tasks/:id", api.DeleteTask)

	// Mutation queue endpoints. Raw enqueue covers entity kinds the task
	// surface does not; the static /status and /retry-failed routes are
	// registered before the :id route so they match first.
	s.Post("/api/v1/queue", api.EnqueueMutation)
	s.Get("/api/v1/queue", api.ListQueue)
	s.Get("/api/v1/queue/status", api.GetQueueStatus)
	s.Post("/api/v1/queue/retry-failed", api.RetryFailed)
	s.Get("/api/v1/queue/:id", api.GetQueueRecord)

	// Conflict inspection and resolution
	s.Get("/api/v1/conflicts", api.ListConflicts)
	s.Get("/api/v1/conflicts/history", api.ConflictHistory)
	s.Get("/api/v1/conflicts/:id", api.GetConflict)
	s.Post("/api/v1/conflicts/:id/resolve", api.ResolveConflict)

	// Sync control: status for the UI indicator, the enable toggle and
	// "Sync Now" button, and the lifecycle signals the host shell forwards
	s.Get("/api/v1/sync/status", api.SyncControlStatus)
	s.Post("/api/v1/sync/toggle", api.SyncControlToggle)
	s.Post("/api/v1/sync/now", api.SyncControlNow)
	s.Post("/api/v1/sync/app-resume", api.SyncAppResume)
	s.Post("/api/v1/sync/connectivity", api.SyncConnectivity)
}
