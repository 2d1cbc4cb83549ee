package pages

import (
	"fmt"
	"strings"
	"time"

	"github.com/rohanthewiz/element"

	"gotasks/models"
)

// SummaryCards is the row of headline counts at the top of the status page
type SummaryCards struct {
	Open  int
	Queue models.QueueStatus
}

// Render implements the element.Component interface
func (s SummaryCards) Render(b *element.Builder) any {
	b.DivClass("cards").R(
		card(b, "Open tasks", s.Open),
		card(b, "Pending", s.Queue.Pending),
		card(b, "In flight", s.Queue.InFlight),
		card(b, "Failed", s.Queue.Failed),
		card(b, "Conflicted", s.Queue.Conflicted),
		card(b, "Dead-lettered", s.Queue.DeadLettered),
	)
	return nil
}

func card(b *element.Builder, label string, n int) any {
	return b.DivClass("card").R(
		b.SpanClass("card-value").F("%d", n),
		b.SpanClass("card-label").T(label),
	)
}

// QueuePanel lists the outstanding mutations still waiting on the server
type QueuePanel struct {
	Records []*models.MutationRecord
}

// Render implements the element.Component interface
func (q QueuePanel) Render(b *element.Builder) any {
	b.DivClass("panel").R(
		b.H2().T("Outstanding mutations"),
		func() (x any) {
			if len(q.Records) == 0 {
				b.P("class", "empty").T("Nothing queued. All changes are on the server.")
				return
			}
			b.Ul("class", "rows").R(
				func() (x any) {
					for _, rec := range q.Records {
						b.Li("class", "row").R(
							b.SpanClass("chip chip-"+rec.Status.String()).T(rec.Status.String()),
							b.SpanClass("row-title").T(rec.Action.String()+" "+rec.EntityKey()),
							b.SpanClass("row-meta").T(queueMeta(rec)),
						)
					}
					return
				}(),
			)
			return
		}(),
	)
	return nil
}

// queueMeta summarizes a record's recency and trouble in one line.
func queueMeta(rec *models.MutationRecord) string {
	parts := []string{"queued " + ago(rec.EnqueuedAt)}
	if rec.RetryCount > 0 {
		parts = append(parts, fmt.Sprintf("%d retries", rec.RetryCount))
	}
	if rec.LastError != "" {
		parts = append(parts, rec.LastError)
	}
	return strings.Join(parts, " | ")
}

// ConflictPanel lists conflicted mutations awaiting a resolution decision
type ConflictPanel struct {
	Records []*models.MutationRecord
}

// Render implements the element.Component interface
func (c ConflictPanel) Render(b *element.Builder) any {
	b.DivClass("panel").R(
		b.H2().T("Conflicts"),
		func() (x any) {
			if len(c.Records) == 0 {
				b.P("class", "empty").T("No conflicts. Local and remote agree.")
				return
			}
			b.Ul("class", "rows").R(
				func() (x any) {
					for _, rec := range c.Records {
						b.Li("class", "row").R(
							b.SpanClass("chip chip-conflicted").T(rec.EntityKey()),
							func() (x any) {
								if rec.Conflict == nil {
									return
								}
								b.SpanClass("row-title").F("diverged on %s", strings.Join(rec.Conflict.Fields, ", "))
								b.SpanClass("row-meta").F("remote is at version %d", rec.Conflict.RemoteVersion)
								return
							}(),
						)
					}
					return
				}(),
			)
			b.P("class", "hint").T("Resolve via POST /api/v1/conflicts/{id}/resolve with keep_local, keep_remote, or merge.")
			return
		}(),
	)
	return nil
}

// ago renders a coarse relative time for display; precision below one
// second is noise on a page that refreshes every five.
func ago(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}
