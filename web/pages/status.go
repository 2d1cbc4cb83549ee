package pages

import (
	"github.com/rohanthewiz/element"
	"github.com/rohanthewiz/logger"

	"gotasks/models"
)

// StatusPage is the operator dashboard served at the root path. It is a
// plain server-rendered snapshot: the page refreshes itself every few
// seconds rather than polling over JavaScript.
type StatusPage struct {
	Status    *models.SyncStatus // nil when no sync engine is configured
	Queue     []*models.MutationRecord
	Conflicts []*models.MutationRecord
	OpenTasks int
}

// Status assembles a StatusPage from current app state. A missing sync
// engine is fine; the page then reports local-only operation.
func Status() StatusPage {
	pg := StatusPage{}

	if eng := models.GetSyncEngine(); eng != nil {
		pg.Status = eng.GetStatus()
		pg.Queue = eng.ListQueue(0)
		pg.Conflicts = eng.ListConflicts()
	}

	tasks, err := models.ListTasks(false)
	if err != nil {
		logger.LogErr(err, "failed to count open tasks for status page")
	} else {
		pg.OpenTasks = len(tasks)
	}

	return pg
}

// Render generates the complete HTML for the status page
func (p StatusPage) Render() string {
	b := element.NewBuilder()

	b.Html("lang", "en").R(
		p.renderHead(b),
		p.renderBody(b),
	)

	return b.String()
}

func (p StatusPage) renderHead(b *element.Builder) any {
	return b.Head().R(
		b.Meta("charset", "UTF-8"),
		b.Meta("name", "viewport", "content", "width=device-width, initial-scale=1.0"),
		// Snapshot page: self-refresh keeps the numbers current
		b.Meta("http-equiv", "refresh", "content", "5"),
		b.Title().T("GoTasks Sync Status"),
		b.Style().T(statusCSS),
	)
}

func (p StatusPage) renderBody(b *element.Builder) any {
	return b.Body().R(
		b.Header("class", "topbar").R(
			b.H1().T("GoTasks"),
			b.SpanClass(p.badgeClass()).T(p.badgeText()),
		),
		b.DivClass("page").R(
			element.RenderComponents(b,
				SummaryCards{Open: p.OpenTasks, Queue: p.queueCounts()},
				QueuePanel{Records: p.Queue},
				ConflictPanel{Records: p.Conflicts},
			),
			p.renderMeta(b),
		),
	)
}

// renderMeta is the fine print under the panels: pass count, checksum,
// recency. Omitted entirely when sync is not configured.
func (p StatusPage) renderMeta(b *element.Builder) any {
	return func() (x any) {
		if p.Status == nil {
			return
		}
		b.DivClass("meta").R(
			b.Span().F("%d sync passes", p.Status.TotalPasses),
			func() (x any) {
				if p.Status.LastPassEnd != nil {
					b.Span().T("last pass " + ago(*p.Status.LastPassEnd))
				}
				return
			}(),
			func() (x any) {
				if p.Status.Checksum != "" {
					b.Span().T("queue " + shortChecksum(p.Status.Checksum))
				}
				return
			}(),
		)
		return
	}()
}

func (p StatusPage) queueCounts() models.QueueStatus {
	if p.Status == nil {
		return models.QueueStatus{}
	}
	return p.Status.Queue
}

// badgeText picks the one-word health summary for the topbar badge.
func (p StatusPage) badgeText() string {
	switch {
	case p.Status == nil:
		return "local only"
	case !p.Status.Enabled:
		return "sync off"
	case p.Status.InProgress:
		return "syncing"
	case !p.Status.Connected:
		return "offline"
	default:
		return "idle"
	}
}

func (p StatusPage) badgeClass() string {
	switch {
	case p.Status == nil, !p.Status.Enabled:
		return "badge badge-muted"
	case p.Status.InProgress:
		return "badge badge-busy"
	case !p.Status.Connected:
		return "badge badge-warn"
	default:
		return "badge badge-ok"
	}
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// statusCSS is inlined so the page works with no static file serving.
const statusCSS = `
* { box-sizing: border-box; }
body { margin: 0; font-family: -apple-system, "Segoe UI", Roboto, sans-serif; background: #f6f7f9; color: #1f2430; }
.topbar { display: flex; align-items: center; gap: 12px; padding: 14px 24px; background: #232936; color: #fff; }
.topbar h1 { margin: 0; font-size: 1.2rem; font-weight: 600; }
.badge { padding: 2px 10px; border-radius: 999px; font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.05em; }
.badge-ok { background: #1f7a4d; color: #fff; }
.badge-busy { background: #2a6fb0; color: #fff; }
.badge-warn { background: #b07a2a; color: #fff; }
.badge-muted { background: #4a5160; color: #cfd4dd; }
.page { max-width: 880px; margin: 0 auto; padding: 20px 24px 48px; }
.cards { display: flex; flex-wrap: wrap; gap: 12px; margin-bottom: 20px; }
.card { flex: 1 1 120px; background: #fff; border: 1px solid #e2e5ea; border-radius: 8px; padding: 12px 16px; display: flex; flex-direction: column; }
.card-value { font-size: 1.6rem; font-weight: 700; }
.card-label { font-size: 0.75rem; color: #6b7280; text-transform: uppercase; letter-spacing: 0.04em; }
.panel { background: #fff; border: 1px solid #e2e5ea; border-radius: 8px; padding: 16px 20px; margin-bottom: 20px; }
.panel h2 { margin: 0 0 12px; font-size: 1rem; }
.rows { list-style: none; margin: 0; padding: 0; }
.row { display: flex; align-items: baseline; gap: 10px; padding: 8px 0; border-top: 1px solid #eef0f3; }
.row:first-child { border-top: none; }
.row-title { font-weight: 500; }
.row-meta { margin-left: auto; font-size: 0.8rem; color: #6b7280; text-align: right; }
.chip { font-size: 0.7rem; padding: 2px 8px; border-radius: 4px; text-transform: uppercase; letter-spacing: 0.04em; white-space: nowrap; }
.chip-pending { background: #eef2ff; color: #3b4ba0; }
.chip-in_flight { background: #e0f2fe; color: #0b6aa0; }
.chip-failed { background: #fee2e2; color: #a03b3b; }
.chip-conflicted { background: #fef3c7; color: #92600e; }
.empty { color: #6b7280; font-style: italic; }
.hint { font-size: 0.8rem; color: #6b7280; margin: 10px 0 0; }
.meta { display: flex; gap: 18px; font-size: 0.75rem; color: #8a8f99; }
`
