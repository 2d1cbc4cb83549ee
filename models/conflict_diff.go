package models

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ============================================================================
// Conflict Field Diffs
//
// For diverging text fields, a rendered inline diff rides along in the
// ConflictInfo so the UI can show what actually changed instead of two
// opaque values. Non-string fields are skipped; their values are already
// side by side in local_payload/remote_payload.
// ============================================================================

// renderFieldDiffs builds inline diffs for the diverging fields where both
// sides are strings. The diff reads remote -> local: deletions are remote
// text the local intent drops, insertions are local additions.
// Returns nil when no field qualifies.
func renderFieldDiffs(local, remote Payload, fields []string) map[string]string {
	var out map[string]string
	dmp := diffmatchpatch.New()

	for _, f := range fields {
		lv, lok := local[f].(string)
		rv, rok := remote[f].(string)
		if !lok && !rok {
			continue
		}

		diffs := dmp.DiffMain(rv, lv, false)
		diffs = dmp.DiffCleanupSemantic(diffs)

		if out == nil {
			out = make(map[string]string)
		}
		out[f] = renderInlineDiff(diffs)
	}
	return out
}

// renderInlineDiff flattens a diff into one line with [-removed-] and
// [+added+] markers.
func renderInlineDiff(diffs []diffmatchpatch.Diff) string {
	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-")
			b.WriteString(d.Text)
			b.WriteString("-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("[+")
			b.WriteString(d.Text)
			b.WriteString("+]")
		default:
			b.WriteString(d.Text)
		}
	}
	return b.String()
}
