// Package digest renders numbered summary lists of recent records for the
// "next", "today" and "week" windows.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/core"
)

// ListCap bounds every rendered list. "update N" selections index into the
// snapshot, so the cap also bounds what a user can select.
const ListCap = 20

// completedStatuses mark records that dropped off the today fallback list.
var completedStatuses = map[string]bool{
	"done": true, "completed": true, "complete": true, "closed": true, "archived": true,
}

// Generator builds digest lists from the record store.
type Generator struct {
	records core.RecordStore
	cap     int
}

// NewGenerator creates a digest generator. cap <= 0 means the default.
func NewGenerator(records core.RecordStore, cap int) *Generator {
	if cap <= 0 {
		cap = ListCap
	}
	return &Generator{records: records, cap: cap}
}

// Title returns the digest heading for a kind. The "[SB DIGEST]" marker also
// lets the webhook recognize and skip the bot's own digest posts.
func Title(kind core.DigestKind) string {
	switch kind {
	case core.DigestToday:
		return "[SB DIGEST] Today"
	case core.DigestWeek:
		return "[SB DIGEST] This Week"
	default:
		return "[SB DIGEST] Next Focus"
	}
}

// Build returns the digest's records as refs, capped, in render order. The
// same slice is snapshotted into PendingOperation so a later "update N"
// resolves against exactly what the user saw.
func (g *Generator) Build(ctx context.Context, kind core.DigestKind, now time.Time) ([]core.RecordRef, error) {
	now = now.UTC()

	var records []*core.Record
	var err error
	switch kind {
	case core.DigestToday:
		records, err = g.buildToday(ctx, now)
	case core.DigestWeek:
		records, err = g.records.List(ctx, nil, now.AddDate(0, 0, -7))
	default:
		records, err = g.records.List(ctx, nil, now.AddDate(0, 0, -14))
	}
	if err != nil {
		return nil, err
	}

	if len(records) > g.cap {
		records = records[:g.cap]
	}

	refs := make([]core.RecordRef, 0, len(records))
	for _, r := range records {
		refs = append(refs, core.RecordRef{
			RecordID: r.ID,
			Category: r.Category,
			Title:    r.Title(),
			Fields:   r.Fields,
		})
	}
	return refs, nil
}

// buildToday returns records touched on now's calendar day. An empty day
// falls back to all still-open records, highest priority first, so the daily
// digest is never an empty message while work remains.
func (g *Generator) buildToday(ctx context.Context, now time.Time) ([]*core.Record, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	records, err := g.records.List(ctx, nil, dayStart)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		sortByPriority(records)
		return records, nil
	}

	all, err := g.records.List(ctx, nil, time.Time{})
	if err != nil {
		return nil, err
	}
	var open []*core.Record
	for _, r := range all {
		if status := statusValue(r); status != "" && completedStatuses[status] {
			continue
		}
		open = append(open, r)
	}
	sort.SliceStable(open, func(i, j int) bool {
		pi, pj := priorityValue(open[i]), priorityValue(open[j])
		if pi != pj {
			return pi < pj
		}
		si, sj := statusRank(statusValue(open[i])), statusRank(statusValue(open[j]))
		if si != sj {
			return si < sj
		}
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})
	return open, nil
}

// Render produces the outgoing digest message: a heading followed by a
// numbered list matching the ref order.
func Render(kind core.DigestKind, refs []core.RecordRef) string {
	lines := []string{Title(kind)}
	for i, ref := range refs {
		line := fmt.Sprintf("%d) %s: %s", i+1, ref.Category, ref.Title)
		if context := refContext(ref); context != "" {
			line += " - " + context
		}
		lines = append(lines, line)
	}
	if len(refs) == 0 {
		lines = append(lines, "No items found.")
	}
	return strings.Join(lines, "\n")
}

// refContext picks the most useful secondary field for the one-line view.
func refContext(ref core.RecordRef) string {
	switch ref.Category {
	case core.CategoryProject:
		return firstNonEmpty(ref.Fields, "next_action", "notes")
	case core.CategoryPerson:
		return firstNonEmpty(ref.Fields, "context", "follow_ups")
	case core.CategoryIdea:
		return firstNonEmpty(ref.Fields, "one_liner", "notes")
	default:
		return firstNonEmpty(ref.Fields, "notes")
	}
}

func firstNonEmpty(fields map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(fields[key]); v != "" {
			return v
		}
	}
	return ""
}

func statusValue(r *core.Record) string {
	return strings.ToLower(strings.TrimSpace(r.Fields["status"]))
}

// priorityValue reads an optional 1-5 priority field, defaulting to 3.
func priorityValue(r *core.Record) int {
	raw := strings.TrimSpace(r.Fields["priority"])
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 || value > 5 {
		return 3
	}
	return value
}

func statusRank(status string) int {
	switch status {
	case "blocked", "in progress", "active":
		return 0
	case "open", "doing", "next", "todo":
		return 1
	case "backlog", "someday", "later":
		return 2
	}
	if completedStatuses[status] {
		return 9
	}
	return 3
}

func sortByPriority(records []*core.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		pi, pj := priorityValue(records[i]), priorityValue(records[j])
		if pi != pj {
			return pi < pj
		}
		return records[j].UpdatedAt.Before(records[i].UpdatedAt)
	})
}
