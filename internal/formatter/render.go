package formatter

import (
	"fmt"
	"strings"
	"time"

	"weave/internal/history"
)

// RenderOptions configures render (spec §4.5).
type RenderOptions struct {
	FromTimeAgo time.Duration
	MinMessage  int
}

// DefaultRenderOptions mirrors the spec's stated defaults (1 day, 3 messages).
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{FromTimeAgo: 24 * time.Hour, MinMessage: 3}
}

// timeAgo renders a human-readable relative-time string, grounded on
// original_source/meep/src/graphs/_formatting.py's _time_ago.
func timeAgo(now, t time.Time) string {
	d := now.Sub(t)
	secs := d.Seconds()
	switch {
	case secs < 0:
		return "in the future"
	case secs < 60:
		return fmt.Sprintf("%ds ago", int(secs))
	case secs < 3600:
		return fmt.Sprintf("%dm ago", int(secs/60))
	case secs < 86400:
		return fmt.Sprintf("%dh ago", int(secs/3600))
	default:
		return fmt.Sprintf("%dd ago", int(secs/86400))
	}
}

// Render produces the human-facing conversation text given to the language
// model for the current channel, interleaved with context from other
// recently active channels (spec §4.5 render).
func Render(h *history.History, now time.Time, opts RenderOptions) string {
	c := h.CurrentChannelOrNil()
	if c == nil {
		return ""
	}

	minDate := now.Add(-opts.FromTimeAgo)
	assembleOpts := DefaultAssembleOptions()
	assembleOpts.MinDate = &minDate
	assembleOpts.MinMessage = opts.MinMessage

	items := Assemble(c, assembleOpts)
	groups := Group(items, now, DefaultGapSchedule(), nil)
	entries := renderGroups(groups, now)

	// External channels: insert their sub-groups before the first display
	// entry whose date is strictly greater than the sub-group's newest item
	// (spec §4.5 render step 4).
	for id, other := range h.Channels {
		if id == c.ID || other.LastActivity.Before(minDate) {
			continue
		}
		extItems := Assemble(other, assembleOpts)
		if len(extItems) == 0 {
			continue
		}
		extGroups := Group(extItems, now, DefaultGapSchedule(), nil)
		for _, eg := range extGroups {
			line := "From channel " + other.Name + ": " + renderGroupLine(eg, now)
			entries = insertBeforeNewer(entries, renderEntry{date: eg[len(eg)-1].upperBound(), line: line})
		}
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.line)
		b.WriteString("\n")
	}
	return b.String()
}

// renderEntry pairs a rendered group's text with the date render uses to
// position external-channel context relative to it.
type renderEntry struct {
	date time.Time
	line string
}

func renderGroups(groups [][]Item, now time.Time) []renderEntry {
	var out []renderEntry
	for _, g := range groups {
		out = append(out, renderEntry{date: g[len(g)-1].upperBound(), line: renderGroupLine(g, now)})
	}
	return out
}

func renderGroupLine(g []Item, now time.Time) string {
	if len(g) == 0 {
		return ""
	}
	var b strings.Builder
	oldest, newest := g[0].lowerBound(), g[len(g)-1].upperBound()
	if oldest.Equal(newest) {
		fmt.Fprintf(&b, "[%s]\n", timeAgo(now, newest))
	} else {
		fmt.Fprintf(&b, "[from %s to %s]\n", timeAgo(now, oldest), timeAgo(now, newest))
	}
	for _, it := range g {
		b.WriteString(renderItemLine(it))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderItemLine(it Item) string {
	if it.Summary != nil {
		return "_" + it.Summary.Text + "_"
	}
	switch m := it.Message.(type) {
	case *history.SystemMessage:
		return fmt.Sprintf("[%s] %s", m.Author, m.Content)
	case *history.HumanMessage:
		content := m.Content
		if m.Summary != "" {
			content = m.Summary
		}
		return fmt.Sprintf("%s: %s", m.Author, content)
	case *history.AgentMessage:
		var b strings.Builder
		b.WriteString(m.Content)
		for _, tc := range m.ToolCalls {
			state := m.ToolStates[tc.ID]
			if state == nil {
				continue
			}
			fmt.Fprintf(&b, "\n  [tool %s: %s] %s", tc.Name, state.InternalStatus, state.Content)
		}
		return b.String()
	default:
		return ""
	}
}

// insertBeforeNewer inserts entry immediately before the first element of
// entries whose date is strictly greater than entry.date, matching the
// spec's "insert each sub-group before the first display message whose
// date is strictly greater than the sub-group's newest item" (§4.5 render
// step 4). Appended at the end when every entry is older or equal.
func insertBeforeNewer(entries []renderEntry, entry renderEntry) []renderEntry {
	pos := len(entries)
	for i, e := range entries {
		if e.date.After(entry.date) {
			pos = i
			break
		}
	}
	out := make([]renderEntry, 0, len(entries)+1)
	out = append(out, entries[:pos]...)
	out = append(out, entry)
	out = append(out, entries[pos:]...)
	return out
}
