// Package formatter selects and renders the chronological mix of messages
// and summaries presented to the language model, under a character budget.
// Grounded on original_source/meep/src/graphs/_formatting.py's
// _count_message_size and the message-or-summary substitution it performs,
// generalized here to the full assemble/group/render pipeline from the spec.
package formatter

import (
	"sort"
	"time"

	"weave/internal/history"
)

// Item is either a *history.Summary or a history.Message, assembled in
// chronological order.
type Item struct {
	Summary *history.Summary
	Message history.Message
}

func (it Item) lowerBound() time.Time {
	if it.Summary != nil {
		return it.Summary.MinDate
	}
	return it.Message.GetDate()
}

func (it Item) upperBound() time.Time {
	if it.Summary != nil {
		return it.Summary.MaxDate
	}
	return it.Message.GetDate()
}

// Size returns the character count used for budget accounting: a summary's
// length when present and useSummaries is true, else the content length,
// plus the combined tool-state content length for Agent messages.
func (it Item) Size(useSummaries bool) int {
	if it.Summary != nil {
		return len(it.Summary.Text)
	}
	switch m := it.Message.(type) {
	case *history.HumanMessage:
		if useSummaries && m.Summary != "" {
			return len(m.Summary)
		}
		return len(m.Content)
	case *history.AgentMessage:
		n := 0
		if useSummaries && m.Summary != "" {
			n = len(m.Summary)
		} else {
			n = len(m.Content)
		}
		for _, ts := range m.ToolStates {
			n += len(ts.Content)
		}
		return n
	case *history.SystemMessage:
		return len(m.Content)
	default:
		return 0
	}
}

// AssembleOptions configures assemble (spec §4.5).
type AssembleOptions struct {
	SummaryRankThreshold int
	UseMessageSummaries  bool
	MaxSize              int
	MinMessage           int
	MaxMessage           *int
	MinDate              *time.Time
	MaxDate              *time.Time
}

// DefaultAssembleOptions mirrors the spec's stated defaults.
func DefaultAssembleOptions() AssembleOptions {
	return AssembleOptions{UseMessageSummaries: true, MaxSize: 4000}
}

// Assemble returns a chronologically ordered (oldest-first) mixed list of
// messages and summaries within the character budget (spec §4.5).
func Assemble(c *history.Channel, opts AssembleOptions) []Item {
	var assembled []Item
	total := 0
	includedMessages := 0

	fits := func(extra int) bool { return total+extra <= opts.MaxSize }

	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		date := m.GetDate()

		if opts.MaxDate != nil && !date.Before(*opts.MaxDate) {
			continue
		}
		if opts.MinDate != nil && date.Before(*opts.MinDate) && includedMessages >= opts.MinMessage {
			break
		}
		if opts.MaxMessage != nil && includedMessages >= *opts.MaxMessage && includedMessages >= opts.MinMessage {
			break
		}

		var item Item
		if list, ok := c.SummaryAt(date); ok && includedMessages >= opts.MinMessage {
			rank := opts.SummaryRankThreshold
			if rank >= len(list) {
				rank = len(list) - 1
			}
			if rank < 0 {
				rank = 0
			}
			s := list[rank]
			item = Item{Summary: &s}
		} else {
			item = Item{Message: m}
		}

		size := item.Size(opts.UseMessageSummaries)
		assembled = append([]Item{item}, assembled...)
		total += size
		includedMessages++

		if total > opts.MaxSize {
			for total > opts.MaxSize && backtrackSubstitute(c, &assembled, &total, opts) {
			}
			if total > opts.MaxSize {
				// Discard the last added item and continue the outer walk.
				total -= assembled[0].Size(opts.UseMessageSummaries)
				assembled = assembled[1:]
				includedMessages--
			}
		}
	}

	return assembled
}

// backtrackSubstitute implements spec §4.5's backtracking rule: for each
// assembled item (newest->oldest), search summaries keyed at its upper
// boundary for one whose MinDate is strictly older than the item's lower
// boundary; if found, collapse every assembled item wholly contained within
// the summary's span into that single summary. Returns true if a
// substitution was made (so the caller should re-check the size).
func backtrackSubstitute(c *history.Channel, assembled *[]Item, total *int, opts AssembleOptions) bool {
	items := *assembled
	for i := len(items) - 1; i >= 0; i-- {
		candidates, ok := c.SummaryAt(items[i].upperBound())
		if !ok {
			continue
		}
		for _, s := range candidates {
			if !s.MinDate.Before(items[i].lowerBound()) {
				continue
			}
			// Remove every item wholly contained within [s.MinDate, s.MaxDate].
			var kept []Item
			removedSize := 0
			insertAt := -1
			for idx, it := range items {
				contained := !it.lowerBound().Before(s.MinDate) && !it.upperBound().After(s.MaxDate)
				if contained {
					removedSize += it.Size(opts.UseMessageSummaries)
					if insertAt == -1 {
						insertAt = len(kept)
					}
					continue
				}
				kept = append(kept, it)
			}
			if insertAt == -1 {
				insertAt = 0
			}
			sCopy := s
			newItem := Item{Summary: &sCopy}
			out := make([]Item, 0, len(kept)+1)
			out = append(out, kept[:insertAt]...)
			out = append(out, newItem)
			out = append(out, kept[insertAt:]...)

			*assembled = out
			*total = *total - removedSize + newItem.Size(opts.UseMessageSummaries)
			return true
		}
	}
	return false
}

// sortItemsChronological orders items by their lower date bound. Nothing in
// the package calls it; render positions external groups with insertBeforeNewer.
func sortItemsChronological(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].lowerBound().Before(items[j].lowerBound()) })
}
