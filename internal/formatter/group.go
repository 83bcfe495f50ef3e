package formatter

import (
	"time"

	"weave/internal/history"
)

// GapRule maps a threshold date-age to the max allowed gap at that age; the
// schedule widens as items get older (spec §4.5 group).
type GapRule struct {
	Threshold time.Duration // age relative to "now" at which this rule applies
	MaxGap    time.Duration
}

// SizeRule caps a group's character size past a given threshold age.
type SizeRule struct {
	Threshold time.Duration
	MaxSize   int
}

// DefaultGapSchedule mirrors the spec's example three-tier schedule:
// 20m within 2h, 1h within a day, 1d beyond.
func DefaultGapSchedule() []GapRule {
	return []GapRule{
		{Threshold: 2 * time.Hour, MaxGap: 20 * time.Minute},
		{Threshold: 24 * time.Hour, MaxGap: time.Hour},
		{Threshold: 365 * 24 * time.Hour, MaxGap: 24 * time.Hour},
	}
}

func gapFor(age time.Duration, schedule []GapRule) time.Duration {
	for _, r := range schedule {
		if age <= r.Threshold {
			return r.MaxGap
		}
	}
	if len(schedule) > 0 {
		return schedule[len(schedule)-1].MaxGap
	}
	return time.Hour
}

// Group clusters a chronologically ordered (oldest-first) item list by time
// gap, optionally splitting or truncating groups exceeding a size schedule
// (spec §4.5 group).
func Group(items []Item, now time.Time, gapSchedule []GapRule, sizeSchedule []SizeRule) [][]Item {
	if len(items) == 0 {
		return nil
	}
	var groups [][]Item
	current := []Item{items[0]}

	for i := 1; i < len(items); i++ {
		prevUpper := current[len(current)-1].upperBound()
		nextLower := items[i].lowerBound()
		age := now.Sub(nextLower)
		maxGap := gapFor(age, gapSchedule)
		if nextLower.Sub(prevUpper) > maxGap {
			groups = append(groups, current)
			current = []Item{items[i]}
		} else {
			current = append(current, items[i])
		}
	}
	groups = append(groups, current)

	if sizeSchedule == nil {
		return groups
	}
	return enforceSizeSchedule(groups, now, sizeSchedule)
}

func maxSizeFor(age time.Duration, schedule []SizeRule) int {
	for _, r := range schedule {
		if age <= r.Threshold {
			return r.MaxSize
		}
	}
	if len(schedule) > 0 {
		return schedule[len(schedule)-1].MaxSize
	}
	return 1 << 30
}

func groupSize(g []Item, useSummaries bool) int {
	n := 0
	for _, it := range g {
		n += it.Size(useSummaries)
	}
	return n
}

// enforceSizeSchedule splits groups exceeding their size limit at the
// largest inter-item gap (at least one item each side); singleton groups
// exceeding the limit are truncated to 1.5x the limit (spec §4.5).
func enforceSizeSchedule(groups [][]Item, now time.Time, schedule []SizeRule) [][]Item {
	queue := append([][]Item(nil), groups...)
	var out [][]Item

	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]

		age := now.Sub(g[len(g)-1].upperBound())
		limit := maxSizeFor(age, schedule)
		size := groupSize(g, true)
		if size <= limit {
			out = append(out, g)
			continue
		}
		if len(g) == 1 {
			truncated := truncateItemText(g[0], int(float64(limit)*1.5))
			out = append(out, []Item{truncated})
			continue
		}

		splitAt := 1
		largestGap := time.Duration(-1)
		for i := 1; i < len(g); i++ {
			gap := g[i].lowerBound().Sub(g[i-1].upperBound())
			if gap > largestGap {
				largestGap = gap
				splitAt = i
			}
		}
		left := append([]Item(nil), g[:splitAt]...)
		right := append([]Item(nil), g[splitAt:]...)
		queue = append([][]Item{left, right}, queue...)
	}

	return out
}

func truncateItemText(it Item, limit int) Item {
	if limit < 0 {
		limit = 0
	}
	if it.Summary != nil {
		s := *it.Summary
		if len(s.Text) > limit {
			s.Text = s.Text[:limit] + "..."
		}
		return Item{Summary: &s}
	}
	switch m := it.Message.(type) {
	case *history.HumanMessage:
		c := *m
		if len(c.Content) > limit {
			c.Content = c.Content[:limit] + "..."
		}
		return Item{Message: &c}
	case *history.AgentMessage:
		c := *m
		if len(c.Content) > limit {
			c.Content = c.Content[:limit] + "..."
		}
		return Item{Message: &c}
	case *history.SystemMessage:
		c := *m
		if len(c.Content) > limit {
			c.Content = c.Content[:limit] + "..."
		}
		return Item{Message: &c}
	}
	return it
}
