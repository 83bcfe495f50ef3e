package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"weave/internal/config"
	"weave/internal/formatter"
	"weave/internal/history"
	"weave/internal/knowledge"
	"weave/internal/llm"
	"weave/internal/pipeline"
)

// Summarize implements the "summarize" stage contract (spec §4.7): for each
// channel active since the last summarize check, re-groups its messages on
// the same time/size schedule the formatter uses, then creates one summary
// per eligible group — skipping the newest group (still live conversation),
// groups shorter than 5 items, and any group whose [min_date, max_date] span
// already has a matching summary. When at least one summary is produced,
// delete_before is set to now - 5 days, letting the history reducer drop the
// superseded raw messages (spec §4.1 step 3 asymmetry).
//
// Each newly produced summary is also the durable unit of knowledge the
// "knowledge" node later retrieves: when store is non-nil, its text is
// embedded and upserted via Remember, and the returned fact id is kept on
// the Summary so a later prune of that same summary can Forget it again. A
// nil store (knowledge retrieval not configured for this deployment) makes
// both calls no-ops.
func Summarize(provider llm.Provider, model string, hist config.HistoryConfig, store *knowledge.Store) pipeline.Stage {
	gapSchedule := formatter.DefaultGapSchedule()
	sizeSchedule := []formatter.SizeRule{
		{Threshold: 24 * time.Hour, MaxSize: hist.MinimumContentSizePerSummary * 4},
		{Threshold: 7 * 24 * time.Hour, MaxSize: hist.MinimumContentSizePerSummary * 2},
		{Threshold: 365 * 24 * time.Hour, MaxSize: hist.MinimumContentSizePerSummary},
	}

	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		if s.History == nil {
			return pipeline.Command{}, nil
		}
		current := now(s)
		var checkSince time.Time
		if s.LastSummaryCheck != nil {
			checkSince = *s.LastSummaryCheck
		}

		updates := history.NewInternalUpdates()
		anyProduced := false

		for id, c := range s.History.Channels {
			if !c.LastActivity.After(checkSince) {
				continue
			}
			if !eligibleForSummary(c, current, hist) {
				continue
			}

			items := make([]formatter.Item, 0, len(c.Messages))
			for i := range c.Messages {
				items = append(items, formatter.Item{Message: c.Messages[i]})
			}
			groups := formatter.Group(items, current, gapSchedule, sizeSchedule)
			if len(groups) <= 1 {
				continue // only the live, most-recent group exists
			}
			groups = groups[:len(groups)-1] // drop the most recent group

			diff := updates.ChannelUpdate(id)
			for _, g := range groups {
				if len(g) < 5 {
					continue
				}
				minDate, maxDate := groupSpan(g)
				if hasExactSummary(c, minDate, maxDate) {
					continue
				}

				text, err := summarizeGroup(ctx, provider, model, g)
				if err != nil {
					return pipeline.Command{}, fmt.Errorf("summarize: channel %s: %w", id, err)
				}
				var factID string
				if store != nil {
					factID, err = store.Remember(ctx, id, text)
					if err != nil {
						log.Warn().Err(err).Str("channel_id", id).Msg("knowledge: remember failed")
					}
				}
				diff.NewSummaries = append(diff.NewSummaries, history.Summary{
					MinDate: minDate,
					MaxDate: maxDate,
					Text:    text,
					FactID:  factID,
				})
				anyProduced = true
			}
		}

		if !anyProduced {
			checked := current
			return pipeline.Command{Update: pipeline.StateUpdate{LastSummaryCheck: &checked}}, nil
		}

		deleteBefore := current.Add(-5 * 24 * time.Hour)
		for id, diff := range updates.ChannelUpdates {
			diff.DeleteBefore = &deleteBefore
			if store == nil {
				continue
			}
			c, ok := s.History.Channels[id]
			if !ok {
				continue
			}
			for _, list := range c.Summaries {
				for _, sm := range list {
					if sm.FactID == "" || !sm.MaxDate.Before(deleteBefore) {
						continue
					}
					if err := store.Forget(ctx, sm.FactID); err != nil {
						log.Warn().Err(err).Str("channel_id", id).Str("fact_id", sm.FactID).Msg("knowledge: forget failed")
					}
				}
			}
		}
		checked := current
		return pipeline.Command{Update: pipeline.StateUpdate{
			InternalUpdates:  updates,
			LastSummaryCheck: &checked,
		}}, nil
	}
}

// eligibleForSummary reports whether a channel has aged and grown enough to
// be worth re-grouping at all: its oldest unsummarized content must be both
// past the days-ago threshold and past the size threshold.
func eligibleForSummary(c *history.Channel, now time.Time, hist config.HistoryConfig) bool {
	if len(c.Messages) == 0 {
		return false
	}
	oldest := c.Messages[0].GetDate()
	if now.Sub(oldest) < time.Duration(hist.SummarizeDaysAgoThreshold)*24*time.Hour {
		return false
	}
	size := 0
	for _, m := range c.Messages {
		size += formatter.Item{Message: m}.Size(false)
	}
	return size >= hist.SummarizeSizeThreshold
}

func itemBounds(it formatter.Item) (lower, upper time.Time) {
	if it.Summary != nil {
		return it.Summary.MinDate, it.Summary.MaxDate
	}
	d := it.Message.GetDate()
	return d, d
}

func groupSpan(g []formatter.Item) (min, max time.Time) {
	min, max = itemBounds(g[0])
	for _, it := range g[1:] {
		lb, ub := itemBounds(it)
		if lb.Before(min) {
			min = lb
		}
		if ub.After(max) {
			max = ub
		}
	}
	return min, max
}

func hasExactSummary(c *history.Channel, minDate, maxDate time.Time) bool {
	list, ok := c.SummaryAt(maxDate)
	if !ok {
		return false
	}
	for _, s := range list {
		if s.MinDate.Equal(minDate) {
			return true
		}
	}
	return false
}

func summarizeGroup(ctx context.Context, provider llm.Provider, model string, g []formatter.Item) (string, error) {
	_, maxDate := itemBounds(g[len(g)-1])
	excerpt := &history.History{
		CurrentChannel: "excerpt",
		Channels:       map[string]*history.Channel{"excerpt": {ID: "excerpt", Messages: itemsToMessages(g), Summaries: map[int64][]history.Summary{}}},
	}
	window := formatter.Render(excerpt, maxDate, formatter.DefaultRenderOptions())
	resp, err := provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: "Summarize the following conversation excerpt concisely, preserving names, decisions and facts a reader would need later."},
		{Role: "user", Content: window},
	}, nil, model)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func itemsToMessages(items []formatter.Item) history.MessageList {
	out := make(history.MessageList, 0, len(items))
	for _, it := range items {
		if it.Message != nil {
			out = append(out, it.Message)
		}
	}
	return out
}
