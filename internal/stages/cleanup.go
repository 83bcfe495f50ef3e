package stages

import (
	"context"

	"weave/internal/history"
	"weave/internal/pipeline"
)

// Cleanup implements the "cleanup" stage contract (spec §4.7): for every
// channel whose last_activity is past its no_temporary_message_before
// watermark, walks its SystemMessages with a Lifespan, decrementing each and
// queuing a delete once it would reach zero, then advances the watermark to
// the channel's current last_activity so already-considered messages aren't
// rescanned next pass.
func Cleanup() pipeline.Stage {
	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		if s.History == nil {
			return pipeline.Command{}, nil
		}

		updates := history.NewInternalUpdates()
		changed := false

		for id, c := range s.History.Channels {
			if c.NoTemporaryMessageBefore != nil && !c.LastActivity.After(*c.NoTemporaryMessageBefore) {
				continue
			}

			diff := &history.ChannelDiff{MessageUpdates: map[int]history.Message{}}
			touched := false
			for i, m := range c.Messages {
				sm, ok := m.(*history.SystemMessage)
				if !ok || sm.Lifespan == nil {
					continue
				}
				remaining := *sm.Lifespan - 1
				if remaining <= 0 {
					diff.MessageDeletes = append(diff.MessageDeletes, i)
				} else {
					updated := sm.Clone().(*history.SystemMessage)
					updated.Lifespan = &remaining
					diff.MessageUpdates[i] = updated
				}
				touched = true
			}

			watermark := c.LastActivity
			diff.NoTemporaryMessageBefore = &watermark

			if touched || c.NoTemporaryMessageBefore == nil || !c.NoTemporaryMessageBefore.Equal(watermark) {
				updates.ChannelUpdates[id] = diff
				changed = true
			}
		}

		if !changed {
			return pipeline.Command{}, nil
		}
		return pipeline.Command{Update: pipeline.StateUpdate{InternalUpdates: updates}}, nil
	}
}
