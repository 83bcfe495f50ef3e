package stages

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"weave/internal/history"
	"weave/internal/pipeline"
)

// Wakeup implements the "wakeup" stage contract (spec §4.7): selects a
// target channel by (a) the channel holding the last human message from
// wakeup.user_name within two days, else (b) wakeup.channel_id, else (c)
// the current channel; fires the channel's wakeup_url only if it exists
// and the channel has been idle since unless_active_since; clears wakeup.
func Wakeup(client *http.Client) pipeline.Stage {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		update := pipeline.StateUpdate{ClearWakeup: true}

		if s.Wakeup == nil || s.History == nil {
			return pipeline.Command{Update: update}, nil
		}

		channel := resolveWakeupTarget(s.History, *s.Wakeup)
		if channel == nil || channel.WakeupURL == "" {
			return pipeline.Command{Update: update}, nil
		}
		if channel.LastActivity.After(s.Wakeup.UnlessActiveSince) {
			return pipeline.Command{Update: update}, nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, channel.WakeupURL, nil)
		if err != nil {
			log.Warn().Err(err).Str("channel_id", channel.ID).Msg("wakeup: build request failed")
			return pipeline.Command{Update: update}, nil
		}
		resp, err := client.Do(req)
		if err != nil {
			log.Warn().Err(err).Str("channel_id", channel.ID).Msg("wakeup: request failed")
			return pipeline.Command{Update: update}, nil
		}
		resp.Body.Close()

		return pipeline.Command{Update: update}, nil
	}
}

func resolveWakeupTarget(h *history.History, in pipeline.WakeupInput) *history.Channel {
	if in.UserName != "" {
		cutoff := time.Now().Add(-48 * time.Hour)
		var best *history.Channel
		var bestDate time.Time
		for _, c := range h.Channels {
			for i := len(c.Messages) - 1; i >= 0; i-- {
				hm, ok := c.Messages[i].(*history.HumanMessage)
				if !ok {
					continue
				}
				if hm.Author == in.UserName && hm.Date.After(cutoff) {
					if best == nil || hm.Date.After(bestDate) {
						best = c
						bestDate = hm.Date
					}
					break
				}
			}
		}
		if best != nil {
			return best
		}
	}
	if in.ChannelID != "" {
		if c, ok := h.Channels[in.ChannelID]; ok {
			return c
		}
	}
	return h.CurrentChannelOrNil()
}
