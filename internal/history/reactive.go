package history

import "time"

// ReactiveToolCall pairs a pending ToolCall with its ToolState and the
// channel it was found in.
type ReactiveToolCall struct {
	ChannelID string
	Call      ToolCall
	State     *ToolState
}

// FindReactiveToolCalls walks every channel looking for confirmed or
// unconfirmed tool calls that are still reactive (spec §4.3). It returns the
// matches plus an InternalUpdates carrying only the watermark
// (no_reactive_tool_call_before) adjustments.
func FindReactiveToolCalls(h *History) ([]ReactiveToolCall, *InternalUpdates) {
	var found []ReactiveToolCall
	updates := NewInternalUpdates()

	for channelID, c := range h.Channels {
		if len(c.Messages) == 0 {
			continue
		}
		last := c.Messages[len(c.Messages)-1]
		if c.NoReactiveToolCallBefore != nil && !last.GetDate().After(*c.NoReactiveToolCallBefore) {
			continue
		}

		watermark := last.GetDate()
		collectedAny := false

		for i := len(c.Messages) - 1; i >= 0; i-- {
			m := c.Messages[i]
			if c.NoReactiveToolCallBefore != nil && m.GetDate().Before(*c.NoReactiveToolCallBefore) {
				break
			}
			agent, ok := m.(*AgentMessage)
			if !ok {
				continue
			}
			reactiveHere := false
			for _, tc := range agent.ToolCalls {
				state := agent.ToolStates[tc.ID]
				if state == nil {
					continue
				}
				if state.InternalStatus == ToolConfirmed || state.InternalStatus == ToolUnconfirmed {
					found = append(found, ReactiveToolCall{ChannelID: channelID, Call: tc, State: state})
					reactiveHere = true
				}
			}
			if reactiveHere {
				collectedAny = true
				wm := m.GetDate().Add(-time.Second)
				watermark = wm
			}
		}

		if collectedAny {
			updates.ChannelUpdate(channelID).NoReactiveToolCallBefore = &watermark
		} else {
			wm := last.GetDate()
			updates.ChannelUpdate(channelID).NoReactiveToolCallBefore = &wm
		}
	}

	return found, updates
}
