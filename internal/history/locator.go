package history

// ToolLocation pinpoints a ToolCall's hosting message.
type ToolLocation struct {
	ChannelID string
	Index     int
}

// LocateToolCalls searches for each id in ids, current channel first, then
// remaining channels ordered by last_activity descending; each channel is
// scanned once and removed from the search frontier after being visited
// (spec §4.2). Ids not found are simply absent from the result map.
func LocateToolCalls(h *History, ids []string) map[string]ToolLocation {
	remaining := make(map[string]bool, len(ids))
	for _, id := range ids {
		remaining[id] = true
	}
	result := make(map[string]ToolLocation, len(ids))

	scan := func(channelID string) {
		c := h.Channels[channelID]
		if c == nil {
			return
		}
		for i, m := range c.Messages {
			agent, ok := m.(*AgentMessage)
			if !ok {
				continue
			}
			for id := range remaining {
				if _, has := agent.ToolStates[id]; has {
					result[id] = ToolLocation{ChannelID: channelID, Index: i}
					delete(remaining, id)
				}
			}
		}
	}

	if len(remaining) == 0 {
		return result
	}

	if h.CurrentChannel != "" {
		scan(h.CurrentChannel)
	}
	for _, id := range h.OrderedByLastActivityDesc(h.CurrentChannel) {
		if len(remaining) == 0 {
			break
		}
		scan(id)
	}
	return result
}
