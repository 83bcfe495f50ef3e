// Package introspection implements the runtime's self-inspection tool
// surface, grounded on original_source/meep/src/mcp/debug.py's debug MCP
// server.
package introspection

import (
	"context"
	"encoding/json"

	"weave/internal/tools"
)

const historyDumpToolName = "history_dump"

type historyDumpArgs struct {
	ChannelID string `json:"channel_id"`
}

type historyDumpResponse struct {
	OK           bool   `json:"ok"`
	ChannelID    string `json:"channel_id,omitempty"`
	MessageCount int    `json:"message_count"`
	SummaryCount int    `json:"summary_count"`
	LastActivity string `json:"last_activity,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HistoryDumpTool reports message count, summary count and last_activity for
// a channel, so an agent can check its own memory footprint mid-conversation.
type HistoryDumpTool struct{}

// Name implements tools.Tool.
func (HistoryDumpTool) Name() string { return historyDumpToolName }

// JSONSchema implements tools.Tool.
func (HistoryDumpTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        historyDumpToolName,
		"description": "Report the message count, summary count and last activity timestamp for a channel (defaults to the current channel).",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"channel_id": map[string]any{
					"type":        "string",
					"description": "Channel to inspect; defaults to the current channel if omitted.",
				},
			},
		},
	}
}

// Call implements tools.Tool.
func (HistoryDumpTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args historyDumpArgs
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}

	h := tools.HistoryFromContext(ctx)
	if h == nil {
		return historyDumpResponse{Error: "no history available"}, nil
	}

	channelID := args.ChannelID
	if channelID == "" {
		channelID = h.CurrentChannel
	}

	c, ok := h.Channels[channelID]
	if !ok || c == nil {
		return historyDumpResponse{Error: "unknown channel: " + channelID}, nil
	}

	summaryCount := 0
	for _, list := range c.Summaries {
		summaryCount += len(list)
	}

	resp := historyDumpResponse{
		OK:           true,
		ChannelID:    c.ID,
		MessageCount: len(c.Messages),
		SummaryCount: summaryCount,
	}
	if !c.LastActivity.IsZero() {
		resp.LastActivity = c.LastActivity.Format(timeLayout)
	}
	return resp, nil
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// New constructs the history_dump tool.
func New() tools.Tool { return HistoryDumpTool{} }
