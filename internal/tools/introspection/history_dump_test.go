package introspection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"weave/internal/history"
	"weave/internal/tools"
)

func TestHistoryDumpToolReportsCurrentChannel(t *testing.T) {
	tool := New()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := &history.History{
		CurrentChannel: "general",
		Channels: map[string]*history.Channel{
			"general": {
				ID:           "general",
				Messages:     history.MessageList{&history.HumanMessage{Content: "hi"}},
				Summaries:    map[int64][]history.Summary{1: {{Text: "s1"}}, 2: {{Text: "s2"}, {Text: "s3"}}},
				LastActivity: now,
			},
		},
	}
	ctx := tools.WithHistory(context.Background(), h)

	out, err := tool.Call(ctx, nil)
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	resp, ok := out.(historyDumpResponse)
	if !ok {
		t.Fatalf("unexpected response type %T", out)
	}
	if !resp.OK || resp.MessageCount != 1 || resp.SummaryCount != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHistoryDumpToolMissingHistory(t *testing.T) {
	tool := New()
	out, err := tool.Call(context.Background(), nil)
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	resp := out.(historyDumpResponse)
	if resp.OK || resp.Error == "" {
		t.Fatalf("expected error response, got %+v", resp)
	}
}

func TestHistoryDumpToolExplicitChannel(t *testing.T) {
	tool := New()
	h := &history.History{
		CurrentChannel: "general",
		Channels: map[string]*history.Channel{
			"general": history.NewChannel("general"),
			"other":   history.NewChannel("other"),
		},
	}
	ctx := tools.WithHistory(context.Background(), h)
	raw, _ := json.Marshal(map[string]string{"channel_id": "other"})

	out, err := tool.Call(ctx, raw)
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	resp := out.(historyDumpResponse)
	if resp.ChannelID != "other" {
		t.Fatalf("expected other, got %+v", resp)
	}
}
