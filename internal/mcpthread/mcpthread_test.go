package mcpthread

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"weave/internal/history"
	"weave/internal/tools"
)

type sleepTool struct {
	name  string
	delay time.Duration
}

func (s *sleepTool) Name() string { return s.name }
func (s *sleepTool) JSONSchema() map[string]any {
	return map[string]any{"description": "sleeps then returns ok", "parameters": map[string]any{"type": "object"}}
}
func (s *sleepTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return map[string]any{"ok": true, "text": "done"}, nil
}

func TestScenarioS6QuickVsSlow(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&sleepTool{name: "fast", delay: 500 * time.Millisecond})
	reg.Register(&sleepTool{name: "slow", delay: 5 * time.Second})

	client := NewClient(reg, nil)

	client.AddRequests(context.Background(), "t1", []Request{
		{ToolCall: history.ToolCall{ID: "a", Name: "fast"}, CreatedAt: time.Now()},
		{ToolCall: history.ToolCall{ID: "b", Name: "slow"}, CreatedAt: time.Now()},
	})

	responses := client.GetResponses(context.Background(), "t1", 2*time.Second)

	var completed, processing int
	for _, r := range responses {
		switch r.Status {
		case "completed":
			completed++
		case "processing":
			processing++
		}
	}
	require.Equal(t, 1, completed)
	require.Equal(t, 1, processing)
}
