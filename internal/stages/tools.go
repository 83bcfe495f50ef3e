package stages

import (
	"context"
	"time"

	"weave/internal/history"
	"weave/internal/mcpthread"
	"weave/internal/pipeline"
	"weave/internal/tools"
)

// Tools implements the "tools (scheduling)" stage contract (spec §4.7):
// runs find_reactive_tool_calls, filters to confirmed, submits to MCP,
// drains with the quick-wait window, translates results to updates.
func Tools(client *mcpthread.Client, threadID string, quickResponseTime time.Duration) pipeline.Stage {
	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		reactive, watermarks := history.FindReactiveToolCalls(s.History)

		var requests []mcpthread.Request
		for _, rc := range reactive {
			if rc.State.InternalStatus != history.ToolConfirmed {
				continue
			}
			requests = append(requests, mcpthread.Request{ToolCall: rc.Call, CreatedAt: time.Now()})
		}
		client.AddRequests(tools.WithHistory(ctx, s.History), threadID, requests)

		responses := client.GetResponses(ctx, threadID, quickResponseTime)
		resultUpdates := mcpthread.GenerateUpdates(s.History, responses, now(s))

		merged := watermarks
		merged.Merge(resultUpdates)

		for _, r := range responses {
			emit(pipeline.Event{Value: "#toolresult#" + r.ToolCallID})
		}

		return pipeline.Command{Update: pipeline.StateUpdate{InternalUpdates: merged}}, nil
	}
}
