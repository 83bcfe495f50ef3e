package stages

import (
	"context"
	"encoding/json"
	"time"

	"weave/internal/history"
	"weave/internal/mcpthread"
	"weave/internal/pipeline"
	"weave/internal/tools"
)

// Autotools implements the "autotools" stage contract (spec §4.7):
// identical to Tools but filters unconfirmed calls whose args include
// skip_confirmation == true, and emits #rerun# if any terminal responses
// were produced so the pipeline can process downstream effects.
func Autotools(client *mcpthread.Client, threadID string, quickResponseTime time.Duration) pipeline.Stage {
	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		reactive, watermarks := history.FindReactiveToolCalls(s.History)

		var requests []mcpthread.Request
		for _, rc := range reactive {
			if rc.State.InternalStatus != history.ToolUnconfirmed {
				continue
			}
			if !skipsConfirmation(rc.Call.Args) {
				continue
			}
			requests = append(requests, mcpthread.Request{ToolCall: rc.Call, CreatedAt: time.Now()})
		}
		if len(requests) == 0 {
			return pipeline.Command{Update: pipeline.StateUpdate{InternalUpdates: watermarks}}, nil
		}
		client.AddRequests(tools.WithHistory(ctx, s.History), threadID, requests)

		responses := client.GetResponses(ctx, threadID, quickResponseTime)
		resultUpdates := mcpthread.GenerateUpdates(s.History, responses, now(s))

		merged := watermarks
		merged.Merge(resultUpdates)

		terminal := false
		for _, r := range responses {
			if r.Status != "processing" {
				terminal = true
			}
		}
		if terminal {
			emit(pipeline.Event{Value: "#rerun#"})
		}

		return pipeline.Command{Update: pipeline.StateUpdate{InternalUpdates: merged}}, nil
	}
}

func skipsConfirmation(args json.RawMessage) bool {
	if len(args) == 0 {
		return false
	}
	var parsed map[string]any
	if err := json.Unmarshal(args, &parsed); err != nil {
		return false
	}
	v, ok := parsed["skip_confirmation"].(bool)
	return ok && v
}
