// Package timer implements the delayed self-reminder tool, grounded on
// original_source/meep/src/mcp/timer.py's timer MCP server.
package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"weave/internal/tools"
)

const setTimerToolName = "set_timer"

const maxDelay = 24 * time.Hour

type setTimerArgs struct {
	Seconds int    `json:"seconds"`
	Message string `json:"message"`
}

type setTimerResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SetTimerTool schedules a delayed self-reminder. Its Call blocks for the
// requested duration — a CPU-free wait — which is safe because
// mcpthread.Thread.AddRequest already runs every dispatched tool in its own
// goroutine (spec §5 "tools that must do CPU work are expected to hand off
// to worker threads").
type SetTimerTool struct{}

// Name implements tools.Tool.
func (SetTimerTool) Name() string { return setTimerToolName }

// JSONSchema implements tools.Tool.
func (SetTimerTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        setTimerToolName,
		"description": "Wait the given number of seconds, then return the given message as a reminder.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"seconds": map[string]any{
					"type":        "integer",
					"description": "Delay before the reminder fires, in seconds.",
					"minimum":     0,
				},
				"message": map[string]any{
					"type":        "string",
					"description": "Reminder text to return once the timer fires.",
				},
			},
			"required": []string{"seconds", "message"},
		},
	}
}

// Call implements tools.Tool.
func (SetTimerTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args setTimerArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return setTimerResponse{Error: "invalid arguments: " + err.Error()}, nil
		}
	}
	if args.Seconds < 0 {
		return setTimerResponse{Error: "seconds must be non-negative"}, nil
	}

	delay := time.Duration(args.Seconds) * time.Second
	if delay > maxDelay {
		return setTimerResponse{Error: fmt.Sprintf("seconds exceeds maximum delay of %d", int(maxDelay.Seconds()))}, nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return setTimerResponse{OK: true, Message: args.Message}, nil
	case <-ctx.Done():
		return setTimerResponse{Error: "timer cancelled: " + ctx.Err().Error()}, ctx.Err()
	}
}

// New constructs the set_timer tool.
func New() tools.Tool { return SetTimerTool{} }
