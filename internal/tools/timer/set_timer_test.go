package timer

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestSetTimerToolFiresAfterDelay(t *testing.T) {
	tool := New()
	raw, _ := json.Marshal(map[string]any{"seconds": 0, "message": "stand up"})

	start := time.Now()
	out, err := tool.Call(context.Background(), raw)
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("expected near-immediate fire for seconds=0")
	}
	resp := out.(setTimerResponse)
	if !resp.OK || resp.Message != "stand up" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSetTimerToolCancelledByContext(t *testing.T) {
	tool := New()
	raw, _ := json.Marshal(map[string]any{"seconds": 5, "message": "too late"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tool.Call(ctx, raw)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestSetTimerToolRejectsNegativeSeconds(t *testing.T) {
	tool := New()
	raw, _ := json.Marshal(map[string]any{"seconds": -1, "message": "nope"})

	out, err := tool.Call(context.Background(), raw)
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	resp := out.(setTimerResponse)
	if resp.OK || resp.Error == "" {
		t.Fatalf("expected error response, got %+v", resp)
	}
}
