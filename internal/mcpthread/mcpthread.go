// Package mcpthread implements the per-thread tool-execution subsystem
// (spec §4.4): asynchronous tool dispatch with a quick-response window, a
// webhook-style wake-up once a slow tool finishes, and result translation
// back into history.InternalUpdates.
//
// Grounded on original_source/meep/src/graphs/_mcp.py's MCPRequest/
// MCPResponse/MCPThread/MCPClient, reimplemented with goroutines and
// channels in place of asyncio tasks.
package mcpthread

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"weave/internal/history"
	"weave/internal/tools"
)

const processingPlaceholder = "Tool is being executed…, will be updated once done."

// Request is one scheduled tool invocation.
type Request struct {
	ToolCall                        history.ToolCall
	CreatedAt                       time.Time
	Webhook                         string
	IgnoreWebhookOnQuickCompletion  bool
}

// Response is the outcome of a completed or still-running Request.
type Response struct {
	ToolCallID   string
	Status       string // "processing" | "completed" | "failed"
	Content      string
	Artifact     map[string]any
	ResponseTime time.Duration
}

// WakeupFunc notifies a channel that it should be re-run; unlessActiveSince
// makes the wake-up a no-op if the channel was active more recently
// (spec §4.4, §5).
type WakeupFunc func(ctx context.Context, requestor string, unlessActiveSince time.Time)

// Thread hosts concurrent tool runs for one pipeline thread id.
type Thread struct {
	mu       sync.Mutex
	pending  map[string]context.CancelFunc
	terminal []Response

	registry tools.Registry
	wakeup   WakeupFunc

	wg sync.WaitGroup
}

// NewThread returns a Thread dispatching tool calls through registry and
// issuing wake-ups through wakeup.
func NewThread(registry tools.Registry, wakeup WakeupFunc) *Thread {
	return &Thread{
		pending:  map[string]context.CancelFunc{},
		registry: registry,
		wakeup:   wakeup,
	}
}

// AddRequest spawns a goroutine executing req's tool call asynchronously.
func (t *Thread) AddRequest(ctx context.Context, req Request) {
	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.pending[req.ToolCall.ID] = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.process(runCtx, req)
}

func (t *Thread) process(ctx context.Context, req Request) {
	defer t.wg.Done()
	start := time.Now()

	payload, err := t.registry.Dispatch(ctx, req.ToolCall.Name, req.ToolCall.Args)

	resp := Response{ToolCallID: req.ToolCall.ID, ResponseTime: time.Since(start)}
	if err != nil {
		resp.Status = "failed"
		resp.Content = "MCP failed to execute the tool: " + err.Error()
	} else {
		resp.Status = "completed"
		var parsed map[string]any
		if jsonErr := json.Unmarshal(payload, &parsed); jsonErr == nil {
			if ok, hasOK := parsed["ok"].(bool); hasOK && !ok {
				resp.Status = "failed"
			}
			if text, ok := parsed["text"].(string); ok {
				resp.Content = text
			} else if errStr, ok := parsed["error"].(string); ok {
				resp.Content = errStr
			} else {
				resp.Content = string(payload)
			}
			if updates, ok := parsed["updates"].(map[string]any); ok {
				resp.Artifact = updates
			}
		} else {
			resp.Content = string(payload)
		}
	}

	t.mu.Lock()
	t.terminal = append(t.terminal, resp)
	delete(t.pending, req.ToolCall.ID)
	t.mu.Unlock()

	if t.wakeup != nil {
		var requestor string
		var args map[string]any
		if json.Unmarshal(req.ToolCall.Args, &args) == nil {
			if r, ok := args["requestor"].(string); ok {
				requestor = r
			}
		}
		t.wakeup(context.WithoutCancel(ctx), requestor, time.Now())
	}

	log.Debug().Str("tool", req.ToolCall.Name).Str("tool_call_id", req.ToolCall.ID).
		Str("status", resp.Status).Dur("response_time", resp.ResponseTime).Msg("mcp tool completed")
}

// CurrentResponses drains terminal responses and synthesizes a "processing"
// response for every still-pending request (spec §4.4, idempotent: terminal
// responses are removed on each drain).
func (t *Thread) CurrentResponses() []Response {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := append([]Response(nil), t.terminal...)
	t.terminal = nil

	for id := range t.pending {
		out = append(out, Response{ToolCallID: id, Status: "processing", Content: processingPlaceholder})
	}
	return out
}

// pendingCount returns the number of requests still running.
func (t *Thread) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// WaitCompleted blocks until the pending set is empty.
func (t *Thread) WaitCompleted(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Client manages one Thread per thread id.
type Client struct {
	mu       sync.Mutex
	threads  map[string]*Thread
	registry tools.Registry
	wakeup   WakeupFunc
}

// NewClient returns a Client using registry as the default toolkit for every
// thread, matching the original's single GLOBAL_TOOLKIT shared across
// threads (original_source/meep/src/graphs/_mcp.py).
func NewClient(registry tools.Registry, wakeup WakeupFunc) *Client {
	return &Client{threads: map[string]*Thread{}, registry: registry, wakeup: wakeup}
}

// GetThread returns (creating if necessary) the Thread for threadID.
func (c *Client) GetThread(threadID string) *Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[threadID]
	if !ok {
		th = NewThread(c.registry, c.wakeup)
		c.threads[threadID] = th
	}
	return th
}

// AddRequests schedules requests on threadID's Thread.
func (c *Client) AddRequests(ctx context.Context, threadID string, requests []Request) {
	th := c.GetThread(threadID)
	for _, r := range requests {
		th.AddRequest(ctx, r)
	}
}

// GetResponses implements the quick-response window (spec §4.4): it races a
// full drain of pending tasks against timeout, returning whichever
// completes first.
func (c *Client) GetResponses(ctx context.Context, threadID string, timeout time.Duration) []Response {
	th := c.GetThread(threadID)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	th.WaitCompleted(waitCtx)

	return th.CurrentResponses()
}

// GenerateUpdates locates each response's call, mutates the hosting
// message's ToolState, and builds the InternalUpdates document (spec §4.4
// generate_updates_from_mcp_responses).
func GenerateUpdates(h *history.History, responses []Response, now time.Time) *history.InternalUpdates {
	ids := make([]string, len(responses))
	for i, r := range responses {
		ids[i] = r.ToolCallID
	}
	locations := history.LocateToolCalls(h, ids)

	updates := history.NewInternalUpdates()
	for _, r := range responses {
		loc, ok := locations[r.ToolCallID]
		if !ok {
			continue
		}
		channel := h.Channels[loc.ChannelID]
		agent, ok := channel.Messages[loc.Index].(*history.AgentMessage)
		if !ok {
			continue
		}

		internalStatus := r.Status
		updated := agent.Clone().(*history.AgentMessage)
		state := updated.ToolStates[r.ToolCallID]
		if state == nil {
			state = history.NewToolState()
			updated.ToolStates[r.ToolCallID] = state
		}
		state.InternalStatus = internalStatus
		state.ExternalStatus = history.ExternalStatusFor(internalStatus)
		state.Content = r.Content

		diff := updates.ChannelUpdate(loc.ChannelID)
		if diff.MessageUpdates == nil {
			diff.MessageUpdates = map[int]history.Message{}
		}
		diff.MessageUpdates[loc.Index] = updated

		if loc.Index != len(channel.Messages)-1 {
			msgDate := now
			if last := channel.Messages[len(channel.Messages)-1].GetDate(); last.After(msgDate) {
				msgDate = last
			}
			diff.NewMessages = append(diff.NewMessages, history.NewToolUpdatedMessage(r.ToolCallID, msgDate))
		}
	}
	return updates
}
