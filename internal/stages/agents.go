package stages

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"weave/internal/formatter"
	"weave/internal/history"
	"weave/internal/llm"
	"weave/internal/pipeline"
	"weave/internal/tools"
)

// Agents implements the "agents" stage contract (spec §4.7): skipped when
// activity is waiting; otherwise streams the model's output (the original
// `agentic_conversation.py` interprets the `¤…¤` reference marker
// mid-stream rather than waiting for the full response) and interprets it
// as it arrives — a leading `¤…¤` denotes a reference to the earliest
// message in the channel whose content prefix-matches (case-insensitive),
// emitting `#reference#<id>` before the remaining text is streamed out as
// it is received; on completion emits `#send#`, then one `#tool#<json>`
// per tool call, and writes the new Agent message into updates.
func Agents(provider llm.Provider, registry tools.Registry, agents AgentRegistry, model string) pipeline.Stage {
	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		if s.Activity == Waiting || s.Activity == "" {
			return pipeline.Command{}, nil
		}
		channel := s.History.CurrentChannelOrNil()
		if channel == nil {
			return pipeline.Command{}, nil
		}

		agent, ok := agents[s.Activity]
		if !ok {
			agent = agents[DefaultAgent]
		}

		schemas := filterSchemas(registry.Schemas(), agent.Tools)

		window := formatter.Render(s.History, now(s), formatter.DefaultRenderOptions())
		sysPrompt := agent.Prompt
		if sysPrompt == "" {
			sysPrompt = "You are a helpful conversational agent."
		}

		if agent.ImageGeneration {
			ctx = llm.WithImagePrompt(ctx, llm.ImagePromptOptions{})
		}

		handler := newAgentStreamHandler(channel, emit)
		err := provider.ChatStream(ctx, []llm.Message{
			{Role: "system", Content: sysPrompt},
			{Role: "user", Content: window},
		}, schemas, model, handler)
		if err != nil {
			return pipeline.Command{}, fmt.Errorf("agents: model call failed: %w", err)
		}

		// Anything still held back at stream end is either the trailing
		// #embed# fence handler.flushSafe withheld from the live stream, or,
		// if it turns out not to parse as one, ordinary trailing text that
		// was never actually a directive and must still reach the channel.
		if embed, _, ok := parseEmbed(handler.pending.String()); ok {
			emit(pipeline.Event{Value: "#embed#" + embed})
		} else if handler.pending.Len() > 0 {
			emit(pipeline.Event{Value: handler.pending.String()})
		}
		emit(pipeline.Event{Value: "#send#"})

		content := handler.content.String()
		if _, rest, ok := parseReference(channel, content); ok {
			content = rest
		}
		if _, rest, ok := parseEmbed(content); ok {
			content = rest
		}

		toolCalls := make([]history.ToolCall, 0, len(handler.toolCalls))
		for _, tc := range handler.toolCalls {
			call := history.ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Args}
			toolCalls = append(toolCalls, call)
			payload, _ := json.Marshal(call)
			emit(pipeline.Event{Value: "#tool#" + string(payload)})
		}

		msg := history.NewAgentMessage(content, now(s), s.Activity, toolCalls)

		diff := &history.ChannelDiff{NewMessages: history.MessageList{msg}}
		updates := history.NewInternalUpdates()
		updates.ChannelUpdates[channel.ID] = diff

		return pipeline.Command{Update: pipeline.StateUpdate{InternalUpdates: updates}}, nil
	}
}

// agentStreamHandler adapts a provider's ChatStream callbacks to the side
// channel: it resolves the leading `¤…¤` reference marker as soon as it is
// fully received, streams everything after it out immediately, and holds
// back any suffix that could be the start of a trailing #embed# fence so a
// directive is never leaked to the channel as plain text mid-stream.
type agentStreamHandler struct {
	channel *history.Channel
	emit    func(pipeline.Event)

	content strings.Builder // the full, raw text received so far
	pending strings.Builder // received but not yet flushed to emit

	refResolved bool
	toolCalls   []llm.ToolCall
}

func newAgentStreamHandler(channel *history.Channel, emit func(pipeline.Event)) *agentStreamHandler {
	return &agentStreamHandler{channel: channel, emit: emit}
}

func (h *agentStreamHandler) OnDelta(text string) {
	if text == "" {
		return
	}
	h.content.WriteString(text)
	h.pending.WriteString(text)
	h.resolveReference()
	h.flushSafe()
}

// resolveReference waits for pending to either rule out a leading marker or
// accumulate its closing ¤, then emits #reference# and drops the marker
// from pending so the remaining callbacks only ever see plain content.
func (h *agentStreamHandler) resolveReference() {
	if h.refResolved {
		return
	}
	buf := h.pending.String()
	if buf == "" {
		return
	}
	if !strings.HasPrefix(buf, "¤") {
		h.refResolved = true
		return
	}
	if ref, rest, ok := parseReference(h.channel, buf); ok {
		h.emit(pipeline.Event{Value: "#reference#" + ref})
		h.pending.Reset()
		h.pending.WriteString(rest)
		h.refResolved = true
		return
	}
	// No closing ¤ yet; keep waiting unless the marker has grown
	// implausibly long, in which case treat it as not a reference after all
	// rather than stalling output indefinitely.
	if len(buf) > 256 {
		h.refResolved = true
	}
}

// flushSafe emits everything in pending that cannot possibly be the start
// of a trailing #embed# fence.
func (h *agentStreamHandler) flushSafe() {
	if !h.refResolved {
		return
	}
	buf := h.pending.String()
	holdback := fenceHoldback(buf)
	if holdback >= len(buf) {
		return
	}
	h.emit(pipeline.Event{Value: buf[:len(buf)-holdback]})
	h.pending.Reset()
	h.pending.WriteString(buf[len(buf)-holdback:])
}

// fenceHoldback returns how many trailing bytes of buf must be withheld
// because they already contain, or could still grow into, the opening of
// an embedFenceOpen fence.
func fenceHoldback(buf string) int {
	if idx := strings.Index(buf, embedFenceOpen); idx >= 0 {
		return len(buf) - idx
	}
	max := len(embedFenceOpen) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(buf, embedFenceOpen[:n]) {
			return n
		}
	}
	return 0
}

func (h *agentStreamHandler) OnToolCall(tc llm.ToolCall) {
	h.toolCalls = append(h.toolCalls, tc)
}

// OnImage relays a model-generated image inline as its own directive
// rather than inside the text stream, mirroring #embed#'s structured-JSON
// side channel convention.
func (h *agentStreamHandler) OnImage(img llm.GeneratedImage) {
	payload, err := json.Marshal(struct {
		MIMEType string `json:"mime_type"`
		Data     string `json:"data"`
	}{MIMEType: img.MIMEType, Data: base64.StdEncoding.EncodeToString(img.Data)})
	if err != nil {
		return
	}
	h.emit(pipeline.Event{Value: "#image#" + string(payload)})
}

// OnThoughtSummary and OnThoughtSignature carry provider reasoning state
// that this stage does not yet round-trip across turns (Agents renders a
// fresh system/user pair from the formatter window each call rather than
// replaying structured message history), so both are no-ops here.
func (h *agentStreamHandler) OnThoughtSummary(string)   {}
func (h *agentStreamHandler) OnThoughtSignature(string) {}

func filterSchemas(all []llm.ToolSchema, names []string) []llm.ToolSchema {
	if len(names) == 0 {
		return all
	}
	allow := make(map[string]bool, len(names))
	for _, n := range names {
		allow[n] = true
	}
	out := make([]llm.ToolSchema, 0, len(names))
	for _, s := range all {
		if allow[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

// parseReference extracts a leading "¤prefix¤" marker and resolves it to
// the earliest channel message whose content case-insensitively starts
// with prefix.
func parseReference(c *history.Channel, content string) (id string, rest string, ok bool) {
	if !strings.HasPrefix(content, "¤") {
		return "", content, false
	}
	closeIdx := strings.Index(content[len("¤"):], "¤")
	if closeIdx < 0 {
		return "", content, false
	}
	prefix := content[len("¤") : len("¤")+closeIdx]
	remainder := content[len("¤")+closeIdx+len("¤"):]

	lowerPrefix := strings.ToLower(prefix)
	for _, m := range c.Messages {
		if text := messageText(m); strings.HasPrefix(strings.ToLower(text), lowerPrefix) {
			if id := messageID(m); id != "" {
				return id, remainder, true
			}
		}
	}
	return "", content, false
}

// embedField is one row of an embedDirective's fields list.
type embedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// embedDirective is the payload carried by a `#embed#<json>` side-channel
// event: structured output an adapter can render as a rich card instead of
// plain text, extending the base directive set (SPEC_FULL.md §10).
type embedDirective struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Fields      []embedField `json:"fields,omitempty"`
}

const embedFenceOpen = "```embed"
const embedFenceClose = "```"

// parseEmbed extracts a trailing fenced ```embed ... ``` block holding an
// embedDirective and returns its compact JSON re-encoding plus the content
// with the block removed. Malformed JSON inside the fence is left in the
// content untouched so nothing is silently dropped.
func parseEmbed(content string) (embedJSON string, rest string, ok bool) {
	openIdx := strings.LastIndex(content, embedFenceOpen)
	if openIdx < 0 {
		return "", content, false
	}
	bodyStart := openIdx + len(embedFenceOpen)
	closeIdx := strings.Index(content[bodyStart:], embedFenceClose)
	if closeIdx < 0 {
		return "", content, false
	}
	body := strings.TrimSpace(content[bodyStart : bodyStart+closeIdx])

	var embed embedDirective
	if err := json.Unmarshal([]byte(body), &embed); err != nil {
		return "", content, false
	}

	encoded, err := json.Marshal(embed)
	if err != nil {
		return "", content, false
	}

	blockEnd := bodyStart + closeIdx + len(embedFenceClose)
	remainder := strings.TrimSpace(content[:openIdx] + content[blockEnd:])
	return string(encoded), remainder, true
}

func messageText(m history.Message) string {
	switch v := m.(type) {
	case *history.HumanMessage:
		return v.Content
	case *history.AgentMessage:
		return v.Content
	case *history.SystemMessage:
		return v.Content
	default:
		return ""
	}
}

func messageID(m history.Message) string {
	if hm, ok := m.(*history.HumanMessage); ok {
		return hm.MessageID
	}
	return ""
}
