package stages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"weave/internal/history"
	"weave/internal/llm"
	"weave/internal/pipeline"
	"weave/internal/tools"
)

// streamingFakeProvider delivers its Chat response as a sequence of
// ChatStream deltas, one per entry in chunks, so tests can exercise the
// mid-stream reference/embed handling in agentStreamHandler.
type streamingFakeProvider struct {
	chunks []string
}

func (p *streamingFakeProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	panic("not used in streaming tests")
}

func (p *streamingFakeProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	for _, c := range p.chunks {
		h.OnDelta(c)
	}
	return nil
}

func TestAgentsStageStreamsReferenceAndEmbedDirectives(t *testing.T) {
	h := history.NewHistory()
	channel := h.GetOrCreateChannel("c1")
	earlier := history.NewHumanMessage("alice", "hello there", time.Now().Add(-time.Hour))
	channel.Messages = append(channel.Messages, earlier)
	h.CurrentChannel = "c1"

	provider := &streamingFakeProvider{chunks: []string{
		"¤hello¤", "Here is the report.\n", "```embed\n", `{"title":"Report","description":"ok"}`, "\n```",
	}}

	stage := Agents(provider, tools.NewRegistry(), DefaultAgents(), "test-model")

	var events []pipeline.Event
	emit := func(e pipeline.Event) { events = append(events, e) }

	cmd, err := stage(context.Background(), pipeline.State{Activity: DefaultAgent, History: h}, emit)
	require.NoError(t, err)

	var values []string
	for _, e := range events {
		values = append(values, e.Value.(string))
	}
	require.Equal(t, "#reference#"+earlier.MessageID, values[0])
	require.Contains(t, values, `#embed#{"title":"Report","description":"ok"}`)
	require.Equal(t, "#send#", values[len(values)-1])

	diff := cmd.Update.InternalUpdates.ChannelUpdates["c1"]
	require.Len(t, diff.NewMessages, 1)
	agentMsg := diff.NewMessages[0].(*history.AgentMessage)
	require.Equal(t, "Here is the report.", agentMsg.Content)
}

func TestParseEmbedExtractsTrailingFence(t *testing.T) {
	content := "Here is the report.\n```embed\n{\"title\":\"Report\",\"description\":\"ok\",\"fields\":[{\"name\":\"rows\",\"value\":\"3\"}]}\n```"

	embed, rest, ok := parseEmbed(content)
	require.True(t, ok)
	require.Equal(t, "Here is the report.", rest)
	require.JSONEq(t, `{"title":"Report","description":"ok","fields":[{"name":"rows","value":"3"}]}`, embed)
}

func TestParseEmbedNoFenceIsNoop(t *testing.T) {
	_, rest, ok := parseEmbed("just plain text")
	require.False(t, ok)
	require.Equal(t, "just plain text", rest)
}

func TestParseEmbedMalformedJSONLeavesContentUntouched(t *testing.T) {
	content := "before\n```embed\nnot json\n```"
	_, rest, ok := parseEmbed(content)
	require.False(t, ok)
	require.Equal(t, content, rest)
}
