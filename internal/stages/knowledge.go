package stages

import (
	"context"
	"fmt"
	"strings"

	"weave/internal/formatter"
	"weave/internal/history"
	"weave/internal/knowledge"
	"weave/internal/pipeline"
)

// Knowledge implements the chat subgraph's "knowledge" node (named in the
// graph shape, spec §4.6, detailed in SPEC_FULL.md §4.7): embeds the
// recent rendered window and queries the vector index for relevant prior
// context, injecting it as an additional transient system message ahead
// of the agent's turn. A nil store makes this stage a no-op, so knowledge
// retrieval is an optional deployment, not a hard dependency.
func Knowledge(store *knowledge.Store, topK int) pipeline.Stage {
	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		if store == nil {
			return pipeline.Command{}, nil
		}
		channel := s.History.CurrentChannelOrNil()
		if channel == nil {
			return pipeline.Command{}, nil
		}

		window := formatter.Render(s.History, now(s), formatter.DefaultRenderOptions())
		facts, err := store.Query(ctx, channel.ID, window, topK)
		if err != nil || len(facts) == 0 {
			return pipeline.Command{}, nil
		}

		var sb strings.Builder
		sb.WriteString("Relevant prior context:\n")
		for _, f := range facts {
			fmt.Fprintf(&sb, "- %s\n", f.Text)
		}

		lifespan := 1
		msg := &history.SystemMessage{Content: sb.String(), Date: now(s), Lifespan: &lifespan}

		diff := &history.ChannelDiff{NewMessages: history.MessageList{msg}}
		updates := history.NewInternalUpdates()
		updates.ChannelUpdates[channel.ID] = diff

		return pipeline.Command{Update: pipeline.StateUpdate{InternalUpdates: updates}}, nil
	}
}
