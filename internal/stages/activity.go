package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"weave/internal/formatter"
	"weave/internal/history"
	"weave/internal/llm"
	"weave/internal/pipeline"
	"weave/internal/waitstatus"
)

// checkWaitSeconds is the delay a "check" decision arms the channel for,
// matching the literal #wait#5 directive emitted alongside it.
const checkWaitSeconds = 5 * time.Second

type activityDecision struct {
	Decision string `json:"decision"` // "skip" | "check" | "take"
	Agent    string `json:"agent,omitempty"`
}

// ActivitySelector implements the "activity selector" stage contract
// (spec §4.7): a structured prompt to the decision model returns one of
// {skip, check, take}; skip transitions to waiting, check emits #wait#5
// then waiting, take picks the default conversational agent or a declared
// special agent from the static registry.
//
// Grounded on original_source/meep/src/graphs/processes/select_activity.py
// (decides whether/who should respond) and _agents.py's AGENTS registry.
func ActivitySelector(provider llm.Provider, model string, agents AgentRegistry, waits *waitstatus.Table) pipeline.Stage {
	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		channel := s.History.CurrentChannelOrNil()
		if channel == nil {
			waiting := Waiting
			return pipeline.Command{Update: pipeline.StateUpdate{Activity: &waiting}}, nil
		}

		window := formatter.Render(s.History, now(s), formatter.DefaultRenderOptions())
		prompt := buildActivityPrompt(agents, window)

		resp, err := provider.Chat(ctx, []llm.Message{
			{Role: "system", Content: prompt},
		}, nil, model)
		if err != nil {
			// External I/O failure: fall back to default activity (spec §7).
			log.Warn().Err(err).Msg("activity selector: model call failed, defaulting")
			act := DefaultAgent
			return pipeline.Command{Update: pipeline.StateUpdate{Activity: &act}}, nil
		}

		decision := parseActivityDecision(resp.Content)

		switch decision.Decision {
		case "skip":
			waiting := Waiting
			return pipeline.Command{Update: pipeline.StateUpdate{Activity: &waiting}}, nil
		case "check":
			emit(pipeline.Event{Value: "#wait#5"})
			if waits != nil {
				if err := waits.Arm(ctx, channel.ID, checkWaitSeconds); err != nil {
					log.Warn().Err(err).Str("channel_id", channel.ID).Msg("waitstatus: arm failed")
				}
			}
			waiting := Waiting
			return pipeline.Command{Update: pipeline.StateUpdate{Activity: &waiting}}, nil
		default: // "take"
			agentName := decision.Agent
			if agentName == "" {
				agentName = DefaultAgent
			}
			if _, ok := agents[agentName]; !ok {
				agentName = DefaultAgent
			}
			return pipeline.Command{Update: pipeline.StateUpdate{Activity: &agentName}}, nil
		}
	}
}

func buildActivityPrompt(agents AgentRegistry, window string) string {
	var sb strings.Builder
	sb.WriteString("Decide whether to respond to the following conversation. ")
	sb.WriteString(`Respond with JSON {"decision": "skip"|"check"|"take", "agent": "<name>"}. `)
	sb.WriteString("skip: do not respond now. check: wait a few seconds and reconsider. take: respond now, using one of these agents:\n")
	for name, a := range agents {
		if !a.Includable && name != DefaultAgent {
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s: %s\n", name, a.RoutingDescription))
	}
	sb.WriteString("\nConversation:\n")
	sb.WriteString(window)
	return sb.String()
}

func parseActivityDecision(content string) activityDecision {
	var d activityDecision
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		_ = json.Unmarshal([]byte(content[start:end+1]), &d)
	}
	if d.Decision == "" {
		d.Decision = "take"
		d.Agent = DefaultAgent
	}
	return d
}

// now resolves the "current time" seen by stages that need it for
// rendering; the pipeline graph only threads "now" through the history
// reducer boundary, so stages reach for the latest observed activity in
// History as a stable stand-in rather than reading the wall clock
// directly (spec §9: stage determinism is not required beyond the
// reducer's own now parameter).
func now(s pipeline.State) time.Time {
	if c := s.History.CurrentChannelOrNil(); c != nil && !c.LastActivity.IsZero() {
		return c.LastActivity
	}
	return latestActivity(s.History)
}

func latestActivity(h *history.History) time.Time {
	var latest time.Time
	for _, c := range h.Channels {
		if c.LastActivity.After(latest) {
			latest = c.LastActivity
		}
	}
	return latest
}
