// Package stages wires the pipeline's named stage closures and composes
// them into the outer graph shape (spec §4.6): preprocess, a side branch to
// wakeup, the chat subgraph, summarize, a merge gate, afterthought/autotools,
// and cleanup. pipeline.Graph.Run only walks a single linear successor
// chain, so the fan-out/fan-in points and the chat subgraph's three
// entrypoint modes are composed explicitly here with pipeline.FanOut rather
// than forced into Graph.Successors.
package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"weave/internal/history"
	"weave/internal/pipeline"
	"weave/internal/waitstatus"
)

// Trigger distinguishes what caused this pipeline run, since the chat
// subgraph's entrypoint mode (spec §4.6 "regular | vision first | idle")
// depends on it and the source graph picks it from context the Go State
// doesn't otherwise carry (no new human message vs. a background recheck).
type Trigger string

const (
	// TriggerMessage is a run dispatched because new input (human message,
	// tool result, wakeup) landed on the channel.
	TriggerMessage Trigger = "message"
	// TriggerRecheck is a run dispatched purely to re-evaluate activity —
	// e.g. a "#wait#" self-reschedule or a periodic tick with no new
	// human content — where running vision/knowledge/tools is wasted work
	// unless activity actually decides to take the turn.
	TriggerRecheck Trigger = "recheck"
)

// Orchestrator bundles every stage closure needed to run one pipeline cycle.
type Orchestrator struct {
	Preprocess   pipeline.Stage
	Wakeup       pipeline.Stage
	Tools        pipeline.Stage
	Activity     pipeline.Stage
	Vision       pipeline.Stage
	Knowledge    pipeline.Stage
	Agents       pipeline.Stage
	Summarize    pipeline.Stage
	Afterthought pipeline.Stage
	Autotools    pipeline.Stage
	Cleanup      pipeline.Stage

	// WaitStatus backs the channel wait-status table (spec §5 "Channel
	// wait status table"); optional, nil disables cancellation tracking.
	WaitStatus *waitstatus.Table
}

// namedEmit adapts a plain emit(Event) into the (stageName, Event) shape
// pipeline.FanOut wants, stamping Stage on the way through.
func namedEmit(emit func(pipeline.Event)) func(string, pipeline.Event) {
	return func(name string, e pipeline.Event) {
		e.Stage = name
		emit(e)
	}
}

// applyAndReduce folds a Command's update into s, running the history
// reducer when the update touches channel state — the same per-stage
// boundary behavior pipeline.Graph.Run applies, reused here since the chat
// subgraph runs multiple stage phases before returning to the outer graph.
func applyAndReduce(s pipeline.State, u pipeline.StateUpdate, now time.Time) (pipeline.State, error) {
	s = pipeline.ApplyReducers(s, u)
	if u.InternalUpdates != nil || u.ResetUpdates {
		merged, err := history.Reduce(s.History, s.InternalUpdates, now)
		if err != nil {
			return s, err
		}
		s.History = merged
	}
	return s, nil
}

// entrypointMode picks the chat subgraph's mode (spec §4.6). Vision runs
// first whenever the trailing human messages carry unresolved links, so
// activity selection and the agent see the enriched text instead of bare
// URLs. Idle mode applies to recheck-triggered runs (no new human content
// to react to) so the expensive vision/knowledge/tools stages only run once
// activity selection confirms the turn is worth taking. Everything else is
// the regular full fan-out.
func entrypointMode(s pipeline.State, trigger Trigger) string {
	channel := s.History.CurrentChannelOrNil()
	if channel != nil {
		for i := len(channel.Messages) - 1; i >= 0; i-- {
			hm, ok := channel.Messages[i].(*history.HumanMessage)
			if !ok {
				break
			}
			if len(extractURLs(hm.Content)) > 0 {
				return "vision_first"
			}
		}
	}
	if trigger == TriggerRecheck {
		return "idle"
	}
	return "regular"
}

// runChatSubgraph implements `chat`: entrypoint → {tools, activity, vision,
// knowledge} in one of three modes → local_merge → agents (spec §4.6).
func (o *Orchestrator) runChatSubgraph(trigger Trigger) pipeline.Stage {
	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		mode := entrypointMode(s, trigger)
		now := time.Now()

		runFour := func(state pipeline.State) (pipeline.Command, error) {
			stages := map[string]pipeline.Stage{
				"tools": o.Tools, "activity": o.Activity, "vision": o.Vision, "knowledge": o.Knowledge,
			}
			return pipeline.FanOut(ctx, stages, []string{"tools", "activity", "vision", "knowledge"}, state, namedEmit(emit))
		}
		runThree := func(state pipeline.State, names []string) (pipeline.Command, error) {
			stages := map[string]pipeline.Stage{
				"tools": o.Tools, "activity": o.Activity, "vision": o.Vision, "knowledge": o.Knowledge,
			}
			return pipeline.FanOut(ctx, stages, names, state, namedEmit(emit))
		}

		var merged pipeline.Command
		var err error

		switch mode {
		case "vision_first":
			visionCmd, verr := o.Vision(ctx, s, func(e pipeline.Event) { e.Stage = "vision"; emit(e) })
			if verr != nil {
				return pipeline.Command{}, fmt.Errorf("chat: vision: %w", verr)
			}
			next, rerr := applyAndReduce(s, visionCmd.Update, now)
			if rerr != nil {
				return pipeline.Command{}, fmt.Errorf("chat: apply vision update: %w", rerr)
			}
			rest, rerr := runThree(next, []string{"activity", "knowledge", "tools"})
			if rerr != nil {
				return pipeline.Command{}, rerr
			}
			merged.Update = mergeCommandUpdates(visionCmd.Update, rest.Update)

		case "idle":
			actCmd, aerr := o.Activity(ctx, s, func(e pipeline.Event) { e.Stage = "activity"; emit(e) })
			if aerr != nil {
				return pipeline.Command{}, fmt.Errorf("chat: activity: %w", aerr)
			}
			merged.Update = actCmd.Update
			resolvedActivity := s.Activity
			if actCmd.Update.Activity != nil {
				resolvedActivity = *actCmd.Update.Activity
			}
			if resolvedActivity != Waiting && resolvedActivity != "" {
				next, rerr := applyAndReduce(s, actCmd.Update, now)
				if rerr != nil {
					return pipeline.Command{}, fmt.Errorf("chat: apply activity update: %w", rerr)
				}
				rest, rerr := runThree(next, []string{"vision", "knowledge", "tools"})
				if rerr != nil {
					return pipeline.Command{}, rerr
				}
				merged.Update = mergeCommandUpdates(merged.Update, rest.Update)
			}

		default: // regular
			merged, err = runFour(s)
			if err != nil {
				return pipeline.Command{}, fmt.Errorf("chat: regular fan-out: %w", err)
			}
		}

		localMerged, err := applyAndReduce(s, merged.Update, now)
		if err != nil {
			return pipeline.Command{}, fmt.Errorf("chat: local merge: %w", err)
		}

		agentsCmd, err := o.Agents(ctx, localMerged, func(e pipeline.Event) { e.Stage = "agents"; emit(e) })
		if err != nil {
			return pipeline.Command{}, fmt.Errorf("chat: agents: %w", err)
		}

		return pipeline.Command{Update: mergeCommandUpdates(merged.Update, agentsCmd.Update)}, nil
	}
}

// mergeCommandUpdates folds b into a using the same field reducers
// pipeline.FanOut applies across its concurrent stage results (spec §4.6
// "Fan-in"): last-writer-wins scalars, concatenated/merged InternalUpdates.
func mergeCommandUpdates(a, b pipeline.StateUpdate) pipeline.StateUpdate {
	if b.Activity != nil {
		a.Activity = b.Activity
	}
	if b.InternalActivity != nil {
		a.InternalActivity = b.InternalActivity
	}
	if b.ResetUpdates {
		a.ResetUpdates = true
	}
	if b.InternalUpdates != nil {
		if a.InternalUpdates == nil {
			a.InternalUpdates = history.NewInternalUpdates()
		}
		a.InternalUpdates.Merge(b.InternalUpdates)
	}
	if b.ClearWakeup {
		a.ClearWakeup = true
	}
	if b.Wakeup != nil {
		a.Wakeup = b.Wakeup
	}
	if b.LastSummaryCheck != nil {
		a.LastSummaryCheck = b.LastSummaryCheck
	}
	return a
}

// RunCycle executes one full pass of the outer graph (spec §4.6) for
// threadID: preprocess, then either the wakeup side branch or
// {chat subgraph, summarize} fanning into a merge gate, {afterthought,
// autotools} fanning into cleanup, and end. Checkpointing happens after
// every merge point, matching pipeline.Graph.Run's per-boundary save.
func (o *Orchestrator) RunCycle(ctx context.Context, cp pipeline.Checkpointer, threadID string, trigger Trigger, now time.Time, emit func(pipeline.Event)) (pipeline.State, error) {
	state := pipeline.State{}
	if loaded, ok, err := cp.Load(ctx, threadID); err != nil {
		return state, fmt.Errorf("stages: checkpoint load: %w", err)
	} else if ok {
		state = loaded
	}

	stamped := func(name string) func(pipeline.Event) {
		return func(e pipeline.Event) { e.ThreadID = threadID; e.Stage = name; emit(e) }
	}

	preCmd, err := o.Preprocess(ctx, state, stamped("preprocess"))
	if err != nil {
		return state, fmt.Errorf("stages: preprocess: %w", err)
	}
	state, err = applyAndReduce(state, preCmd.Update, now)
	if err != nil {
		return state, fmt.Errorf("stages: preprocess reduce: %w", err)
	}
	if err := cp.Save(ctx, threadID, state); err != nil {
		return state, fmt.Errorf("stages: checkpoint save: %w", err)
	}

	if trigger == TriggerMessage && o.WaitStatus != nil {
		if channel := state.History.CurrentChannelOrNil(); channel != nil {
			if err := o.WaitStatus.Cancel(ctx, channel.ID); err != nil {
				log.Warn().Err(err).Str("channel_id", channel.ID).Msg("waitstatus: cancel failed")
			}
		}
	}

	if HasWakeup(state) {
		wakeCmd, err := o.Wakeup(ctx, state, stamped("wakeup"))
		if err != nil {
			return state, fmt.Errorf("stages: wakeup: %w", err)
		}
		state, err = applyAndReduce(state, wakeCmd.Update, now)
		if err != nil {
			return state, fmt.Errorf("stages: wakeup reduce: %w", err)
		}
		if err := cp.Save(ctx, threadID, state); err != nil {
			return state, fmt.Errorf("stages: checkpoint save: %w", err)
		}
		return state, nil
	}

	topStages := map[string]pipeline.Stage{
		"chat":      o.runChatSubgraph(trigger),
		"summarize": o.Summarize,
	}
	topCmd, err := pipeline.FanOut(ctx, topStages, []string{"chat", "summarize"}, state, func(name string, e pipeline.Event) {
		e.ThreadID = threadID
		e.Stage = name
		emit(e)
	})
	if err != nil {
		return state, fmt.Errorf("stages: chat/summarize fan-out: %w", err)
	}
	state, err = applyAndReduce(state, topCmd.Update, now)
	if err != nil {
		return state, fmt.Errorf("stages: merge reduce: %w", err)
	}
	if err := cp.Save(ctx, threadID, state); err != nil {
		return state, fmt.Errorf("stages: checkpoint save: %w", err)
	}

	postStages := map[string]pipeline.Stage{
		"afterthought": o.Afterthought,
		"autotools":    o.Autotools,
	}
	postCmd, err := pipeline.FanOut(ctx, postStages, []string{"afterthought", "autotools"}, state, func(name string, e pipeline.Event) {
		e.ThreadID = threadID
		e.Stage = name
		emit(e)
	})
	if err != nil {
		return state, fmt.Errorf("stages: afterthought/autotools fan-out: %w", err)
	}
	state, err = applyAndReduce(state, postCmd.Update, now)
	if err != nil {
		return state, fmt.Errorf("stages: post-merge reduce: %w", err)
	}
	if err := cp.Save(ctx, threadID, state); err != nil {
		return state, fmt.Errorf("stages: checkpoint save: %w", err)
	}

	cleanCmd, err := o.Cleanup(ctx, state, stamped("cleanup"))
	if err != nil {
		return state, fmt.Errorf("stages: cleanup: %w", err)
	}
	state, err = applyAndReduce(state, cleanCmd.Update, now)
	if err != nil {
		return state, fmt.Errorf("stages: cleanup reduce: %w", err)
	}
	if err := cp.Save(ctx, threadID, state); err != nil {
		return state, fmt.Errorf("stages: checkpoint save: %w", err)
	}

	return state, nil
}
