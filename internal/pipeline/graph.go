// Package pipeline implements the stage graph (spec §4.6): a declarative DAG
// of asynchronous stages exchanging Commands, with per-field state reducers,
// fan-out/fan-in, and a pluggable checkpointer.
//
// Grounded on the teacher's fan-out/gate/fulfill orchestrator (formerly
// internal/agent/warpp.go's RunWARPP), generalized from a single batch of
// parallel tasks into a named-stage graph, using the same
// golang.org/x/sync/errgroup + channel idiom for concurrency.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"weave/internal/history"
)

// Event is a value emitted by a stage onto the side channel (spec §4.6,
// §6): a plain string for literal model output or a directive, or any
// JSON-encodable structured payload.
type Event struct {
	ThreadID string
	Stage    string
	Value    any
}

// State is the pipeline's per-thread working state.
type State struct {
	Activity          string
	History           *history.History
	Wakeup            *WakeupInput
	LastSummaryCheck  *time.Time
	InternalUpdates   *history.InternalUpdates
	InternalActivity  string
}

// WakeupInput is the input §4.6/§4.7's wakeup stage consumes.
type WakeupInput struct {
	ChannelID         string
	UserName          string
	UnlessActiveSince time.Time
}

// Clone returns a shallow-enough copy of State for stage isolation; History
// is deep-cloned since stages must only see immutable snapshots (spec §4.6
// "receives an immutable snapshot of state").
func (s State) Clone() State {
	out := s
	if s.History != nil {
		out.History = s.History.Clone()
	}
	return out
}

// Command is a stage's sole return value: where to go next, and what to
// merge into state (spec §4.6).
type Command struct {
	Goto   string
	Update StateUpdate
}

// StateUpdate is a partial update to State; fields left nil/zero are left
// untouched by the per-field reducer (spec §4.6 "custom reducers per field").
type StateUpdate struct {
	Activity         *string
	InternalUpdates  *history.InternalUpdates
	ResetUpdates     bool
	Wakeup           *WakeupInput
	ClearWakeup      bool
	LastSummaryCheck *time.Time
	InternalActivity *string
}

// ApplyReducers folds u into s using the field reducers from spec §4.6:
// activity is last-writer-wins-nonempty; history updates are applied
// through the history reducer by the caller (since that requires "now");
// internal_updates accumulates until reset; wakeup is replaced atomically.
func ApplyReducers(s State, u StateUpdate) State {
	if u.Activity != nil && *u.Activity != "" {
		s.Activity = *u.Activity
	}
	if u.InternalActivity != nil && *u.InternalActivity != "" {
		s.InternalActivity = *u.InternalActivity
	}
	if u.ResetUpdates {
		s.InternalUpdates = history.NewInternalUpdates()
	}
	if u.InternalUpdates != nil {
		if s.InternalUpdates == nil {
			s.InternalUpdates = history.NewInternalUpdates()
		}
		s.InternalUpdates.Merge(u.InternalUpdates)
	}
	if u.ClearWakeup {
		s.Wakeup = nil
	}
	if u.Wakeup != nil {
		s.Wakeup = u.Wakeup
	}
	if u.LastSummaryCheck != nil {
		s.LastSummaryCheck = u.LastSummaryCheck
	}
	return s
}

// Stage is one node in the graph.
type Stage func(ctx context.Context, s State, emit func(Event)) (Command, error)

// Checkpointer persists pipeline State across runs, keyed by thread id
// (spec §4.6 "Checkpointing", §6 "Persisted state").
type Checkpointer interface {
	Load(ctx context.Context, threadID string) (State, bool, error)
	Save(ctx context.Context, threadID string, s State) error
}

// Graph is a named-stage DAG: Nodes maps a stage name to its implementation,
// Successors gives each stage's default next stage, and End names the stage
// at which Run stops. Concurrent fan-out is not part of Graph; see FanOut.
type Graph struct {
	Nodes map[string]Stage
	// Successors maps a stage name to the single stage it transitions to
	// when running sequentially (ignored when the stage's Command sets Goto).
	Successors map[string]string
	End        string
}

// threadLocks serializes state mutation per thread id (spec §5: "a global
// lock around the checkpointer serializes state mutations" within one
// thread id).
var threadLocks sync.Map // map[string]*sync.Mutex

func lockFor(threadID string) *sync.Mutex {
	v, _ := threadLocks.LoadOrStore(threadID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Run executes the graph starting at startNode for threadID, applying
// checkpointing after every stage boundary. now is supplied by the caller
// (the engine's clock) rather than read internally, so runs are
// deterministic and testable.
func (g *Graph) Run(ctx context.Context, cp Checkpointer, threadID, startNode string, initial State, now time.Time, emit func(Event)) (State, error) {
	mu := lockFor(threadID)
	mu.Lock()
	defer mu.Unlock()

	state := initial
	if loaded, ok, err := cp.Load(ctx, threadID); err != nil {
		return state, fmt.Errorf("pipeline: checkpoint load: %w", err)
	} else if ok {
		state = loaded
	}

	current := startNode
	for current != g.End && current != "" {
		stage, ok := g.Nodes[current]
		if !ok {
			return state, fmt.Errorf("pipeline: unknown stage %q", current)
		}

		snapshot := state.Clone()
		cmd, err := stage(ctx, snapshot, func(e Event) {
			e.ThreadID = threadID
			e.Stage = current
			emit(e)
		})
		if err != nil {
			// Fatal error: do not mutate state, do not checkpoint (spec §7).
			return state, fmt.Errorf("pipeline: stage %q failed: %w", current, err)
		}

		state = ApplyReducers(state, cmd.Update)
		if cmd.Update.InternalUpdates != nil || cmd.Update.ResetUpdates {
			merged, err := history.Reduce(state.History, state.InternalUpdates, now)
			if err != nil {
				return state, fmt.Errorf("pipeline: history reduce after stage %q: %w", current, err)
			}
			state.History = merged
		}

		if err := cp.Save(ctx, threadID, state); err != nil {
			return state, fmt.Errorf("pipeline: checkpoint save: %w", err)
		}

		next := cmd.Goto
		if next == "" {
			next = g.Successors[current]
		}
		current = next
	}

	return state, nil
}

// FanOut runs each of the named stages concurrently against the same state
// snapshot, merging their Commands' updates field-wise (spec §4.6 "Fan-in")
// before returning a single combined Command. The combined Command's Goto is
// empty; the caller picks the next stage.
func FanOut(ctx context.Context, stages map[string]Stage, names []string, s State, emit func(string, Event)) (Command, error) {
	grp, gctx := errgroup.WithContext(ctx)
	results := make([]Command, len(names))

	for i, name := range names {
		i, name := i, name
		stage, ok := stages[name]
		if !ok {
			return Command{}, fmt.Errorf("pipeline: fan-out references unknown stage %q", name)
		}
		grp.Go(func() error {
			cmd, err := stage(gctx, s, func(e Event) { emit(name, e) })
			if err != nil {
				return fmt.Errorf("stage %q: %w", name, err)
			}
			results[i] = cmd
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return Command{}, err
	}

	merged := Command{}
	for _, cmd := range results {
		merged.Update = mergeUpdates(merged.Update, cmd.Update)
	}
	return merged, nil
}

func mergeUpdates(a, b StateUpdate) StateUpdate {
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
