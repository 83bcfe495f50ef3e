package stages

import (
	"context"

	"weave/internal/history"
	"weave/internal/pipeline"
)

// Preprocess implements the "preprocess" stage contract (spec §4.7): if a
// wakeup input is present, the outer orchestrator routes to Wakeup instead
// of this stage's normal continuation; otherwise it resets the
// accumulated InternalUpdates and internal_activity scratch field and
// defaults activity when the thread has none yet.
func Preprocess(defaultActivity string) pipeline.Stage {
	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		update := pipeline.StateUpdate{ResetUpdates: true}

		blank := ""
		update.InternalActivity = &blank

		if s.Activity == "" {
			act := defaultActivity
			update.Activity = &act
		}

		if s.History == nil {
			update.InternalUpdates = history.NewInternalUpdates()
		}

		return pipeline.Command{Update: update}, nil
	}
}

// HasWakeup reports whether s carries a wakeup input, the branch condition
// the outer orchestrator uses to choose preprocess's successor.
func HasWakeup(s pipeline.State) bool { return s.Wakeup != nil }
