package stages

import (
	"context"

	"weave/internal/pipeline"
)

// Afterthought is named in the outer graph shape (spec §4.6: "{afterthought,
// autotools} fan out after the merge gate") but has no separately specified
// stage contract in spec §4.7 — unlike activity/vision/tools/knowledge/
// agents, the distillation never pinned down what it inspects or emits.
// The original (original_source/meep's "Template afterthought" step, which
// ran a secondary templated pass over the agent's reply) is not carried
// here: that behavior was deliberately dropped rather than overlooked, since
// nothing in spec §4.7 describes what it should inspect or emit in this
// system. Until a concrete behavior is specified, this is a documented
// no-op so the graph shape wires exactly as described without fabricating
// semantics.
func Afterthought() pipeline.Stage {
	return func(ctx context.Context, s pipeline.State, emit func(pipeline.Event)) (pipeline.Command, error) {
		return pipeline.Command{}, nil
	}
}
