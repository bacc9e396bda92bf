package refstrategy

import (
	"context"
	"strings"

	"github.com/gatewright/gatewright/internal/orchestrator"
)

// sequentialAggregator runs the plan's tool steps in order, collecting their
// text results for the Speaker. A tool the pool cannot resolve is skipped; a
// tool that errors aborts the run (the strategy degrades to a tool-less
// reply).
type sequentialAggregator struct{}

func (sequentialAggregator) Run(ctx context.Context, plan orchestrator.Plan, pool orchestrator.Pool) (orchestrator.AggregateResult, error) {
	out := orchestrator.AggregateResult{Data: map[string]any{}}

	for _, step := range plan.Steps {
		name, ok := strings.CutPrefix(step, "tool:")
		if !ok {
			continue
		}
		handle, ok := pool.Resolve(ctx, name)
		if !ok {
			continue
		}
		result, err := handle.Invoke(ctx, nil)
		if err != nil {
			return out, err
		}
		out.ToolResults = append(out.ToolResults, name+": "+result)
	}
	return out, nil
}
