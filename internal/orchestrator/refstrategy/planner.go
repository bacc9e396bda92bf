package refstrategy

import (
	"context"
	"strings"

	"github.com/gatewright/gatewright/internal/obs"
	"github.com/gatewright/gatewright/internal/orchestrator"
)

// heuristicPlanner maps an AgentRequest to a short step list without a model
// round-trip: a tool step per matching pool tool the message names, then a
// final respond step. Tool steps are only planned when the Gate budget
// allows tool calls at all.
type heuristicPlanner struct {
	pool orchestrator.Pool
}

func (p *heuristicPlanner) Plan(ctx context.Context, req orchestrator.AgentRequest) (orchestrator.Plan, error) {
	plan := orchestrator.Plan{Data: map[string]any{}}

	maxTools := budgetToolCalls(req.GateHint)
	if maxTools > 0 {
		if mp, ok := p.pool.(*mcpPool); ok {
			text := ""
			if m, ok := req.Obs.Payload.(obs.MessagePayload); ok {
				text = strings.ToLower(m.Text)
			}
			for _, name := range mp.toolNames() {
				if len(plan.Steps) >= maxTools {
					break
				}
				if strings.Contains(text, strings.ToLower(name)) {
					plan.Steps = append(plan.Steps, "tool:"+name)
				}
			}
		}
	}

	plan.Steps = append(plan.Steps, "respond")
	return plan, nil
}
