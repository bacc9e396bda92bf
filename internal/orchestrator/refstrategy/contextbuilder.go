package refstrategy

import (
	"context"
	"fmt"

	"github.com/gatewright/gatewright/internal/orchestrator"
)

// defaultSystemPrompt is the persona fallback; operators override it per
// deployment by swapping the ContextBuilder.
const defaultSystemPrompt = "You are a concise conversational agent embedded in an event-driven runtime. " +
	"Reply to the latest user message using the conversation history and any tool results provided."

// historyBuilder assembles the prompt context from the session's recent
// Observations plus the Gate's response policy and budget.
type historyBuilder struct{}

func (historyBuilder) Build(_ context.Context, req orchestrator.AgentRequest, _ orchestrator.Plan) (orchestrator.PromptContext, error) {
	system := defaultSystemPrompt
	if rp := req.GateHint.ResponsePolicy; rp != "" {
		system += fmt.Sprintf(" Response policy: %s.", rp)
	}
	if mt := req.GateHint.Budget.MaxTokens; mt > 0 {
		system += fmt.Sprintf(" Keep the reply well under %d tokens.", mt)
	}

	return orchestrator.PromptContext{
		SystemPrompt: system,
		History:      req.RecentObs,
		Extra: map[string]any{
			"budget_level": string(req.GateHint.Budget.BudgetLevel),
			"model_tier":   string(req.GateHint.ModelTier),
		},
	}, nil
}
