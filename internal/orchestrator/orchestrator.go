// Package orchestrator defines the Agent Orchestrator contract: a pure
// input/output boundary the Session Worker calls through, with no mandated
// internal strategy. orchestrator/refstrategy provides one concrete,
// swappable strategy built from the five sub-interfaces below.
package orchestrator

import (
	"context"

	"github.com/gatewright/gatewright/internal/gatetypes"
	"github.com/gatewright/gatewright/internal/obs"
)

// AgentRequest is everything the orchestrator needs to produce a reply: the
// triggering Observation, the Gate's decision and hint, a read-only session
// snapshot, and the deterministic "now" the Worker observed.
type AgentRequest struct {
	Obs          obs.Observation
	GateDecision gatetypes.GateDecision
	GateHint     gatetypes.GateHint
	RecentObs    []obs.Observation
	Now          int64 // Unix nanoseconds, threaded through rather than time.Time for trace-log friendliness
}

// AgentOutcome is always returned by Handle, success or failure: emit is a
// best-effort fallback when Error is non-empty, never nil.
type AgentOutcome struct {
	Emit  []obs.Observation
	Trace map[string]any
	Error string
}

// Orchestrator is the one contract the Worker depends on. Handle must never
// panic and must always return within the context's deadline (the Worker
// sets that deadline from gate_hint.budget.time_ms); a missed deadline is
// the Worker's problem to convert into a fallback Observation, not the
// orchestrator's.
type Orchestrator interface {
	Handle(ctx context.Context, req AgentRequest) AgentOutcome
}

// Planner turns an AgentRequest into an ordered plan of sub-goals or tool
// invocations. A reference strategy may reduce this to "ask the model what
// to do next".
type Planner interface {
	Plan(ctx context.Context, req AgentRequest) (Plan, error)
}

// Plan is intentionally opaque at the contract layer — strategies define
// their own step representation; the orchestrator package only needs to
// pass it from Planner to ContextBuilder/Pool.
type Plan struct {
	Steps []string
	Data  map[string]any
}

// ContextBuilder assembles the prompt/context payload (system tools,
// retrieved memory, recent session history) handed to the Speaker.
type ContextBuilder interface {
	Build(ctx context.Context, req AgentRequest, plan Plan) (PromptContext, error)
}

// PromptContext is the assembled input to the Speaker.
type PromptContext struct {
	SystemPrompt string
	History      []obs.Observation
	Extra        map[string]any
}

// Pool resolves tool sources (a router over one or more tool backends, e.g.
// an MCP client) available to a plan step.
type Pool interface {
	Resolve(ctx context.Context, name string) (ToolHandle, bool)
}

// ToolHandle is the minimal tool-invocation surface the Aggregator drives.
type ToolHandle interface {
	Name() string
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Aggregator drives plan execution to completion, invoking tools through
// Pool and collecting their results for the Speaker.
type Aggregator interface {
	Run(ctx context.Context, plan Plan, pool Pool) (AggregateResult, error)
}

// AggregateResult carries whatever the Aggregator collected for the Speaker
// to turn into the final reply.
type AggregateResult struct {
	ToolResults []string
	Data        map[string]any
}

// Speaker produces the final reply text/observations from an assembled
// PromptContext and AggregateResult — the one component that actually talks
// to a model.
type Speaker interface {
	Speak(ctx context.Context, pc PromptContext, agg AggregateResult) (string, error)
}

// FallbackMessage builds the single fallback MESSAGE Observation the Worker
// (or a Handle implementation on timeout/error) publishes in place of a
// real reply.
func FallbackMessage(sessionKey string, reason string) obs.Observation {
	return obs.New("agent:fallback", obs.SourceInternal,
		obs.Actor{ActorID: "agent", ActorType: obs.ActorSystem},
		obs.MessagePayload{Text: "Sorry, I couldn't complete that right now."},
		obs.WithSessionKey(sessionKey),
		obs.WithMetadata(map[string]any{"fallback": true, "fallback_reason": reason}))
}
