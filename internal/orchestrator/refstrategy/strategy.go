// Package refstrategy is one concrete, swappable Agent Orchestrator
// strategy behind the orchestrator contract: a Planner deciding whether the
// turn needs tools, a ContextBuilder assembling recent session history into
// model messages, an MCP-backed tool Pool, an Aggregator driving the tool
// steps, and an eino ChatModel Speaker producing the final reply.
package refstrategy

import (
	"context"
	"fmt"
	"time"

	"github.com/gatewright/gatewright/internal/gatetypes"
	"github.com/gatewright/gatewright/internal/obs"
	"github.com/gatewright/gatewright/internal/orchestrator"
)

// Config selects the strategy's model and optional MCP tool source.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int

	// MCPCommand, when non-empty, spawns an MCP server over stdio as the
	// Pool's tool source.
	MCPCommand string
	MCPArgs    []string
}

// Strategy composes the five sub-interfaces into an Orchestrator.
type Strategy struct {
	planner orchestrator.Planner
	builder orchestrator.ContextBuilder
	pool    orchestrator.Pool
	agg     orchestrator.Aggregator
	speaker orchestrator.Speaker

	closer func()
}

// New builds the reference strategy: heuristic planner, history context
// builder, MCP pool (or an empty pool when no MCP command is configured),
// sequential aggregator, eino ChatModel speaker.
func New(ctx context.Context, cfg Config) (*Strategy, error) {
	speaker, err := newModelSpeaker(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("refstrategy: speaker: %w", err)
	}

	var (
		pool   orchestrator.Pool = emptyPool{}
		closer                   = func() {}
	)
	if cfg.MCPCommand != "" {
		mp, err := newMCPPool(ctx, cfg.MCPCommand, cfg.MCPArgs)
		if err != nil {
			return nil, fmt.Errorf("refstrategy: mcp pool: %w", err)
		}
		pool = mp
		closer = mp.close
	}

	return &Strategy{
		planner: &heuristicPlanner{pool: pool},
		builder: &historyBuilder{},
		pool:    pool,
		agg:     &sequentialAggregator{},
		speaker: speaker,
		closer:  closer,
	}, nil
}

// Close releases the MCP session, if any.
func (s *Strategy) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// Handle implements orchestrator.Orchestrator. Every failure mode — panic,
// planner error, tool error, model error — is converted into an
// AgentOutcome with Error set and a best-effort fallback emit; nothing ever
// propagates to the Worker as a throw.
func (s *Strategy) Handle(ctx context.Context, req orchestrator.AgentRequest) (out orchestrator.AgentOutcome) {
	started := time.Now()
	trace := map[string]any{"strategy": "reference"}

	defer func() {
		if r := recover(); r != nil {
			out = s.failure(req, trace, fmt.Sprintf("panic: %v", r))
		}
		trace["elapsed_ms"] = time.Since(started).Milliseconds()
		out.Trace = trace
	}()

	plan, err := s.planner.Plan(ctx, req)
	if err != nil {
		return s.failure(req, trace, "plan: "+err.Error())
	}
	trace["plan_steps"] = len(plan.Steps)

	pc, err := s.builder.Build(ctx, req, plan)
	if err != nil {
		return s.failure(req, trace, "build: "+err.Error())
	}

	agg, err := s.agg.Run(ctx, plan, s.pool)
	if err != nil {
		// Tool failures degrade to a tool-less reply rather than aborting
		// the turn.
		trace["tool_error"] = err.Error()
		agg = orchestrator.AggregateResult{}
	}
	trace["tool_calls"] = len(agg.ToolResults)

	text, err := s.speaker.Speak(ctx, pc, agg)
	if err != nil {
		return s.failure(req, trace, "speak: "+err.Error())
	}
	if usage, ok := s.speaker.(interface{ lastUsage() (int, int) }); ok {
		in, outTok := usage.lastUsage()
		trace["tokens_input"] = in
		trace["tokens_output"] = outTok
	}

	reply := obs.FromAgent("speaker",
		obs.Actor{ActorID: "agent", ActorType: obs.ActorSystem},
		req.Obs.SessionKey,
		obs.MessagePayload{Text: text})

	return orchestrator.AgentOutcome{Emit: []obs.Observation{reply}, Trace: trace}
}

func (s *Strategy) failure(req orchestrator.AgentRequest, trace map[string]any, msg string) orchestrator.AgentOutcome {
	return orchestrator.AgentOutcome{
		Emit:  []obs.Observation{orchestrator.FallbackMessage(req.Obs.SessionKey, msg)},
		Trace: trace,
		Error: msg,
	}
}

// budgetToolCalls bounds the aggregator by the Gate hint.
func budgetToolCalls(hint gatetypes.GateHint) int {
	if !hint.Budget.CanCallTools {
		return 0
	}
	return hint.Budget.MaxToolCalls
}
