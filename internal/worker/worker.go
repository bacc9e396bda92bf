// Package worker implements the session worker: one cooperative goroutine
// per session draining that session's inbox in strict FIFO order, driving
// each Observation through the Gate, and, on a DELIVER decision not itself
// agent-originated, through the Agent Orchestrator under a deadline taken
// from the Gate's hint budget.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/gate"
	"github.com/gatewright/gatewright/internal/gatetypes"
	"github.com/gatewright/gatewright/internal/obs"
	"github.com/gatewright/gatewright/internal/orchestrator"
	"github.com/gatewright/gatewright/internal/router"
	"github.com/gatewright/gatewright/internal/sessionstate"
)

// defaultBudgetMS is used when a Gate hint carries no explicit time budget
// (e.g. the pipeline panicked before policyMapping ran).
const defaultBudgetMS = 2000

// Memory is the optional memory-service hook the Worker calls around an
// Agent Orchestrator invocation. A nil Memory is valid — the Worker simply
// skips event/turn bookkeeping. Implemented by memoryclient.FailOpen, so
// every call here is already non-raising.
type Memory interface {
	AppendEvent(ctx context.Context, o obs.Observation, sessionKey string, gate *gatetypes.GateDecision) (eventID string, err error)
	AppendTurn(ctx context.Context, sessionKey, inputEventID string) (turnID string, err error)
	FinishTurn(ctx context.Context, turnID, finalOutputObsID, status, errMsg string) error
}

// HealthSource lets the Worker ask the running system whether it is
// currently overloaded, threaded into every Gate.Handle call.
type HealthSource interface {
	SystemHealth() gatetypes.SystemHealth
}

// Spend receives per-turn accounting after each successful Agent invocation
// (implemented by storage.CostTracker); nil disables spend tracking.
type Spend interface {
	RecordTurn(sessionKey string, trace map[string]any)
}

// Config carries a Worker's collaborators. Memory, Health, and Spend may be
// nil.
type Config struct {
	SessionKey string
	Inbox      *router.Inbox
	Bus        *bus.Bus
	Gate       *gate.Gate
	State      *sessionstate.State
	Orch       orchestrator.Orchestrator
	Memory     Memory
	Health     HealthSource
	Spend      Spend
}

// Worker drains one session's Inbox until its context is cancelled.
type Worker struct {
	SessionKey string

	inbox  *router.Inbox
	bus    *bus.Bus
	gate   *gate.Gate
	state  *sessionstate.State
	orch   orchestrator.Orchestrator
	memory Memory
	health HealthSource
	spend  Spend
}

// New constructs a Worker for one session.
func New(cfg Config) *Worker {
	return &Worker{
		SessionKey: cfg.SessionKey,
		inbox:      cfg.Inbox,
		bus:        cfg.Bus,
		gate:       cfg.Gate,
		state:      cfg.State,
		orch:       cfg.Orch,
		memory:     cfg.Memory,
		health:     cfg.Health,
		spend:      cfg.Spend,
	}
}

// Run drains the inbox until ctx is cancelled or the inbox channel closes.
// It never returns an error: per-Observation failures are contained and
// turned into fallback Observations + an error_total bump, never a crash of
// the Worker goroutine itself.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-w.inbox.C():
			if !ok {
				return
			}
			w.handleOne(ctx, o)
		}
	}
}

func (w *Worker) handleOne(ctx context.Context, o obs.Observation) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker: panic recovered handling observation", "session_key", w.SessionKey, "obs_id", o.ID, "panic", r)
			w.state.IncError()
		}
	}()

	now := time.Now()
	w.state.Touch(o, now)

	health := gatetypes.SystemHealth{}
	if w.health != nil {
		health = w.health.SystemHealth()
	}

	outcome := w.gate.Handle(o, now, health)
	for _, ing := range outcome.Ingest {
		w.gate.Ingest(ing, outcome.Decision)
	}

	for _, e := range outcome.Emit {
		w.bus.PublishNowait(e)
	}

	if outcome.Decision.Action == gatetypes.ActionDeliver && !o.IsFromAgent() {
		w.runAgent(ctx, o, outcome.Decision, now)
	}
}

func (w *Worker) runAgent(ctx context.Context, o obs.Observation, decision gatetypes.GateDecision, now time.Time) {
	budgetMS := decision.Hint.Budget.TimeMS
	if budgetMS <= 0 {
		budgetMS = defaultBudgetMS
	}
	actCtx, cancel := context.WithTimeout(ctx, time.Duration(budgetMS)*time.Millisecond)
	defer cancel()

	var turnID string
	if w.memory != nil {
		eventID, _ := w.memory.AppendEvent(actCtx, o, o.SessionKey, &decision)
		if eventID != "" {
			o.Metadata["memory_event_id"] = eventID
		}
		turnID, _ = w.memory.AppendTurn(actCtx, o.SessionKey, eventID)
		if turnID != "" {
			o.Metadata["memory_turn_id"] = turnID
		}
	}

	req := orchestrator.AgentRequest{
		Obs:          o,
		GateDecision: decision,
		GateHint:     decision.Hint,
		RecentObs:    w.state.RecentObs(8),
		Now:          now.UnixNano(),
	}

	resCh := make(chan orchestrator.AgentOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- orchestrator.AgentOutcome{Error: "orchestrator panic"}
			}
		}()
		resCh <- w.orch.Handle(actCtx, req)
	}()

	select {
	case res := <-resCh:
		if res.Error != "" {
			w.fallback(o, "agent_error:"+res.Error, turnID)
			return
		}
		var lastEmitID string
		for _, e := range res.Emit {
			if turnID != "" {
				if e.Metadata == nil {
					e.Metadata = map[string]any{}
				}
				e.Metadata["memory_turn_id"] = turnID
			}
			lastEmitID = e.ID
			w.bus.PublishNowait(e)
		}
		if w.spend != nil {
			w.spend.RecordTurn(o.SessionKey, res.Trace)
		}
		if w.memory != nil && turnID != "" {
			_ = w.memory.FinishTurn(context.Background(), turnID, lastEmitID, "ok", "")
		}
	case <-actCtx.Done():
		w.fallback(o, "timeout", turnID)
	}
}

func (w *Worker) fallback(o obs.Observation, reason, turnID string) {
	w.state.IncError()
	w.bus.PublishNowait(orchestrator.FallbackMessage(o.SessionKey, reason))
	if w.memory != nil && turnID != "" {
		_ = w.memory.FinishTurn(context.Background(), turnID, "", "error", reason)
	}
}
