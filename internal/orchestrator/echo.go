package orchestrator

import (
	"context"
	"fmt"

	"github.com/gatewright/gatewright/internal/obs"
)

// Echo is the simplest legal Orchestrator: it never calls a model, just
// reflects the triggering message's text back on the same session. It
// exists for core wiring tests and as the safety-net default when no
// refstrategy dependencies (eino, claude, MCP) are configured.
type Echo struct{}

// Handle implements Orchestrator. It never errors; Error is always empty.
func (Echo) Handle(ctx context.Context, req AgentRequest) AgentOutcome {
	text := "…"
	if mp, ok := req.Obs.Payload.(obs.MessagePayload); ok {
		text = fmt.Sprintf("echo: %s", mp.Text)
	}
	reply := obs.New("agent:echo", obs.SourceInternal,
		obs.Actor{ActorID: "agent", ActorType: obs.ActorSystem},
		obs.MessagePayload{Text: text},
		obs.WithSessionKey(req.Obs.SessionKey))
	return AgentOutcome{
		Emit:  []obs.Observation{reply},
		Trace: map[string]any{"strategy": "echo"},
	}
}
