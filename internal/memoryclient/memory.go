// Package memoryclient is the core's client for the collaborating memory
// service: append_event / append_turn / finish_turn, all optional and all
// fail-open from the core's perspective. The default implementation is a
// session-keyed file store (meta.json + events.jsonl + turns.jsonl per
// session), with optional at-rest encryption of evidence URIs.
package memoryclient

import (
	"context"

	"github.com/gatewright/gatewright/internal/gatetypes"
	"github.com/gatewright/gatewright/internal/obs"
)

// Service is the memory-service contract. Every operation may fail; callers
// inside the core must go through FailOpen so no memory error ever reaches a
// Worker as anything but a counter bump.
type Service interface {
	// AppendEvent persists one Observation and returns its event id.
	AppendEvent(ctx context.Context, o obs.Observation, sessionKey string, gate *gatetypes.GateDecision) (eventID string, err error)
	// AppendTurn opens a turn keyed to the input event and returns its id.
	AppendTurn(ctx context.Context, sessionKey, inputEventID string) (turnID string, err error)
	// FinishTurn closes a turn with status "ok" or "error".
	FinishTurn(ctx context.Context, turnID, finalOutputObsID, status, errMsg string) error
	Close() error
}
