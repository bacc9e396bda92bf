package memoryclient

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gatewright/gatewright/internal/gatetypes"
	"github.com/gatewright/gatewright/internal/obs"
)

// FailOpen wraps a Service so no memory failure ever propagates to the
// Worker: errors are logged, counted, and swallowed. A nil inner Service is
// valid and makes every call a no-op.
type FailOpen struct {
	inner      Service
	errorTotal atomic.Uint64
}

// NewFailOpen wraps svc (which may be nil).
func NewFailOpen(svc Service) *FailOpen {
	return &FailOpen{inner: svc}
}

// ErrorTotal is the lifetime count of swallowed memory errors.
func (f *FailOpen) ErrorTotal() uint64 { return f.errorTotal.Load() }

func (f *FailOpen) AppendEvent(ctx context.Context, o obs.Observation, sessionKey string, gate *gatetypes.GateDecision) (string, error) {
	if f.inner == nil {
		return "", nil
	}
	id, err := f.inner.AppendEvent(ctx, o, sessionKey, gate)
	if err != nil {
		f.errorTotal.Add(1)
		slog.Warn("memory: append_event failed", "session_key", sessionKey, "error", err)
		return "", nil
	}
	return id, nil
}

func (f *FailOpen) AppendTurn(ctx context.Context, sessionKey, inputEventID string) (string, error) {
	if f.inner == nil {
		return "", nil
	}
	id, err := f.inner.AppendTurn(ctx, sessionKey, inputEventID)
	if err != nil {
		f.errorTotal.Add(1)
		slog.Warn("memory: append_turn failed", "session_key", sessionKey, "error", err)
		return "", nil
	}
	return id, nil
}

func (f *FailOpen) FinishTurn(ctx context.Context, turnID, finalOutputObsID, status, errMsg string) error {
	if f.inner == nil || turnID == "" {
		return nil
	}
	if err := f.inner.FinishTurn(ctx, turnID, finalOutputObsID, status, errMsg); err != nil {
		f.errorTotal.Add(1)
		slog.Warn("memory: finish_turn failed", "turn_id", turnID, "error", err)
	}
	return nil
}

func (f *FailOpen) Close() error {
	if f.inner == nil {
		return nil
	}
	if err := f.inner.Close(); err != nil {
		f.errorTotal.Add(1)
		slog.Warn("memory: close failed", "error", err)
	}
	return nil
}
