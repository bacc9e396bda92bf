// Package storage holds the core's local audit artifacts: the per-session
// Observation log and the per-session agent spend tracker. Neither is the
// memory service — these are operator-facing introspection files only.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gatewright/gatewright/internal/egress"
	"github.com/gatewright/gatewright/internal/obs"
)

// ObservationLogger persists routed Observations to JSONL files organized by
// session key, one file per session, registered as an egress sink.
type ObservationLogger struct {
	dir        string
	unregister func()
}

// logRecord is the flattened JSONL shape; the payload is serialized as-is.
type logRecord struct {
	ObsID      string         `json:"obs_id"`
	ObsType    string         `json:"obs_type"`
	SourceName string         `json:"source_name"`
	SourceKind string         `json:"source_kind"`
	SessionKey string         `json:"session_key"`
	ActorID    string         `json:"actor_id"`
	Timestamp  time.Time      `json:"timestamp"`
	ReceivedAt time.Time      `json:"received_at"`
	Payload    any            `json:"payload"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewObservationLogger creates a logger writing under dir and registers it
// on the hub for all sessions.
func NewObservationLogger(dir string, hub *egress.Hub) *ObservationLogger {
	ol := &ObservationLogger{dir: dir}
	ol.unregister = hub.Register("obslog", "", ol.handle)
	return ol
}

// Close unregisters the logger from the egress hub.
func (ol *ObservationLogger) Close() {
	if ol.unregister != nil {
		ol.unregister()
	}
}

func (ol *ObservationLogger) handle(o obs.Observation) {
	_ = ol.writeObservation(o)
}

func (ol *ObservationLogger) writeObservation(o obs.Observation) error {
	rec := logRecord{
		ObsID:      o.ID,
		ObsType:    string(o.Type),
		SourceName: o.SourceName,
		SourceKind: string(o.SourceKind),
		SessionKey: o.SessionKey,
		ActorID:    o.Actor.ActorID,
		Timestamp:  o.Timestamp,
		ReceivedAt: o.ReceivedAt,
		Payload:    o.Payload,
		Metadata:   o.Metadata,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := ol.logPath(o.SessionKey)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

func (ol *ObservationLogger) logPath(sessionKey string) string {
	if sessionKey == "" {
		return filepath.Join(ol.dir, "_global.jsonl")
	}
	safe := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(sessionKey)
	return filepath.Join(ol.dir, safe+".jsonl")
}
