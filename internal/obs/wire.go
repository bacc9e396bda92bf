package obs

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireObservation is the JSON shape adapters exchange with the outside
// world. The payload is decoded into the variant selected by obs_type;
// an unknown obs_type, a missing payload, or a payload field of the wrong
// JSON type fails decoding, keeping the payload/type invariant intact at
// the process boundary. Payload fields the variant does not declare are
// ignored.
type wireObservation struct {
	ObsID      string          `json:"obs_id,omitempty"`
	ObsType    Type            `json:"obs_type"`
	SourceName string          `json:"source_name"`
	SourceKind SourceKind      `json:"source_kind,omitempty"`
	SessionKey string          `json:"session_key,omitempty"`
	Actor      Actor           `json:"actor"`
	Timestamp  time.Time       `json:"timestamp,omitempty"`
	ReceivedAt time.Time       `json:"received_at,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Evidence   *Evidence       `json:"evidence,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// MarshalJSON encodes an Observation into its wire shape.
func (o Observation) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(o.Payload)
	if err != nil {
		return nil, fmt.Errorf("obs: marshal payload: %w", err)
	}
	return json.Marshal(wireObservation{
		ObsID:      o.ID,
		ObsType:    o.Type,
		SourceName: o.SourceName,
		SourceKind: o.SourceKind,
		SessionKey: o.SessionKey,
		Actor:      o.Actor,
		Timestamp:  o.Timestamp,
		ReceivedAt: o.ReceivedAt,
		Payload:    payload,
		Evidence:   o.Evidence,
		Metadata:   o.Metadata,
	})
}

// DecodeJSON decodes and validates a wire Observation. Fields an external
// producer normally omits (obs_id, source_kind, timestamps) are filled in:
// external adapters get EXTERNAL, fresh UUIDs, and now.
func DecodeJSON(data []byte) (Observation, error) {
	var w wireObservation
	if err := json.Unmarshal(data, &w); err != nil {
		return Observation{}, fmt.Errorf("obs: decode: %w", err)
	}
	if w.SourceName == "" {
		return Observation{}, fmt.Errorf("obs: decode: source_name is required")
	}

	payload, err := decodePayload(w.ObsType, w.Payload)
	if err != nil {
		return Observation{}, err
	}

	kind := w.SourceKind
	if kind == "" {
		kind = SourceExternal
	}

	var opts []Option
	if w.SessionKey != "" {
		opts = append(opts, WithSessionKey(w.SessionKey))
	}
	if w.Evidence != nil {
		opts = append(opts, WithEvidence(*w.Evidence))
	}
	if w.Metadata != nil {
		opts = append(opts, WithMetadata(w.Metadata))
	}
	if !w.Timestamp.IsZero() {
		opts = append(opts, WithTimestamp(w.Timestamp.UTC()))
	}

	o := New(w.SourceName, kind, w.Actor, payload, opts...)
	if w.ObsID != "" {
		o.ID = w.ObsID
	}
	return o, nil
}

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("obs: decode: payload is required")
	}
	var (
		p   Payload
		err error
	)
	switch t {
	case TypeMessage:
		var mp MessagePayload
		err = json.Unmarshal(raw, &mp)
		p = mp
	case TypeSchedule:
		var sp SchedulePayload
		err = json.Unmarshal(raw, &sp)
		p = sp
	case TypeAlert:
		var ap AlertPayload
		err = json.Unmarshal(raw, &ap)
		p = ap
	case TypeControl:
		var cp ControlPayload
		err = json.Unmarshal(raw, &cp)
		p = cp
	case TypeSystem:
		var sp SystemPayload
		err = json.Unmarshal(raw, &sp)
		p = sp
	case TypeWorldData:
		var wp WorldDataPayload
		err = json.Unmarshal(raw, &wp)
		p = wp
	default:
		return nil, fmt.Errorf("obs: decode: unknown obs_type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("obs: decode %s payload: %w", t, err)
	}
	return p, nil
}
