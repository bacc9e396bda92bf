// Package obs defines the Observation schema: the single typed event record
// that flows through the Bus, the Session Router, the Gate, and back out
// again once an Agent has replied.
package obs

import (
	"time"

	"github.com/google/uuid"
)

// Type is the tag of the Observation's payload union.
type Type string

const (
	TypeMessage   Type = "MESSAGE"
	TypeSchedule  Type = "SCHEDULE"
	TypeAlert     Type = "ALERT"
	TypeControl   Type = "CONTROL"
	TypeSystem    Type = "SYSTEM"
	TypeWorldData Type = "WORLD_DATA"
)

// SourceKind distinguishes adapters producing from outside the process from
// observations synthesized internally (Gate, Nociception, Reflex, Agent).
type SourceKind string

const (
	SourceExternal SourceKind = "EXTERNAL"
	SourceInternal SourceKind = "INTERNAL"
)

// ActorType classifies who/what originated an Observation.
type ActorType string

const (
	ActorUser    ActorType = "user"
	ActorSystem  ActorType = "system"
	ActorService ActorType = "service"
)

// Actor identifies the originator of an Observation.
type Actor struct {
	ActorID     string    `json:"actor_id"`
	ActorType   ActorType `json:"actor_type"`
	DisplayName string    `json:"display_name,omitempty"`
}

// Severity is used by AlertPayload.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Payload is the marker interface every typed payload variant implements.
// The concrete type must always match the Observation's Type field.
type Payload interface {
	ObsType() Type
}

// Attachment is an opaque reference to out-of-band content (image, file…).
type Attachment struct {
	Kind string `json:"kind"`
	URI  string `json:"uri"`
}

type MessagePayload struct {
	Text        string         `json:"text"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

func (MessagePayload) ObsType() Type { return TypeMessage }

type SchedulePayload struct {
	ScheduleID string         `json:"schedule_id"`
	Data       map[string]any `json:"data,omitempty"`
}

func (SchedulePayload) ObsType() Type { return TypeSchedule }

type AlertPayload struct {
	AlertType string         `json:"alert_type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (AlertPayload) ObsType() Type { return TypeAlert }

type ControlPayload struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

func (ControlPayload) ObsType() Type { return TypeControl }

// SystemPayload backs the SYSTEM obs_type. SYSTEM observations (distinct
// from SCHEDULE/CONTROL, which also map to the system scene) carry
// free-form process-lifecycle data and get their own thin variant rather
// than overloading ControlPayload's "kind" tag.
type SystemPayload struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

func (SystemPayload) ObsType() Type { return TypeSystem }

type WorldDataPayload struct {
	SchemaID string         `json:"schema_id"`
	Data     map[string]any `json:"data"`
}

func (WorldDataPayload) ObsType() Type { return TypeWorldData }

// Evidence links an Observation back to the raw external event it came from,
// for audit purposes only.
type Evidence struct {
	RawEventID  string         `json:"raw_event_id,omitempty"`
	RawEventURI string         `json:"raw_event_uri,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Observation is the universal, (mostly) immutable event record. Metadata is
// the one field the pipeline may amend in place, for correlation stamping
// (e.g. memory_event_id, memory_turn_id, fallback).
type Observation struct {
	ID          string
	Type        Type
	SourceName  string
	SourceKind  SourceKind
	SessionKey  string
	Actor       Actor
	Timestamp   time.Time
	ReceivedAt  time.Time
	Payload     Payload
	Evidence    *Evidence
	Metadata    map[string]any
}

// Option customizes a newly constructed Observation.
type Option func(*Observation)

// WithSessionKey pins the session key instead of deferring to the router.
func WithSessionKey(sk string) Option {
	return func(o *Observation) { o.SessionKey = sk }
}

// WithEvidence attaches an audit trail back to a raw external event.
func WithEvidence(ev Evidence) Option {
	return func(o *Observation) { o.Evidence = &ev }
}

// WithMetadata seeds the mutable metadata map at construction time.
func WithMetadata(md map[string]any) Option {
	return func(o *Observation) {
		for k, v := range md {
			o.Metadata[k] = v
		}
	}
}

// WithTimestamp overrides the observed-at instant; mainly for tests.
func WithTimestamp(t time.Time) Option {
	return func(o *Observation) { o.Timestamp = t }
}

// New constructs an Observation of the type implied by payload's own
// ObsType(), deriving the tag from the concrete payload rather than taking
// it as a separate parameter (which would allow payload/obs_type to
// disagree).
func New(sourceName string, sourceKind SourceKind, actor Actor, payload Payload, opts ...Option) Observation {
	now := time.Now().UTC()
	o := Observation{
		ID:         uuid.New().String(),
		Type:       payload.ObsType(),
		SourceName: sourceName,
		SourceKind: sourceKind,
		Actor:      actor,
		Timestamp:  now,
		ReceivedAt: now,
		Payload:    payload,
		Metadata:   make(map[string]any),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Timestamp.After(o.ReceivedAt) {
		o.ReceivedAt = o.Timestamp
	}
	return o
}

// FromAgent is a convenience constructor for Observations the Agent
// Orchestrator emits back onto the Bus. source_name is always prefixed
// "agent:" so the Worker and the Gate's policy mapper can recognize and
// break feedback loops.
func FromAgent(component string, actor Actor, sessionKey string, payload Payload) Observation {
	return New("agent:"+component, SourceInternal, actor, payload, WithSessionKey(sessionKey))
}

// IsFromAgent reports whether this Observation originated from the Agent
// Orchestrator's own emits, per the source_name "agent:" prefix convention.
func (o Observation) IsFromAgent() bool {
	return len(o.SourceName) >= 6 && o.SourceName[:6] == "agent:"
}

// Clone returns a value copy. Metadata is the only field the rest of the
// system ever mutates post-construction, so it is the only field deep
// copied; everything else (including Payload, which is never mutated after
// construction) can be shared by value/reference safely.
func (o Observation) Clone() Observation {
	c := o
	c.Metadata = make(map[string]any, len(o.Metadata))
	for k, v := range o.Metadata {
		c.Metadata[k] = v
	}
	return c
}
