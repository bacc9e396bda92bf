// Package gatetypes holds the data shapes shared by internal/gateconfig
// and internal/gate: Scene, Action, the decision/hint/budget value objects,
// and the pipeline's working-state struct. Split out of internal/gate to
// let the config loader depend on them without an import cycle.
package gatetypes

import (
	"time"

	"github.com/gatewright/gatewright/internal/obs"
)

// Scene is the Gate's coarse classification of an Observation.
type Scene string

const (
	SceneDialogue   Scene = "dialogue"
	SceneGroup      Scene = "group"
	SceneSystem     Scene = "system"
	SceneToolCall   Scene = "tool_call"
	SceneToolResult Scene = "tool_result"
	SceneAlert      Scene = "alert"
	SceneUnknown    Scene = "unknown"
)

// Action is one of the three terminal Gate decisions.
type Action string

const (
	ActionDrop    Action = "DROP"
	ActionSink    Action = "SINK"
	ActionDeliver Action = "DELIVER"
)

// BudgetLevel names a resource-budget profile.
type BudgetLevel string

const (
	BudgetTiny   BudgetLevel = "tiny"
	BudgetNormal BudgetLevel = "normal"
	BudgetDeep   BudgetLevel = "deep"
)

// ModelTier is the coarse model-capability dial a DELIVER decision hints at.
type ModelTier string

const (
	ModelLow    ModelTier = "low"
	ModelNormal ModelTier = "normal"
	ModelHigh   ModelTier = "high"
)

// BudgetSpec bounds how much the Agent Orchestrator may spend on one turn.
// The yaml tags match the budget_profiles section of the Gate config
// document.
type BudgetSpec struct {
	BudgetLevel     BudgetLevel `yaml:"budget_level"`
	TimeMS          int         `yaml:"time_ms"`
	MaxTokens       int         `yaml:"max_tokens"`
	MaxParallel     int         `yaml:"max_parallel"`
	EvidenceAllowed bool        `yaml:"evidence_allowed"`
	MaxToolCalls    int         `yaml:"max_tool_calls"`
	CanSearchKB     bool        `yaml:"can_search_kb"`
	CanCallTools    bool        `yaml:"can_call_tools"`
	AutoClarify     bool        `yaml:"auto_clarify"`
}

// GateHint is the resource/policy annotation attached to a DELIVER decision.
type GateHint struct {
	ModelTier      ModelTier
	ResponsePolicy string
	Budget         BudgetSpec
	ReasonTags     []string
}

// GateDecision is the Gate's terminal verdict for one Observation.
type GateDecision struct {
	Action         Action
	Scene          Scene
	SessionKey     string
	TargetWorker   string
	ModelTier      ModelTier
	ResponsePolicy string
	ToolPolicy     map[string]any
	Score          float64
	Reasons        []string
	Tags           map[string]string
	Fingerprint    string
	Hint           GateHint
}

// GateOutcome is what Gate.Handle returns: the decision plus Observations to
// re-publish and Observations to file into the audit pools.
type GateOutcome struct {
	Decision GateDecision
	Emit     []obs.Observation
	Ingest   []obs.Observation
}

// SystemHealth is the subset of system-wide signals the Gate's hard-bypass
// stage consults (currently just overload).
type SystemHealth struct {
	Overload bool
}

// Metrics is the narrow counters interface the Gate's finalize stage bumps;
// implemented by internal/metrics so gatetypes stays dependency-free.
type Metrics interface {
	IncProcessed()
	IncScene(scene Scene)
	IncAction(action Action)
	IncDropped()
	IncSunk()
	IncDelivered()
}

// Context carries per-Observation inputs the pipeline stages read. now is
// passed explicitly (rather than using time.Now() inside stages) so
// dedup/drop-burst windows are deterministic in tests.
type Context struct {
	Now              time.Time
	SystemSessionKey string
	Metrics          Metrics
	SystemHealth     SystemHealth
}

// Wip ("work in progress") is the single mutable object one Observation is
// threaded through across all pipeline stages. Only the dedup map and the
// drop-burst monitor retain state across different Observations/Wips; Wip
// itself is always fresh.
type Wip struct {
	Scene       Scene
	Features    map[string]any
	Score       float64
	Reasons     []string
	Tags        map[string]string
	Fingerprint string

	ActionHint     Action
	ModelTier      ModelTier
	ResponsePolicy string
	ToolPolicy     map[string]any
	Hint           *GateHint

	Emit   []obs.Observation
	Ingest []obs.Observation
}

// NewWip returns a zeroed Wip ready for one Observation's pipeline run.
func NewWip() *Wip {
	return &Wip{
		Features: make(map[string]any),
		Tags:     make(map[string]string),
	}
}

// AddReason appends a stage failure/decision reason,
// "<stage>_error:<cause>" for caught failures.
func (w *Wip) AddReason(reason string) {
	w.Reasons = append(w.Reasons, reason)
}

// Stage is one pipeline step: scene inference, hard bypass, feature
// extraction, scoring, dedup, policy mapping, finalize. Each stage must
// never panic past its own Apply — the pipeline runner recovers regardless,
// but well-behaved stages catch their own errors and record a reason.
type Stage interface {
	Apply(o obs.Observation, ctx Context, w *Wip)
}
