// Package appconfig holds the process-level configuration for the core: bus
// and inbox sizing, session routing and GC, nociception/reflex thresholds,
// adapter endpoints, agent strategy selection, and memory-service settings.
// The Gate's own versioned document lives in internal/gateconfig; this
// package covers everything around it.
package appconfig

import "time"

// Config is the root configuration for a gatewright process.
type Config struct {
	Core        CoreConfig        `json:"core"`
	Gate        GateFileConfig    `json:"gate"`
	Nociception NociceptionConfig `json:"nociception"`
	Reflex      ReflexConfig      `json:"reflex"`
	Gateway     GatewayConfig     `json:"gateway"`
	Agent       AgentConfig       `json:"agent"`
	Memory      MemoryConfig      `json:"memory"`
	Schedules   SchedulesConfig   `json:"schedules"`
	LogLevel    string            `json:"log_level"`
}

// CoreConfig sizes the Bus, inboxes, and the session lifecycle.
type CoreConfig struct {
	BusSize            int    `json:"bus_size"`
	InboxMaxSize       int    `json:"inbox_max_size"`
	MessageRouting     string `json:"message_routing"` // "user" | "default"
	DefaultSessionKey  string `json:"default_session_key"`
	SystemSessionKey   string `json:"system_session_key"`
	IdleTTLSeconds     int    `json:"idle_ttl_seconds"`
	GCIntervalSeconds  int    `json:"gc_interval_seconds"`
	EnableSystemFanout bool   `json:"enable_system_fanout"`
	SystemTickSeconds  int    `json:"system_tick_seconds"` // 0 disables the tick driver
}

// IdleTTL returns the session idle TTL as a duration.
func (c CoreConfig) IdleTTL() time.Duration {
	return time.Duration(c.IdleTTLSeconds) * time.Second
}

// GCInterval returns the GC sweep interval as a duration.
func (c CoreConfig) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalSeconds) * time.Second
}

// SystemTick returns the system-tick period, or zero when disabled.
func (c CoreConfig) SystemTick() time.Duration {
	return time.Duration(c.SystemTickSeconds) * time.Second
}

// GateFileConfig points at the Gate's YAML document and controls hot reload.
type GateFileConfig struct {
	ConfigPath string `json:"config_path"`
	Watch      bool   `json:"watch"`
}

// NociceptionConfig tunes the two burst detectors of the pain subsystem.
type NociceptionConfig struct {
	WindowSeconds      float64 `json:"window_seconds"`
	BurstThreshold     int     `json:"burst_threshold"`
	CooldownSeconds    float64 `json:"cooldown_seconds"`
	DropBurstThreshold uint64  `json:"drop_burst_threshold"`
}

// ReflexConfig bounds agent-suggested tuning.
type ReflexConfig struct {
	AllowAgentSuggestions  *bool    `json:"allow_agent_suggestions"` // default: true
	SuggestionTTLDefault   int      `json:"suggestion_ttl_default"`
	SuggestionCooldownSec  float64  `json:"suggestion_cooldown_sec"`
	AgentOverrideWhitelist []string `json:"agent_override_whitelist"`
}

// AgentSuggestionsAllowed returns true unless explicitly disabled.
func (c ReflexConfig) AgentSuggestionsAllowed() bool {
	if c.AllowAgentSuggestions == nil {
		return true
	}
	return *c.AllowAgentSuggestions
}

// GatewayConfig configures the HTTP/WS ingress adapter.
type GatewayConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// AgentConfig selects and configures the orchestrator strategy.
type AgentConfig struct {
	Strategy string         `json:"strategy"` // "echo" (default) | "reference"
	Model    ModelConfig    `json:"model"`
	MCP      MCPToolsConfig `json:"mcp"`
}

// ModelConfig configures the reference strategy's Speaker model.
type ModelConfig struct {
	APIKey    string `json:"api_key"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	BaseURL   string `json:"base_url,omitempty"`
}

// MCPToolsConfig configures the reference strategy's one tool source: an MCP
// server spawned over stdio.
type MCPToolsConfig struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// MemoryConfig configures the collaborating memory service client.
type MemoryConfig struct {
	Enabled         bool   `json:"enabled"`
	Dir             string `json:"dir"`
	EncryptEvidence bool   `json:"encrypt_evidence"`
	AgeKeyPath      string `json:"age_key_path"`
}

// SchedulesConfig configures the schedule-tick adapter.
type SchedulesConfig struct {
	Dir     string          `json:"dir"`
	Entries []ScheduleEntry `json:"entries"`
}

// ScheduleEntry is one static cron-driven SCHEDULE producer.
type ScheduleEntry struct {
	ID   string         `json:"id"`
	Cron string         `json:"cron"`
	Data map[string]any `json:"data,omitempty"`
}
