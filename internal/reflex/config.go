// Package reflex implements the reflex controller: a narrow, whitelisted
// channel by which the Agent Orchestrator can nudge Gate overrides
// (currently just force_low_model) for a bounded, auto-reverting window,
// rate-limited by a cooldown.
package reflex

// Config bounds agent-suggested tuning: whether suggestions are accepted
// at all, the default TTL window, the reapplication cooldown, and which
// override keys an agent may touch. The TTL upper bound is not part of
// Config: the Controller clamps every TTL to [1, 3600] seconds.
type Config struct {
	AllowAgentSuggestions  bool
	SuggestionTTLDefault   int
	SuggestionCooldownSec  float64
	AgentOverrideWhitelist []string
}

// DefaultConfig allows suggestions for force_low_model only, 60s TTL, 5s
// cooldown.
func DefaultConfig() Config {
	return Config{
		AllowAgentSuggestions:  true,
		SuggestionTTLDefault:   60,
		SuggestionCooldownSec:  5,
		AgentOverrideWhitelist: []string{"force_low_model"},
	}
}

func (c Config) allows(key string) bool {
	for _, k := range c.AgentOverrideWhitelist {
		if k == key {
			return true
		}
	}
	return false
}
