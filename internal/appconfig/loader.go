package appconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// standardizes away comments and trailing commas, unmarshals it into Config,
// and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before standardizing, since
	// templates live inside strings)
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the built-in configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Core.BusSize == 0 {
		cfg.Core.BusSize = 1024
	}
	if cfg.Core.InboxMaxSize == 0 {
		cfg.Core.InboxMaxSize = 256
	}
	if cfg.Core.MessageRouting == "" {
		cfg.Core.MessageRouting = "user"
	}
	if cfg.Core.DefaultSessionKey == "" {
		cfg.Core.DefaultSessionKey = "default"
	}
	if cfg.Core.SystemSessionKey == "" {
		cfg.Core.SystemSessionKey = "system"
	}
	if cfg.Core.IdleTTLSeconds == 0 {
		cfg.Core.IdleTTLSeconds = 1800
	}
	if cfg.Core.GCIntervalSeconds == 0 {
		cfg.Core.GCIntervalSeconds = 60
	}
	if cfg.Nociception.WindowSeconds == 0 {
		cfg.Nociception.WindowSeconds = 60
	}
	if cfg.Nociception.BurstThreshold == 0 {
		cfg.Nociception.BurstThreshold = 5
	}
	if cfg.Nociception.CooldownSeconds == 0 {
		cfg.Nociception.CooldownSeconds = 120
	}
	if cfg.Nociception.DropBurstThreshold == 0 {
		cfg.Nociception.DropBurstThreshold = 20
	}
	if cfg.Reflex.SuggestionTTLDefault == 0 {
		cfg.Reflex.SuggestionTTLDefault = 60
	}
	if cfg.Reflex.SuggestionCooldownSec == 0 {
		cfg.Reflex.SuggestionCooldownSec = 5
	}
	if len(cfg.Reflex.AgentOverrideWhitelist) == 0 {
		cfg.Reflex.AgentOverrideWhitelist = []string{"force_low_model"}
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18520
	}
	if cfg.Agent.Strategy == "" {
		cfg.Agent.Strategy = "echo"
	}
	if cfg.Agent.Model.MaxTokens == 0 {
		cfg.Agent.Model.MaxTokens = 4096
	}
	if cfg.Memory.Dir == "" {
		cfg.Memory.Dir = filepath.Join(GatewrightPath(), "memory")
	}
	if cfg.Memory.AgeKeyPath == "" {
		cfg.Memory.AgeKeyPath = filepath.Join(GatewrightPath(), ".age-key")
	}
	if cfg.Schedules.Dir == "" {
		cfg.Schedules.Dir = filepath.Join(GatewrightPath(), "schedules")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}
