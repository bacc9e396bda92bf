package appconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	content := `{
	// This is a JSONC comment
	"core": {
		"bus_size": 64,
		"inbox_max_size": 8,
		"message_routing": "default",
		"enable_system_fanout": true
	},
	"gateway": {
		"enabled": true,
		"host": "0.0.0.0",
		"port": 9999
	},
	"agent": {
		"strategy": "reference",
		"model": {
			"api_key": "${{ .Env.ANTHROPIC_API_KEY }}",
			"model": "claude-sonnet-4-6"
		}
	}
}`

	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "test-key-123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Core.BusSize != 64 {
		t.Errorf("expected bus_size 64, got %d", cfg.Core.BusSize)
	}
	if cfg.Core.InboxMaxSize != 8 {
		t.Errorf("expected inbox_max_size 8, got %d", cfg.Core.InboxMaxSize)
	}
	if cfg.Core.MessageRouting != "default" {
		t.Errorf("expected message_routing default, got %s", cfg.Core.MessageRouting)
	}
	if !cfg.Core.EnableSystemFanout {
		t.Error("expected enable_system_fanout true")
	}
	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Gateway.Port)
	}
	if cfg.Agent.Strategy != "reference" {
		t.Errorf("expected strategy reference, got %s", cfg.Agent.Strategy)
	}
	if cfg.Agent.Model.APIKey != "test-key-123" {
		t.Errorf("expected api_key test-key-123, got %s", cfg.Agent.Model.APIKey)
	}
	if cfg.Agent.Model.MaxTokens != 4096 {
		t.Errorf("expected default max_tokens 4096, got %d", cfg.Agent.Model.MaxTokens)
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `{}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Core.BusSize != 1024 {
		t.Errorf("expected default bus_size 1024, got %d", cfg.Core.BusSize)
	}
	if cfg.Core.InboxMaxSize != 256 {
		t.Errorf("expected default inbox_max_size 256, got %d", cfg.Core.InboxMaxSize)
	}
	if cfg.Core.SystemSessionKey != "system" {
		t.Errorf("expected default system_session_key system, got %s", cfg.Core.SystemSessionKey)
	}
	if cfg.Core.DefaultSessionKey != "default" {
		t.Errorf("expected default default_session_key default, got %s", cfg.Core.DefaultSessionKey)
	}
	if cfg.Gateway.Port != 18520 {
		t.Errorf("expected default port 18520, got %d", cfg.Gateway.Port)
	}
	if cfg.Agent.Strategy != "echo" {
		t.Errorf("expected default strategy echo, got %s", cfg.Agent.Strategy)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log_level info, got %q", cfg.LogLevel)
	}
	if !cfg.Reflex.AgentSuggestionsAllowed() {
		t.Error("expected agent suggestions allowed by default")
	}
	if len(cfg.Reflex.AgentOverrideWhitelist) != 1 || cfg.Reflex.AgentOverrideWhitelist[0] != "force_low_model" {
		t.Errorf("expected default whitelist [force_low_model], got %v", cfg.Reflex.AgentOverrideWhitelist)
	}
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_KEY", "my-secret")
	result := expandEnvTemplates(`{"key": "${{ .Env.TEST_KEY }}"}`)
	expected := `{"key": "my-secret"}`
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}

func TestGatewrightPath_EnvOverride(t *testing.T) {
	t.Setenv("GATEWRIGHT_PATH", "/tmp/custom-gatewright")

	got := GatewrightPath()
	want := "/tmp/custom-gatewright"
	if got != want {
		t.Errorf("GatewrightPath() = %q, want %q", got, want)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("GATEWRIGHT_PATH", "/tmp/test-gatewright")

	got := ConfigPath()
	want := "/tmp/test-gatewright/config.jsonc"
	if got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}
