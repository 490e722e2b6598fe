// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

agent:
  ws_url: "wss://api.example.com/v1/convai/conversation"
  agent_id: "agent-test"
  api_key: "key-test"
  idle_timeout: "90s"
  reply_timeout: "20s"

messaging:
  account_sid: "AC42"
  auth_token: "secret"
  from_number: "+15550001111"
  fallback_reply: "Be right back."

crm:
  enabled: true
  base_url: "https://api.hubapi.com"
  access_token: "hs-token"
  poll_interval: "5m"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}

	if cfg.Agent.WSURL != "wss://api.example.com/v1/convai/conversation" {
		t.Errorf("Agent.WSURL = %q", cfg.Agent.WSURL)
	}
	if cfg.Agent.IdleTimeout != 90*time.Second {
		t.Errorf("Agent.IdleTimeout = %v, want 90s", cfg.Agent.IdleTimeout)
	}
	if cfg.Agent.ReplyTimeout != 20*time.Second {
		t.Errorf("Agent.ReplyTimeout = %v, want 20s", cfg.Agent.ReplyTimeout)
	}

	if cfg.Messaging.AccountSID != "AC42" {
		t.Errorf("Messaging.AccountSID = %q", cfg.Messaging.AccountSID)
	}
	if cfg.Messaging.FallbackReply != "Be right back." {
		t.Errorf("Messaging.FallbackReply = %q", cfg.Messaging.FallbackReply)
	}

	if !cfg.CRM.Enabled {
		t.Error("CRM.Enabled = false, want true")
	}
	if cfg.CRM.PollInterval != 5*time.Minute {
		t.Errorf("CRM.PollInterval = %v, want 5m", cfg.CRM.PollInterval)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_AGENT_KEY", "expanded-key")
	t.Setenv("TEST_AGENT_ID", "expanded-id")

	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
agent:
  ws_url: "wss://api.example.com/convai"
  agent_id: "${TEST_AGENT_ID}"
  api_key: "${TEST_AGENT_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.APIKey != "expanded-key" {
		t.Errorf("Agent.APIKey = %q, want expanded value", cfg.Agent.APIKey)
	}
	if cfg.Agent.AgentID != "expanded-id" {
		t.Errorf("Agent.AgentID = %q, want expanded value", cfg.Agent.AgentID)
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
agent:
  ws_url: "wss://api.example.com/convai"
  agent_id: "agent-test"
  api_key: "${DEFINITELY_NOT_SET_VAR_12345}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.APIKey != "" {
		t.Errorf("Agent.APIKey = %q, want empty", cfg.Agent.APIKey)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
agent:
  ws_url: "wss://api.example.com/convai"
  agent_id: "agent-test"
  idle_timeout: "ninety seconds"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "idle_timeout") {
		t.Errorf("error %q does not name the bad field", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	configPath := writeConfig(t, "server: [not: valid")
	if _, err := Load(configPath); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:   ServerConfig{HTTPAddr: ":8080"},
			Database: DatabaseConfig{Path: "./db"},
			Agent: AgentConfig{
				WSURL:   "wss://api.example.com/convai",
				AgentID: "agent-1",
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		cfg := base()
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing http addr", func(t *testing.T) {
		cfg := base()
		cfg.Server.HTTPAddr = ""
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "http_addr") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("missing database path", func(t *testing.T) {
		cfg := base()
		cfg.Database.Path = ""
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "database.path") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("missing agent url", func(t *testing.T) {
		cfg := base()
		cfg.Agent.WSURL = ""
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ws_url") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("missing agent id", func(t *testing.T) {
		cfg := base()
		cfg.Agent.AgentID = ""
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "agent_id") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("crm enabled without credentials", func(t *testing.T) {
		cfg := base()
		cfg.CRM.Enabled = true
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "crm.base_url") {
			t.Errorf("error = %v", err)
		}
		cfg.CRM.BaseURL = "https://api.hubapi.com"
		if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "crm.access_token") {
			t.Errorf("error = %v", err)
		}
	})
}
