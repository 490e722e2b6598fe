// ABOUTME: Configuration loading and parsing for chatline-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chatline-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Agent     AgentConfig     `yaml:"agent"`
	Messaging MessagingConfig `yaml:"messaging"`
	CRM       CRMConfig       `yaml:"crm"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig holds the conversational agent connection and timing settings
type AgentConfig struct {
	WSURL   string `yaml:"ws_url"`
	AgentID string `yaml:"agent_id"`
	APIKey  string `yaml:"api_key"`

	IdleTimeout  time.Duration `yaml:"-"`
	ReplyTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw  string `yaml:"idle_timeout"`
	ReplyTimeoutRaw string `yaml:"reply_timeout"`
}

// MessagingConfig holds the outbound messaging provider configuration
type MessagingConfig struct {
	AccountSID    string `yaml:"account_sid"`
	AuthToken     string `yaml:"auth_token"`
	FromNumber    string `yaml:"from_number"`
	APIBaseURL    string `yaml:"api_base_url"`
	FallbackReply string `yaml:"fallback_reply"`
}

// CRMConfig holds the CRM contact-sync configuration
type CRMConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`

	PollInterval time.Duration `yaml:"-"`

	PollIntervalRaw string `yaml:"poll_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Agent.WSURL == "" {
		return fmt.Errorf("agent.ws_url is required")
	}
	if c.Agent.AgentID == "" {
		return fmt.Errorf("agent.agent_id is required")
	}

	if c.CRM.Enabled {
		if c.CRM.BaseURL == "" {
			return fmt.Errorf("crm.base_url is required when crm is enabled")
		}
		if c.CRM.AccessToken == "" {
			return fmt.Errorf("crm.access_token is required when crm is enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.IdleTimeoutRaw != "" {
		cfg.Agent.IdleTimeout, err = time.ParseDuration(cfg.Agent.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Agent.IdleTimeoutRaw, err)
		}
	}

	if cfg.Agent.ReplyTimeoutRaw != "" {
		cfg.Agent.ReplyTimeout, err = time.ParseDuration(cfg.Agent.ReplyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing reply_timeout %q: %w", cfg.Agent.ReplyTimeoutRaw, err)
		}
	}

	if cfg.CRM.PollIntervalRaw != "" {
		cfg.CRM.PollInterval, err = time.ParseDuration(cfg.CRM.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.CRM.PollIntervalRaw, err)
		}
	}

	return nil
}
