// ABOUTME: Configuration loading and parsing for botemulator
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete botemulator configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bot     BotConfig     `yaml:"bot"`
	History HistoryConfig `yaml:"history"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the callback server configuration. ServiceURL is the
// public-facing URL handed to bots as the activity serviceUrl; when empty
// it is derived from the listen address.
type ServerConfig struct {
	HTTPAddr   string `yaml:"http_addr"`
	ServiceURL string `yaml:"service_url"`
}

// BotConfig holds the default bot endpoint configuration
type BotConfig struct {
	Endpoint    string `yaml:"endpoint"`
	AppID       string `yaml:"app_id"`
	AppPassword string `yaml:"app_password"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// HistoryConfig holds the activity ledger configuration
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds callback server authentication configuration. When a
// secret is set, bots must present a Bearer token on callback requests.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{HTTPAddr: "localhost:6728"},
		History: HistoryConfig{Path: "botemulator.db"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.History.Path == "" {
		return fmt.Errorf("history.path is required")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	if (c.Bot.AppID == "") != (c.Bot.AppPassword == "") {
		return fmt.Errorf("bot.app_id and bot.app_password must be set together")
	}
	return nil
}

// ServiceURL returns the configured public URL, falling back to the listen
// address.
func (c *Config) ServiceURL() string {
	if c.Server.ServiceURL != "" {
		return c.Server.ServiceURL
	}
	return "http://" + c.Server.HTTPAddr
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Bot.TimeoutRaw != "" {
		cfg.Bot.Timeout, err = time.ParseDuration(cfg.Bot.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing bot.timeout %q: %w", cfg.Bot.TimeoutRaw, err)
		}
	}

	return nil
}
