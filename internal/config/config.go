// Package config holds the sentinel daemon configuration: YAML file with
// environment-variable substitution, hot reload, and zero-config defaults.
package config

import (
	"time"
)

// Config is the top-level sentinel configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Forensics    ForensicsConfig    `yaml:"forensics"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Alerts       AlertsConfig       `yaml:"alerts"`

	// PolicyPath points at the YAML policy document installed as the global
	// scope at startup and re-installed on change.
	PolicyPath string `yaml:"policy_path"`
}

// ServerConfig configures the management API.
type ServerConfig struct {
	Port     int        `yaml:"port"`
	LogLevel string     `yaml:"log_level"`
	CORS     bool       `yaml:"cors"`
	Auth     AuthConfig `yaml:"auth"`
}

// AuthConfig configures bearer-token authentication for the API.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Tokens  []TokenConfig `yaml:"tokens"`
}

// TokenConfig is one statically configured API token.
type TokenConfig struct {
	Name   string `yaml:"name"`
	Secret string `yaml:"secret"`
	Role   string `yaml:"role"` // viewer, operator, admin
}

// PipelineConfig tunes the per-session evaluation pipeline.
type PipelineConfig struct {
	DOMTimeout        time.Duration `yaml:"dom_timeout"`
	AnalyzerTimeout   time.Duration `yaml:"analyzer_timeout"`
	ScreenshotTimeout time.Duration `yaml:"screenshot_timeout"`
}

// ForensicsConfig configures the snapshot ring and the durable archive.
type ForensicsConfig struct {
	Capacity    int    `yaml:"capacity"`
	ArchivePath string `yaml:"archive_path"` // empty disables the archive
}

// ConfirmationConfig governs pending operator confirmations.
type ConfirmationConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	TimeoutEffect string        `yaml:"timeout_effect"` // "deny" or "allow"
}

// AlertsConfig configures outbound alert channels.
type AlertsConfig struct {
	Slack   SlackAlertConfig   `yaml:"slack"`
	Webhook WebhookAlertConfig `yaml:"webhook"`
}

type SlackAlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type WebhookAlertConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     7717,
			LogLevel: "info",
			CORS:     false,
		},
		Pipeline: PipelineConfig{
			DOMTimeout:        2 * time.Second,
			AnalyzerTimeout:   2 * time.Second,
			ScreenshotTimeout: 3 * time.Second,
		},
		Forensics: ForensicsConfig{
			Capacity:    120,
			ArchivePath: "./sentinel-forensics.db",
		},
		Confirmation: ConfirmationConfig{
			Timeout:       60 * time.Second,
			TimeoutEffect: "deny",
		},
	}
}
